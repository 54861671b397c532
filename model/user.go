package model

import (
	"time"

	"github.com/google/uuid"
)

// User is an authenticated Squest user.
// Username is stored lower-case so lookups are case-insensitive.
type User struct {
	ID            uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"id"`
	Username      string    `gorm:"uniqueIndex;size:32;not null" json:"username"`
	Email         string    `gorm:"size:128" json:"email"`
	PasswordHash  string    `gorm:"size:64;not null" json:"-"`
	DisplayedName string    `gorm:"size:50" json:"displayed_name"`
	AvatarURL     string    `gorm:"size:512" json:"avatar_url"`
	IsOnline      bool      `gorm:"default:false" json:"is_online"`
	LastOnline    time.Time `json:"last_online"`
	Level         int       `gorm:"default:1" json:"level"`
	XP            int64     `gorm:"default:0" json:"xp"`
	Gold          int64     `gorm:"default:0" json:"gold"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
