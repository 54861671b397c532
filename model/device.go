package model

import (
	"time"

	"github.com/google/uuid"
)

// Device is a push notification token registered by a user's phone.
type Device struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uuid.UUID `gorm:"type:varchar(36);index:idx_device_user;not null" json:"user_id"`
	Token     string    `gorm:"uniqueIndex;size:200;not null" json:"token"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
