package model

import (
	"time"

	"github.com/google/uuid"
)

// UserData is the per-user side table. FriendsListDirtyBit is replaced
// with a fresh random token whenever the user's friend graph changes.
type UserData struct {
	UserID              uuid.UUID  `gorm:"type:varchar(36);primaryKey" json:"user_id"`
	FriendsListDirtyBit uuid.UUID  `gorm:"type:varchar(36)" json:"friends_list_dirty_bit"`
	QuestIDInProgress   int        `gorm:"default:0" json:"quest_id_in_progress"` // 0 = none
	QuestStartedAt      *time.Time `json:"quest_started_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
