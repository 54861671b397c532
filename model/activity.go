package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Activity kinds shown in the user's activity log.
const (
	ActivityQuestStarted   = "quest_started"
	ActivityQuestCompleted = "quest_completed"
	ActivityQuestCancelled = "quest_cancelled"
	ActivityFriended       = "friended"
	ActivityLevelUp        = "level_up"
)

// Activity is one entry of a user's activity log.
type Activity struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID   string         `gorm:"size:36" json:"trace_id"`
	UserID    uuid.UUID      `gorm:"type:varchar(36);index:idx_activity_user;not null" json:"user_id"`
	Kind      string         `gorm:"size:32;not null" json:"kind"`
	Message   string         `gorm:"size:256" json:"message"`
	Detail    datatypes.JSON `json:"detail"`
	CreatedAt time.Time      `gorm:"index:idx_activity_created;autoCreateTime:milli" json:"created_at"`
}
