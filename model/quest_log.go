package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestOutcome is the terminal state of a quest attempt.
type QuestOutcome = string

const (
	QuestInProgress QuestOutcome = "in_progress"
	QuestCompleted  QuestOutcome = "completed"
	QuestCancelled  QuestOutcome = "cancelled"
)

// QuestLog records one attempt of a side quest by a user.
type QuestLog struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uuid.UUID  `gorm:"type:varchar(36);index:idx_quest_log_user;not null" json:"user_id"`
	QuestID     int        `gorm:"not null" json:"quest_id"`
	Outcome     string     `gorm:"size:16;not null" json:"outcome"`
	XPAwarded   int        `json:"xp_awarded"`
	GoldAwarded int        `json:"gold_awarded"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
}
