package quest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/squestapp/squest/server/apperr"
	"github.com/squestapp/squest/server/hook"
	"github.com/squestapp/squest/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUnknownQuest    = apperr.NotFound("quest not found")
	ErrQuestInProgress = apperr.FailedPrecondition("another quest is in progress")
	ErrNotInProgress   = apperr.FailedPrecondition("quest is not in progress")
	ErrUserNotFound    = apperr.NotFound("user not found")
)

// FriendGraph lets the service invalidate friends' lists, which show the
// name of the quest a friend is on.
type FriendGraph interface {
	AcceptedFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	BumpDirtyBits(ctx context.Context, userIDs ...uuid.UUID) error
}

// Board is a user's view of the catalog.
type Board struct {
	InProgress int        `json:"in_progress"` // 0 = none
	StartedAt  *time.Time `json:"started_at,omitempty"`
	Quests     []Quest    `json:"quests"`
}

// Reward is what a completed quest granted.
type Reward struct {
	QuestID   int   `json:"quest_id"`
	XP        int   `json:"xp"`
	Gold      int   `json:"gold"`
	TotalXP   int64 `json:"total_xp"`
	TotalGold int64 `json:"total_gold"`
	Level     int   `json:"level"`
	LeveledUp bool  `json:"leveled_up"`
}

// Service tracks quest progress per user.
type Service struct {
	db      *gorm.DB
	catalog *Catalog
	friends FriendGraph
	board   *Leaderboard
	hooks   *hook.Center
	logger  *zap.Logger
}

// NewService creates a Service. friends, board and hooks may be nil.
func NewService(db *gorm.DB, catalog *Catalog, friends FriendGraph, board *Leaderboard, hooks *hook.Center, logger *zap.Logger) *Service {
	return &Service{db: db, catalog: catalog, friends: friends, board: board, hooks: hooks, logger: logger}
}

func (svc *Service) Catalog() *Catalog { return svc.catalog }

// Board returns the sorted catalog and the user's quest in progress.
func (svc *Service) Board(ctx context.Context, userID uuid.UUID) (Board, error) {
	var rows []model.UserData
	err := svc.db.WithContext(ctx).
		Where("user_id = ?", userID).Limit(1).Find(&rows).Error
	if err != nil {
		return Board{}, err
	}
	b := Board{}
	if len(rows) > 0 && rows[0].QuestIDInProgress > 0 {
		b.InProgress = rows[0].QuestIDInProgress
		b.StartedAt = rows[0].QuestStartedAt
	}
	b.Quests = svc.catalog.Sorted(b.InProgress)
	return b, nil
}

// Start marks questID as the user's quest in progress.
func (svc *Service) Start(ctx context.Context, userID uuid.UUID, questID int) error {
	q, ok := svc.catalog.Get(questID)
	if !ok {
		return ErrUnknownQuest
	}
	now := time.Now()
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.UserData{}).
			Where("user_id = ? AND quest_id_in_progress = 0", userID).
			Updates(map[string]interface{}{
				"quest_id_in_progress": questID,
				"quest_started_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&model.UserData{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return ErrQuestInProgress
			}
			if err := tx.Create(&model.UserData{
				UserID:              userID,
				FriendsListDirtyBit: uuid.New(),
				QuestIDInProgress:   questID,
				QuestStartedAt:      &now,
			}).Error; err != nil {
				return err
			}
		}
		return tx.Create(&model.QuestLog{
			UserID:    userID,
			QuestID:   questID,
			Outcome:   model.QuestInProgress,
			StartedAt: now,
		}).Error
	})
	if err != nil {
		return err
	}

	svc.logger.Info("quest started",
		zap.String("user_id", userID.String()), zap.Int("quest_id", questID))
	svc.touchFriends(ctx, userID)
	svc.fire(ctx, hook.QuestStarted, hook.QuestEvent{UserID: userID, QuestID: questID, QuestName: q.Name})
	return nil
}

// Complete finishes the quest in progress and grants its rewards.
func (svc *Service) Complete(ctx context.Context, userID uuid.UUID, questID int) (Reward, error) {
	q, ok := svc.catalog.Get(questID)
	if !ok {
		return Reward{}, ErrUnknownQuest
	}
	reward := Reward{QuestID: questID, XP: q.XPReward, Gold: q.GoldReward}
	var prevLevel int
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := svc.finish(tx, userID, questID, model.QuestCompleted, q); err != nil {
			return err
		}
		res := tx.Model(&model.User{}).Where("id = ?", userID).
			Updates(map[string]interface{}{
				"xp":   gorm.Expr("xp + ?", q.XPReward),
				"gold": gorm.Expr("gold + ?", q.GoldReward),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		var u model.User
		if err := tx.Select("id", "xp", "gold", "level").First(&u, "id = ?", userID).Error; err != nil {
			return err
		}
		prevLevel = u.Level
		reward.TotalXP, reward.TotalGold = u.XP, u.Gold
		reward.Level = LevelForXP(u.XP)
		if reward.Level != u.Level {
			return tx.Model(&model.User{}).Where("id = ?", userID).Update("level", reward.Level).Error
		}
		return nil
	})
	if err != nil {
		return Reward{}, err
	}
	reward.LeveledUp = reward.Level > prevLevel

	svc.logger.Info("quest completed",
		zap.String("user_id", userID.String()),
		zap.Int("quest_id", questID),
		zap.Int("xp", q.XPReward),
		zap.Int("level", reward.Level))
	if svc.board != nil {
		svc.board.Record(ctx, userID, reward.TotalXP)
	}
	// Level is shown in friends' lists too.
	svc.touchFriends(ctx, userID)
	ev := hook.QuestEvent{UserID: userID, QuestID: questID, QuestName: q.Name,
		XP: q.XPReward, Gold: q.GoldReward, Level: reward.Level}
	svc.fire(ctx, hook.QuestCompleted, ev)
	if reward.LeveledUp {
		svc.fire(ctx, hook.LevelUp, ev)
	}
	return reward, nil
}

// Cancel abandons the quest in progress without rewards.
func (svc *Service) Cancel(ctx context.Context, userID uuid.UUID, questID int) error {
	q, ok := svc.catalog.Get(questID)
	if !ok {
		return ErrUnknownQuest
	}
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return svc.finish(tx, userID, questID, model.QuestCancelled, Quest{})
	})
	if err != nil {
		return err
	}
	svc.logger.Info("quest cancelled",
		zap.String("user_id", userID.String()), zap.Int("quest_id", questID))
	svc.touchFriends(ctx, userID)
	svc.fire(ctx, hook.QuestCancelled, hook.QuestEvent{UserID: userID, QuestID: questID, QuestName: q.Name})
	return nil
}

// finish clears the in-progress marker if it is questID and closes the
// open log entry with outcome.
func (svc *Service) finish(tx *gorm.DB, userID uuid.UUID, questID int, outcome string, q Quest) error {
	res := tx.Model(&model.UserData{}).
		Where("user_id = ? AND quest_id_in_progress = ?", userID, questID).
		Updates(map[string]interface{}{
			"quest_id_in_progress": 0,
			"quest_started_at":     nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotInProgress
	}
	return tx.Model(&model.QuestLog{}).
		Where("user_id = ? AND quest_id = ? AND outcome = ?", userID, questID, model.QuestInProgress).
		Updates(map[string]interface{}{
			"outcome":      outcome,
			"xp_awarded":   q.XPReward,
			"gold_awarded": q.GoldReward,
			"finished_at":  time.Now(),
		}).Error
}

// History returns the user's quest log, newest first.
func (svc *Service) History(ctx context.Context, userID uuid.UUID, limit int) ([]model.QuestLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var logs []model.QuestLog
	err := svc.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// touchFriends bumps the dirty bits of userID's friends. Failures only
// delay their refresh, so they are logged.
func (svc *Service) touchFriends(ctx context.Context, userID uuid.UUID) {
	if svc.friends == nil {
		return
	}
	ids, err := svc.friends.AcceptedFriendIDs(ctx, userID)
	if err == nil && len(ids) > 0 {
		err = svc.friends.BumpDirtyBits(ctx, ids...)
	}
	if err != nil {
		svc.logger.Warn("invalidate friends' lists failed",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
}

func (svc *Service) fire(ctx context.Context, event string, ev hook.QuestEvent) {
	if _, err := svc.hooks.Trigger(ctx, event, ev); err != nil {
		svc.logger.Debug("hook chain interrupted", zap.String("event", event), zap.Error(err))
	}
}
