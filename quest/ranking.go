package quest

import (
	"context"

	"github.com/google/uuid"
	"github.com/squestapp/squest/server/cache"
	"github.com/squestapp/squest/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	rankingZKey = "ranking:xp"
	RankingTop  = 100
)

// RankEntry is one row of the XP leaderboard.
type RankEntry struct {
	Rank          int       `json:"rank"`
	UserID        uuid.UUID `json:"user_id"`
	Username      string    `json:"username"`
	DisplayedName string    `json:"displayed_name"`
	Level         int       `json:"level"`
	XP            int64     `json:"xp"`
}

// Leaderboard ranks users by XP. The ranking lives in a cache sorted set
// rebuilt from the database by Refresh; completed quests update it
// directly through Record.
type Leaderboard struct {
	db     *gorm.DB
	cache  cache.Cache
	logger *zap.Logger
}

func NewLeaderboard(db *gorm.DB, c cache.Cache, logger *zap.Logger) *Leaderboard {
	return &Leaderboard{db: db, cache: c, logger: logger}
}

// Record sets the user's score.
func (lb *Leaderboard) Record(ctx context.Context, userID uuid.UUID, xp int64) {
	if err := lb.cache.ZAdd(ctx, rankingZKey, float64(xp), userID.String()); err != nil {
		lb.logger.Warn("ranking update failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// Refresh rebuilds the sorted set from the top users in the database.
func (lb *Leaderboard) Refresh(ctx context.Context) (int, error) {
	var users []model.User
	err := lb.db.WithContext(ctx).
		Select("id", "xp").
		Order("xp DESC").
		Limit(RankingTop).
		Find(&users).Error
	if err != nil {
		return 0, err
	}
	if err := lb.cache.Del(ctx, rankingZKey); err != nil {
		return 0, err
	}
	for _, u := range users {
		if err := lb.cache.ZAdd(ctx, rankingZKey, float64(u.XP), u.ID.String()); err != nil {
			return 0, err
		}
	}
	return len(users), nil
}

// Top returns the best `limit` users. It falls back to the database when
// the sorted set is empty or unreadable.
func (lb *Leaderboard) Top(ctx context.Context, limit int) ([]RankEntry, error) {
	if limit <= 0 || limit > RankingTop {
		limit = 20
	}
	members, err := lb.cache.ZRevRange(ctx, rankingZKey, 0, int64(limit-1))
	if err == nil && len(members) > 0 {
		entries := make([]RankEntry, 0, len(members))
		for _, m := range members {
			id, err := uuid.Parse(m)
			if err != nil {
				continue
			}
			score, _ := lb.cache.ZScore(ctx, rankingZKey, m)
			entries = append(entries, RankEntry{UserID: id, XP: int64(score)})
		}
		if err := lb.enrich(ctx, entries); err != nil {
			return nil, err
		}
		for i := range entries {
			entries[i].Rank = i + 1
		}
		return entries, nil
	}

	var users []model.User
	err = lb.db.WithContext(ctx).
		Select("id", "username", "displayed_name", "level", "xp").
		Order("xp DESC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	entries := make([]RankEntry, len(users))
	for i, u := range users {
		entries[i] = RankEntry{
			Rank:          i + 1,
			UserID:        u.ID,
			Username:      u.Username,
			DisplayedName: u.DisplayedName,
			Level:         u.Level,
			XP:            u.XP,
		}
		lb.Record(ctx, u.ID, u.XP)
	}
	return entries, nil
}

func (lb *Leaderboard) enrich(ctx context.Context, entries []RankEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.UserID
	}
	var users []model.User
	err := lb.db.WithContext(ctx).
		Select("id", "username", "displayed_name", "level", "xp").
		Where("id IN ?", ids).
		Find(&users).Error
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for i := range entries {
		if u, ok := byID[entries[i].UserID]; ok {
			entries[i].Username = u.Username
			entries[i].DisplayedName = u.DisplayedName
			entries[i].Level = u.Level
		}
	}
	return nil
}
