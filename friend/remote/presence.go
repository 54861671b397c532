package remote

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/squestapp/squest/server/model"
)

// Presence maintains users.is_online and users.last_online, which feed
// View.LastActive. Presence changes do not bump dirty bits; friends see
// the new value on their next reload.
type Presence struct {
	store *Store
}

func (s *Store) Presence() *Presence {
	return &Presence{store: s}
}

// Touch marks the user online as of now.
func (p *Presence) Touch(ctx context.Context, userID uuid.UUID) error {
	return p.store.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{"is_online": true, "last_online": time.Now()}).Error
}

// SetOffline marks the user offline, keeping last_online.
func (p *Presence) SetOffline(ctx context.Context, userID uuid.UUID) error {
	return p.store.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Update("is_online", false).Error
}

// SweepIdle marks users offline whose last activity is older than idle.
func (p *Presence) SweepIdle(ctx context.Context, idle time.Duration) (int64, error) {
	res := p.store.db.WithContext(ctx).Model(&model.User{}).
		Where("is_online = ? AND last_online < ?", true, time.Now().Add(-idle)).
		Update("is_online", false)
	return res.RowsAffected, res.Error
}
