// Package localdb implements friend.LocalCache on an embedded SQL database
// through gorm. One database may hold the caches of several devices; each
// device owns its rows by DeviceID.
package localdb

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/squestapp/squest/server/friend"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// List types stored in CachedFriend.ListType.
const (
	ListFriends  = "friend"
	ListRequests = "request"
)

// CachedFriend is one cached row of either list.
type CachedFriend struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	DeviceID   string    `gorm:"size:64;index:idx_cached_friend_device;not null"`
	ListType   string    `gorm:"size:16;not null"`
	Position   int       `gorm:"not null"`
	UserID     uuid.UUID `gorm:"type:varchar(36)"`
	Name       string    `gorm:"size:64"`
	Username   string    `gorm:"size:40"`
	LastActive string    `gorm:"size:64"`
	OnQuest    string    `gorm:"size:128"`
	Initials   string    `gorm:"size:8"`
	Level      int
	AvatarURL  string `gorm:"size:512"`
	Direction  string `gorm:"size:16"`
}

// SyncMeta is the single sync marker row of a device.
type SyncMeta struct {
	DeviceID string    `gorm:"primaryKey;size:64"`
	UserID   uuid.UUID `gorm:"type:varchar(36)"`
	DirtyBit uuid.UUID `gorm:"type:varchar(36)"`
	SyncedAt time.Time
}

func (SyncMeta) TableName() string { return "sync_meta" }

// Migrate creates the cache tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&CachedFriend{}, &SyncMeta{})
}

// Cache is the device cache of DeviceID.
type Cache struct {
	db       *gorm.DB
	deviceID string
}

func New(db *gorm.DB, deviceID string) *Cache {
	return &Cache{db: db, deviceID: deviceID}
}

var _ friend.LocalCache = (*Cache)(nil)

func (c *Cache) Meta(ctx context.Context) (friend.Meta, error) {
	var m SyncMeta
	err := c.db.WithContext(ctx).Where("device_id = ?", c.deviceID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return friend.Meta{}, nil
	}
	if err != nil {
		return friend.Meta{}, err
	}
	return friend.Meta{UserID: m.UserID, DirtyBit: m.DirtyBit}, nil
}

// Snapshot reads meta and lists in one transaction so they always match.
func (c *Cache) Snapshot(ctx context.Context) (friend.Snapshot, error) {
	var snap friend.Snapshot
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m SyncMeta
		err := tx.Where("device_id = ?", c.deviceID).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var rows []CachedFriend
		if err := tx.Where("device_id = ?", c.deviceID).
			Order("list_type, position").
			Find(&rows).Error; err != nil {
			return err
		}
		snap.Meta = friend.Meta{UserID: m.UserID, DirtyBit: m.DirtyBit}
		snap.SyncedAt = m.SyncedAt
		snap.Friends, snap.Requests = []friend.View{}, []friend.View{}
		for _, r := range rows {
			v := toView(r)
			if r.ListType == ListRequests {
				snap.Requests = append(snap.Requests, v)
			} else {
				snap.Friends = append(snap.Friends, v)
			}
		}
		return nil
	})
	return snap, err
}

// Replace clears the device's rows and bulk-inserts the snapshot in one
// transaction. On error nothing changes.
func (c *Cache) Replace(ctx context.Context, snap friend.Snapshot) error {
	rows := make([]CachedFriend, 0, len(snap.Friends)+len(snap.Requests))
	for i, v := range snap.Friends {
		rows = append(rows, c.toRow(v, ListFriends, i))
	}
	for i, v := range snap.Requests {
		rows = append(rows, c.toRow(v, ListRequests, i))
	}
	syncedAt := snap.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}

	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_id = ?", c.deviceID).Delete(&CachedFriend{}).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 100).Error; err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "dirty_bit", "synced_at"}),
		}).Create(&SyncMeta{
			DeviceID: c.deviceID,
			UserID:   snap.UserID,
			DirtyBit: snap.DirtyBit,
			SyncedAt: syncedAt,
		}).Error
	})
}

func (c *Cache) Clear(ctx context.Context) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("device_id = ?", c.deviceID).Delete(&CachedFriend{}).Error; err != nil {
			return err
		}
		return tx.Where("device_id = ?", c.deviceID).Delete(&SyncMeta{}).Error
	})
}

func (c *Cache) toRow(v friend.View, list string, pos int) CachedFriend {
	return CachedFriend{
		DeviceID:   c.deviceID,
		ListType:   list,
		Position:   pos,
		UserID:     v.UserID,
		Name:       v.Name,
		Username:   v.Username,
		LastActive: v.LastActive,
		OnQuest:    v.OnQuest,
		Initials:   v.Initials,
		Level:      v.Level,
		AvatarURL:  v.AvatarURL,
		Direction:  string(v.Direction),
	}
}

func toView(r CachedFriend) friend.View {
	return friend.View{
		UserID:     r.UserID,
		Name:       r.Name,
		Username:   r.Username,
		LastActive: r.LastActive,
		OnQuest:    r.OnQuest,
		Initials:   r.Initials,
		Level:      r.Level,
		AvatarURL:  r.AvatarURL,
		Direction:  friend.Direction(r.Direction),
	}
}
