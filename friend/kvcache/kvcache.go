// Package kvcache implements friend.LocalCache on the shared cache.Cache,
// one JSON document per device namespace.
package kvcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/squestapp/squest/server/cache"
	"github.com/squestapp/squest/server/friend"
)

// Cache stores the whole snapshot under a single key, so Replace is one
// atomic write.
type Cache struct {
	kv  cache.Cache
	key string
}

// New returns the cache for namespace ns.
func New(kv cache.Cache, ns string) *Cache {
	return &Cache{kv: kv, key: ns + ":friends_snapshot"}
}

// ForUser namespaces the cache by user id, for server-side sessions.
func ForUser(kv cache.Cache, userID uuid.UUID) *Cache {
	return New(kv, "device:"+userID.String())
}

var _ friend.LocalCache = (*Cache)(nil)

func (c *Cache) Meta(ctx context.Context) (friend.Meta, error) {
	snap, err := c.Snapshot(ctx)
	return snap.Meta, err
}

func (c *Cache) Snapshot(ctx context.Context) (friend.Snapshot, error) {
	raw, err := c.kv.Get(ctx, c.key)
	if cache.IsNotFound(err) {
		return friend.Snapshot{}, nil
	}
	if err != nil {
		return friend.Snapshot{}, err
	}
	var snap friend.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return friend.Snapshot{}, fmt.Errorf("kvcache: decode snapshot: %w", err)
	}
	return snap, nil
}

func (c *Cache) Replace(ctx context.Context, snap friend.Snapshot) error {
	if snap.Friends == nil {
		snap.Friends = []friend.View{}
	}
	if snap.Requests == nil {
		snap.Requests = []friend.View{}
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("kvcache: encode snapshot: %w", err)
	}
	return c.kv.Set(ctx, c.key, string(raw), 0)
}

func (c *Cache) Clear(ctx context.Context) error {
	return c.kv.Del(ctx, c.key)
}
