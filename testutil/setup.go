package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/squestapp/squest/server/cache"
	dbadapter "github.com/squestapp/squest/server/db"
	"github.com/squestapp/squest/server/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupTestDB creates a private in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.OpenMemory()
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates LocalCache and LocalPubSub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	cfg := cache.CacheConfig{} // empty RedisAddr → LocalCache
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	t.Cleanup(func() { _ = c.Close() })
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}

// Logger returns a development zap logger for tests.
func Logger() *zap.Logger {
	l, _ := zap.NewDevelopment()
	return l
}

// CreateUser inserts a user and its user_data row with a fresh dirty bit.
func CreateUser(t *testing.T, db *gorm.DB, username, displayedName string) *model.User {
	t.Helper()
	u := &model.User{
		ID:            uuid.New(),
		Username:      username,
		PasswordHash:  "x",
		DisplayedName: displayedName,
		LastOnline:    time.Now().Add(-time.Hour),
	}
	require.NoError(t, db.Create(u).Error, "CreateUser: user")
	require.NoError(t, db.Create(&model.UserData{
		UserID:              u.ID,
		FriendsListDirtyBit: uuid.New(),
	}).Error, "CreateUser: user_data")
	return u
}
