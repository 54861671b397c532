package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Toucher marks a user as online now.
type Toucher interface {
	Touch(ctx context.Context, userID uuid.UUID) error
}

// Presence marks the signed-in user online, at most once per `every` per
// user. It must run after Auth.
func Presence(t Toucher, every time.Duration, log *zap.Logger) gin.HandlerFunc {
	var mu sync.Mutex
	last := make(map[uuid.UUID]time.Time)
	return func(c *gin.Context) {
		uid := GetUserID(c)
		if uid == uuid.Nil {
			c.Next()
			return
		}
		now := time.Now()
		mu.Lock()
		due := now.Sub(last[uid]) >= every
		if due {
			last[uid] = now
		}
		mu.Unlock()
		if due {
			if err := t.Touch(c.Request.Context(), uid); err != nil {
				log.Warn("presence touch failed", zap.String("user_id", uid.String()), zap.Error(err))
				mu.Lock()
				delete(last, uid)
				mu.Unlock()
			}
		}
		c.Next()
	}
}
