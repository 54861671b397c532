package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/squestapp/squest/server/cache"
	"github.com/squestapp/squest/server/config"
)

const (
	UserIDKey = "user_id"
	TokenKey  = "token"
)

// SessionKey is the cache key marking a token as signed in.
func SessionKey(token string) string {
	return "session:" + token
}

// BearerToken returns the token of the Authorization header, or of the
// `token` query parameter for clients such as EventSource that cannot set
// headers.
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// Auth validates the bearer JWT and checks that its session is still in
// the cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := BearerToken(ctx)
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		uid, err := c.Get(cacheCtx, SessionKey(tokenStr))
		if err != nil || uid != claims.UserID.String() {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		ctx.Set(UserIDKey, claims.UserID)
		ctx.Set(TokenKey, tokenStr)
		ctx.Next()
	}
}

// GetUserID retrieves the authenticated user ID from the Gin context.
func GetUserID(c *gin.Context) uuid.UUID {
	if v, exists := c.Get(UserIDKey); exists {
		return v.(uuid.UUID)
	}
	return uuid.Nil
}

// GetToken retrieves the authenticated token from the Gin context.
func GetToken(c *gin.Context) string {
	return c.GetString(TokenKey)
}
