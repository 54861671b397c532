package rest

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/squestapp/squest/server/cache"
	"github.com/squestapp/squest/server/config"
	"github.com/squestapp/squest/server/friend"
	"github.com/squestapp/squest/server/hook"
	mw "github.com/squestapp/squest/server/middleware"
	"github.com/squestapp/squest/server/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const bcryptCost = 12

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.]+$`)

// PresenceTracker records users going online and offline.
type PresenceTracker interface {
	Touch(ctx context.Context, userID uuid.UUID) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
}

// AuthHandler handles authentication REST endpoints.
type AuthHandler struct {
	db       *gorm.DB
	cache    cache.Cache
	sec      config.SecurityConfig
	presence PresenceTracker
	friends  *friend.Registry
	hooks    *hook.Center
	logger   *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. presence, friends and hooks may
// be nil.
func NewAuthHandler(db *gorm.DB, c cache.Cache, sec config.SecurityConfig, presence PresenceTracker,
	friends *friend.Registry, hooks *hook.Center, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, cache: c, sec: sec, presence: presence, friends: friends, hooks: hooks, logger: logger}
}

type registerRequest struct {
	Username      string `json:"username" binding:"required,min=3,max=32"`
	Email         string `json:"email" binding:"omitempty,email,max=128"`
	Password      string `json:"password" binding:"required,min=6,max=64"`
	DisplayedName string `json:"displayed_name" binding:"omitempty,max=50"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required,max=33"`
	Password string `json:"password" binding:"required,max=64"`
}

// Register handles POST /api/auth/register. The new user is signed in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	username := friend.NormalizeUsername(req.Username)
	if len(username) < 3 || !usernamePattern.MatchString(username) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username may only contain letters, digits, '_' and '.'"})
		return
	}
	displayed := strings.TrimSpace(req.DisplayedName)
	if displayed == "" {
		displayed = username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	user := model.User{
		ID:            uuid.New(),
		Username:      username,
		Email:         strings.TrimSpace(req.Email),
		PasswordHash:  string(hash),
		DisplayedName: displayed,
		Level:         1,
		LastOnline:    time.Now(),
	}
	err = h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&model.UserData{UserID: user.ID, FriendsListDirtyBit: uuid.New()}).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		} else {
			h.logger.Error("register failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}
	h.signIn(c, &user, http.StatusCreated)
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	var user model.User
	err := h.db.WithContext(c.Request.Context()).
		Where("username = ?", friend.NormalizeUsername(req.Username)).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	h.signIn(c, &user, http.StatusOK)
}

func (h *AuthHandler) signIn(c *gin.Context, user *model.User, status int) {
	token, err := mw.GenerateToken(user.ID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, mw.SessionKey(token), user.ID.String(), h.sec.JWTTTLH); err != nil {
		h.logger.Error("store session failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
		return
	}

	if h.presence != nil {
		if err := h.presence.Touch(ctx, user.ID); err != nil {
			h.logger.Warn("mark online failed", zap.String("user_id", user.ID.String()), zap.Error(err))
		}
	}
	h.fire(c.Request.Context(), hook.UserLogin, user.ID)

	c.JSON(status, gin.H{
		"token": token,
		"user":  user,
	})
}

// Logout handles POST /api/auth/logout. It ends the session, marks the
// user offline and wipes the user's friend list cache.
func (h *AuthHandler) Logout(c *gin.Context) {
	userID := mw.GetUserID(c)
	token := mw.GetToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(token))

	if h.presence != nil {
		if err := h.presence.SetOffline(ctx, userID); err != nil {
			h.logger.Warn("mark offline failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	if h.friends != nil {
		if err := h.friends.Remove(ctx, userID, true); err != nil {
			h.logger.Warn("clear friend cache failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	h.fire(ctx, hook.UserLogout, userID)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	userID := mw.GetUserID(c)
	if userID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(mw.GetToken(c)))

	newToken, err := mw.GenerateToken(userID, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	_ = h.cache.Set(ctx, mw.SessionKey(newToken), userID.String(), h.sec.JWTTTLH)

	c.JSON(http.StatusOK, gin.H{"token": newToken})
}

func (h *AuthHandler) fire(ctx context.Context, event string, userID uuid.UUID) {
	if _, err := h.hooks.Trigger(ctx, event, hook.UserEvent{UserID: userID}); err != nil {
		h.logger.Debug("hook chain interrupted", zap.String("event", event), zap.Error(err))
	}
}
