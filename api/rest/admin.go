package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/squestapp/squest/server/friend"
	"github.com/squestapp/squest/server/model"
	"github.com/squestapp/squest/server/quest"
	"github.com/squestapp/squest/server/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by the IPWhitelist middleware.
type AdminHandler struct {
	db     *gorm.DB
	reg    *friend.Registry
	board  *quest.Leaderboard
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(db *gorm.DB, reg *friend.Registry, board *quest.Leaderboard,
	sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, reg: reg, board: board, sched: sched, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	var online, users int64
	if err := h.db.WithContext(c.Request.Context()).Model(&model.User{}).Count(&users).Error; err != nil {
		respondError(c, err)
		return
	}
	h.db.WithContext(c.Request.Context()).Model(&model.User{}).Where("is_online = ?", true).Count(&online)
	c.JSON(http.StatusOK, gin.H{
		"users":           users,
		"online_users":    online,
		"friend_sessions": h.reg.Count(),
		"scheduler_tasks": h.sched.ListTickers(),
		"pending_delays":  len(h.sched.PendingDelays()),
	})
}

// ListSchedulerTasks returns every registered task with its run counters.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Status()})
}

// RefreshRanking rebuilds the leaderboard now.
// POST /api/admin/ranking/refresh
func (h *AdminHandler) RefreshRanking(c *gin.Context) {
	n, err := h.board.Refresh(c.Request.Context())
	if err != nil {
		h.logger.Error("ranking refresh failed", zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranked": n})
}
