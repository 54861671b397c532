package rest

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/squestapp/squest/server/friend"
	mw "github.com/squestapp/squest/server/middleware"
	"go.uber.org/zap"
)

// FriendHandler exposes the signed-in user's friend screen. Every
// mutation answers with the session's state after the operation.
type FriendHandler struct {
	reg    *friend.Registry
	svc    *friend.Service
	logger *zap.Logger
}

func NewFriendHandler(reg *friend.Registry, svc *friend.Service, logger *zap.Logger) *FriendHandler {
	return &FriendHandler{reg: reg, svc: svc, logger: logger}
}

func (h *FriendHandler) session(c *gin.Context) (*friend.Session, bool) {
	s, err := h.reg.GetOrCreate(mw.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return s, true
}

// List handles GET /api/friends?first_run=bool. It reconciles the device
// cache with the store and returns the resulting state.
func (h *FriendHandler) List(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	firstRun, _ := strconv.ParseBool(c.Query("first_run"))
	res, err := s.Reconcile(c.Request.Context(), firstRun)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":    s.State(),
		"reloaded": res.Reloaded,
	})
}

// Search handles GET /api/friends/search?q=&limit=.
func (h *FriendHandler) Search(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	users, err := h.svc.SearchUsers(c.Request.Context(), mw.GetUserID(c), c.Query("q"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type sendRequestBody struct {
	Username string `json:"username" binding:"required,max=33"`
}

// SendRequest handles POST /api/friends/requests.
func (h *FriendHandler) SendRequest(c *gin.Context) {
	var req sendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	to, err := s.SendRequest(c.Request.Context(), req.Username)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": to, "state": s.State()})
}

// Confirm handles POST /api/friends/requests/:user_id/confirm.
func (h *FriendHandler) Confirm(c *gin.Context) {
	h.respond(c, (*friend.Session).ConfirmRequest)
}

// Deny handles POST /api/friends/requests/:user_id/deny.
func (h *FriendHandler) Deny(c *gin.Context) {
	h.respond(c, (*friend.Session).DenyRequest)
}

// Unfriend handles DELETE /api/friends/:user_id.
func (h *FriendHandler) Unfriend(c *gin.Context) {
	h.respond(c, (*friend.Session).Unfriend)
}

func (h *FriendHandler) respond(c *gin.Context, op func(*friend.Session, context.Context, uuid.UUID) error) {
	other, ok := uuidParam(c, "user_id")
	if !ok {
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	if err := op(s, c.Request.Context(), other); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.State()})
}

type filterBody struct {
	Filter friend.Filter `json:"filter" binding:"required"`
}

// SetFilter handles PUT /api/friends/filter.
func (h *FriendHandler) SetFilter(c *gin.Context) {
	var req filterBody
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if !req.Filter.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filter must be friends or requests"})
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.SelectFilter(req.Filter)})
}
