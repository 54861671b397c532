package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/squestapp/squest/server/apperr"
	mw "github.com/squestapp/squest/server/middleware"
	"github.com/squestapp/squest/server/quest"
)

// QuestHandler handles the side quest board.
type QuestHandler struct {
	svc *quest.Service
}

func NewQuestHandler(svc *quest.Service) *QuestHandler {
	return &QuestHandler{svc: svc}
}

// Board handles GET /api/quests.
func (h *QuestHandler) Board(c *gin.Context) {
	b, err := h.svc.Board(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// History handles GET /api/quests/history?limit=.
func (h *QuestHandler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.svc.History(c.Request.Context(), mw.GetUserID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": logs})
}

// Start handles POST /api/quests/:id/start.
func (h *QuestHandler) Start(c *gin.Context) {
	id, ok := questID(c)
	if !ok {
		return
	}
	if err := h.svc.Start(c.Request.Context(), mw.GetUserID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"in_progress": id})
}

// Complete handles POST /api/quests/:id/complete.
func (h *QuestHandler) Complete(c *gin.Context) {
	id, ok := questID(c)
	if !ok {
		return
	}
	r, err := h.svc.Complete(c.Request.Context(), mw.GetUserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Cancel handles POST /api/quests/:id/cancel.
func (h *QuestHandler) Cancel(c *gin.Context) {
	id, ok := questID(c)
	if !ok {
		return
	}
	if err := h.svc.Cancel(c.Request.Context(), mw.GetUserID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"in_progress": 0})
}

func questID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quest id", "code": apperr.CodeInvalidArgument})
		return 0, false
	}
	return id, true
}
