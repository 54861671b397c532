package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/squestapp/squest/server/quest"
)

// RankingHandler handles leaderboard REST endpoints.
type RankingHandler struct {
	board *quest.Leaderboard
}

// NewRankingHandler creates a RankingHandler.
func NewRankingHandler(board *quest.Leaderboard) *RankingHandler {
	return &RankingHandler{board: board}
}

// TopXP returns the top users sorted by experience.
// GET /api/ranking/xp?limit=20
func (h *RankingHandler) TopXP(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= quest.RankingTop {
		limit = l
	}
	entries, err := h.board.Top(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranking": entries})
}
