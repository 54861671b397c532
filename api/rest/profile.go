package rest

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	mw "github.com/squestapp/squest/server/middleware"
	"github.com/squestapp/squest/server/notify"
	"github.com/squestapp/squest/server/profile"
)

// ProfileHandler handles the user's own profile and push devices.
type ProfileHandler struct {
	svc      *profile.Service
	notifier *notify.Notifier
}

func NewProfileHandler(svc *profile.Service, notifier *notify.Notifier) *ProfileHandler {
	return &ProfileHandler{svc: svc, notifier: notifier}
}

// Get handles GET /api/profile.
func (h *ProfileHandler) Get(c *gin.Context) {
	u, err := h.svc.Get(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

type updateProfileBody struct {
	DisplayedName string `json:"displayed_name"`
}

// Update handles PUT /api/profile.
func (h *ProfileHandler) Update(c *gin.Context) {
	var req updateProfileBody
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	name, err := h.svc.SetDisplayedName(c.Request.Context(), mw.GetUserID(c), req.DisplayedName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"displayed_name": name})
}

// UploadAvatar handles POST /api/profile/avatar with a raw JPEG body.
func (h *ProfileHandler) UploadAvatar(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, profile.MaxAvatarBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, profile.ErrInvalidAvatar)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	url, err := h.svc.UploadAvatar(c.Request.Context(), mw.GetUserID(c), body)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"avatar_url": url})
}

type deviceBody struct {
	Token string `json:"token" binding:"required"`
}

// RegisterDevice handles POST /api/devices.
func (h *ProfileHandler) RegisterDevice(c *gin.Context) {
	var req deviceBody
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if err := h.notifier.RegisterDevice(c.Request.Context(), mw.GetUserID(c), req.Token); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}
