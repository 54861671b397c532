// Package sse streams friend screen states to signed-in clients.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/squestapp/squest/server/cache"
	"github.com/squestapp/squest/server/friend"
	mw "github.com/squestapp/squest/server/middleware"
	"go.uber.org/zap"
)

const (
	announceChannel = "announce"
	keepalive       = 30 * time.Second
)

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	reg       *friend.Registry
	logger    *zap.Logger
	keepalive time.Duration
}

// NewHandler creates a new SSE Handler. reg may be nil.
func NewHandler(pubsub cache.PubSub, reg *friend.Registry, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, reg: reg, logger: logger, keepalive: keepalive}
}

// ServeSSE handles GET /sse?token=<jwt> behind middleware.Auth.
// It streams the user's friend states published on friend.StateChannel by
// any server process, plus system announcements. A live session's current
// state is sent first.
func (h *Handler) ServeSSE(c *gin.Context) {
	userID := mw.GetUserID(c)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	stateCh := friend.StateChannel(userID)
	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, stateCh, announceChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	if h.reg != nil {
		if s := h.reg.Get(userID); s != nil {
			if payload, err := json.Marshal(s.State()); err == nil {
				fmt.Fprintf(c.Writer, "event: friends\ndata: %s\n\n", payload)
			}
		}
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			event := "announce"
			if msg.Channel == stateCh {
				event = "friends"
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

// Announce publishes an announcement message to all SSE subscribers.
func (h *Handler) Announce(ctx context.Context, message string) error {
	return h.pubsub.Publish(ctx, announceChannel, message)
}
