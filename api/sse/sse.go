package sse

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/walkietalkie/server/apperr"
	"github.com/kasuganosora/walkietalkie/server/cache"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/store"
	"go.uber.org/zap"
)

const defaultKeepAlive = 30 * time.Second

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	store     *store.Store
	keepAlive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler. keepAlive <= 0 uses 30s.
func NewHandler(pubsub cache.PubSub, st *store.Store, keepAlive time.Duration, logger *zap.Logger) *Handler {
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &Handler{pubsub: pubsub, store: st, keepAlive: keepAlive, logger: logger}
}

// ServeSSE handles GET /sse?userId=<id>.
// It streams admin announcements published on the announcement topic.
func (h *Handler) ServeSSE(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user id"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	_, err := h.store.GetUserByID(ctx, userID)
	cancel()
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		} else {
			c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err)})
		}
		return
	}

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, notify.AnnouncementTopic)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// Send initial connected event.
	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", notify.EventAnnouncement, msg.Payload)
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
