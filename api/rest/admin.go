package rest

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/walkietalkie/server/cache"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/ptt/presence"
	"github.com/kasuganosora/walkietalkie/server/scheduler"
	"go.uber.org/zap"
)

// Announcement is what admins broadcast to every client.
type Announcement struct {
	Message string    `json:"message"`
	SentAt  time.Time `json:"sentAt"`
}

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by the AdminAuth middleware.
type AdminHandler struct {
	presence *presence.Registry
	pubsub   cache.PubSub
	sched    *scheduler.Scheduler
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(reg *presence.Registry, ps cache.PubSub, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{presence: reg, pubsub: ps, sched: sched, logger: logger}
}

// Metrics returns a relay health snapshot.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"online_users":    h.presence.OnlineCount(),
		"connections":     h.presence.ConnectionCount(),
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// Online lists the ids of every user with a live connection.
// GET /api/admin/online
func (h *AdminHandler) Online(c *gin.Context) {
	ids := h.presence.OnlineUserIDs()
	c.JSON(http.StatusOK, gin.H{"users": ids, "count": len(ids)})
}

// Announce sends a message to every websocket connection and publishes it
// for SSE subscribers.
// POST /api/admin/announce
func (h *AdminHandler) Announce(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		badRequest(c, "message is required")
		return
	}
	a := Announcement{Message: strings.TrimSpace(req.Message), SentAt: time.Now().UTC()}

	data, err := presence.Encode(notify.EventAnnouncement, a)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	h.presence.BroadcastAll(data)

	body, _ := json.Marshal(a)
	if err := h.pubsub.Publish(c.Request.Context(), notify.AnnouncementTopic, string(body)); err != nil {
		// Websocket clients already have it.
		h.logger.Warn("announcement publish failed", zap.Error(err))
	}
	h.logger.Info("announcement sent", zap.Int("connections", h.presence.ConnectionCount()))
	c.JSON(http.StatusOK, gin.H{"status": "sent", "connections": h.presence.ConnectionCount()})
}

// ListSchedulerTasks returns every registered ticker task with its run stats.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Status()})
}
