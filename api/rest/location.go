package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/walkietalkie/server/middleware"
	"github.com/kasuganosora/walkietalkie/server/ptt/call"
	"github.com/kasuganosora/walkietalkie/server/ptt/channel"
	"go.uber.org/zap"
)

// LocationHandler handles location updates and location channels.
type LocationHandler struct {
	channels *channel.Manager
	calls    *call.Coordinator
	logger   *zap.Logger
}

// NewLocationHandler creates a LocationHandler.
func NewLocationHandler(m *channel.Manager, co *call.Coordinator, logger *zap.Logger) *LocationHandler {
	return &LocationHandler{channels: m, calls: co, logger: logger}
}

// Update handles POST /api/location/update.
func (h *LocationHandler) Update(c *gin.Context) {
	var req struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Latitude == nil || req.Longitude == nil {
		badRequest(c, "latitude and longitude are required")
		return
	}
	tr, err := h.channels.UpdateLocation(c.Request.Context(), mw.GetUserID(c), *req.Latitude, *req.Longitude)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "updated",
		"joinedChannels": tr.Joined,
		"leftChannels":   tr.Left,
	})
}

func queryFloat(c *gin.Context, key string) (float64, bool) {
	v, err := strconv.ParseFloat(c.Query(key), 64)
	return v, err == nil
}

// Nearby handles GET /api/location/channels/nearby?latitude&longitude&radius.
func (h *LocationHandler) Nearby(c *gin.Context) {
	lat, okLat := queryFloat(c, "latitude")
	lon, okLon := queryFloat(c, "longitude")
	if !okLat || !okLon {
		badRequest(c, "latitude and longitude are required")
		return
	}
	var radius float64
	if c.Query("radius") != "" {
		r, ok := queryFloat(c, "radius")
		if !ok {
			badRequest(c, "invalid radius")
			return
		}
		radius = r
	}
	chans, err := h.channels.Nearby(c.Request.Context(), lat, lon, radius)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": chans})
}

// Create handles POST /api/location/channels.
func (h *LocationHandler) Create(c *gin.Context) {
	var req struct {
		Name      string   `json:"name"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Radius    float64  `json:"radius"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Latitude == nil || req.Longitude == nil {
		badRequest(c, "name, latitude, longitude and radius are required")
		return
	}
	ch, err := h.channels.Create(c.Request.Context(), mw.GetUserID(c), req.Name, *req.Latitude, *req.Longitude, req.Radius)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"channel": ch, "status": "created"})
}

// Join handles POST /api/location/channels/:id/join.
func (h *LocationHandler) Join(c *gin.Context) {
	if err := h.channels.Join(c.Request.Context(), c.Param("id"), mw.GetUserID(c)); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "joined"})
}

// Leave handles POST /api/location/channels/:id/leave.
func (h *LocationHandler) Leave(c *gin.Context) {
	if err := h.channels.Leave(c.Request.Context(), c.Param("id"), mw.GetUserID(c)); err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

// Participants handles GET /api/location/channels/:id/participants.
func (h *LocationHandler) Participants(c *gin.Context) {
	ps, err := h.channels.Participants(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": ps})
}

// Mine handles GET /api/location/channels/mine.
func (h *LocationHandler) Mine(c *gin.Context) {
	chans, err := h.channels.UserChannels(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": chans})
}

// StartGroupCall handles POST /api/location/channels/:id/group-call/start.
func (h *LocationHandler) StartGroupCall(c *gin.Context) {
	res, err := h.calls.StartGroupCall(c.Request.Context(), mw.GetUserID(c), c.Param("id"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
