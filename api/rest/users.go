package rest

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	mw "github.com/kasuganosora/walkietalkie/server/middleware"
	"github.com/kasuganosora/walkietalkie/server/store"
	"go.uber.org/zap"
)

const maxUsernameLen = 32

// UserHandler handles user registration and lookup.
type UserHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(st *store.Store, logger *zap.Logger) *UserHandler {
	return &UserHandler{store: st, logger: logger}
}

// Register handles POST /api/users/register.
func (h *UserHandler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		DeviceID string `json:"deviceId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Username)
	if name == "" || strings.TrimSpace(req.DeviceID) == "" {
		badRequest(c, "username and deviceId are required")
		return
	}
	if utf8.RuneCountInString(name) > maxUsernameLen {
		badRequest(c, "username is too long")
		return
	}
	u, err := h.store.CreateUser(c.Request.Context(), name, req.DeviceID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	h.logger.Info("user registered", zap.String("user_id", u.ID), zap.String("username", u.Username))
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

// Me handles GET /api/users/me.
func (h *UserHandler) Me(c *gin.Context) {
	u, err := h.store.GetUserByID(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// Search handles GET /api/users/search?q=.
func (h *UserHandler) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		badRequest(c, "q is required")
		return
	}
	users, err := h.store.SearchUsers(c.Request.Context(), q, mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// Get handles GET /api/users/:id.
func (h *UserHandler) Get(c *gin.Context) {
	u, err := h.store.GetUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}
