package rest

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/walkietalkie/server/apperr"
	mw "github.com/kasuganosora/walkietalkie/server/middleware"
	"github.com/kasuganosora/walkietalkie/server/model"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/ptt/presence"
	"github.com/kasuganosora/walkietalkie/server/store"
	"go.uber.org/zap"
)

const (
	friendshipRemoved = "removed"
	requestRejected   = "rejected"
)

type friendRequestPayload struct {
	RequestID    string `json:"requestId"`
	FromUserID   string `json:"fromUserId"`
	FromUsername string `json:"fromUsername"`
}

type friendReplyPayload struct {
	RequestID string `json:"requestId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
}

type friendshipPayload struct {
	FriendID string `json:"friendId"`
	Status   string `json:"status"`
}

// FriendHandler handles friend requests and the friend list.
type FriendHandler struct {
	store    *store.Store
	notifier *notify.Notifier
	presence *presence.Registry
	logger   *zap.Logger
}

// NewFriendHandler creates a FriendHandler.
func NewFriendHandler(st *store.Store, n *notify.Notifier, reg *presence.Registry, logger *zap.Logger) *FriendHandler {
	return &FriendHandler{store: st, notifier: n, presence: reg, logger: logger}
}

// List handles GET /api/friends.
func (h *FriendHandler) List(c *gin.Context) {
	friends, err := h.store.GetFriendsOf(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	type friendInfo struct {
		model.User
		Online bool `json:"online"`
	}
	result := make([]friendInfo, len(friends))
	for i, f := range friends {
		result[i] = friendInfo{User: f, Online: h.presence.IsOnline(f.ID)}
	}
	c.JSON(http.StatusOK, gin.H{"friends": result})
}

// Requests handles GET /api/friends/requests.
func (h *FriendHandler) Requests(c *gin.Context) {
	reqs, err := h.store.GetFriendRequestsTo(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if reqs == nil {
		reqs = []store.FriendRequest{}
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// SendRequest handles POST /api/friends/request.
func (h *FriendHandler) SendRequest(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		badRequest(c, "username is required")
		return
	}
	ctx := c.Request.Context()
	me, err := h.store.GetUserByID(ctx, mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	target, err := h.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if target.ID == me.ID {
		fail(c, h.logger, apperr.InvalidArgument("cannot befriend yourself"))
		return
	}
	f, err := h.store.CreateFriendRequest(ctx, me.ID, target.ID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	h.notifier.Emit(target.ID, notify.EventFriendRequestReceived, friendRequestPayload{
		RequestID:    f.ID,
		FromUserID:   me.ID,
		FromUsername: me.Username,
	})
	c.JSON(http.StatusCreated, gin.H{"request": f})
}

// pendingFor loads a pending request addressed to the caller. Requests
// addressed to someone else are reported as missing.
func (h *FriendHandler) pendingFor(c *gin.Context) (*model.Friendship, *model.User, bool) {
	ctx := c.Request.Context()
	me, err := h.store.GetUserByID(ctx, mw.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return nil, nil, false
	}
	f, err := h.store.GetFriendship(ctx, c.Param("id"))
	if err != nil {
		fail(c, h.logger, err)
		return nil, nil, false
	}
	if f.FriendID != me.ID || f.Status != model.FriendshipPending {
		fail(c, h.logger, apperr.NotFound("friend request not found"))
		return nil, nil, false
	}
	return f, me, true
}

// Accept handles POST /api/friends/requests/:id/accept.
func (h *FriendHandler) Accept(c *gin.Context) {
	f, me, ok := h.pendingFor(c)
	if !ok {
		return
	}
	f, err := h.store.AcceptFriendRequest(c.Request.Context(), f.ID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	h.notifier.Emit(f.UserID, notify.EventFriendRequestAccepted, friendReplyPayload{
		RequestID: f.ID,
		UserID:    me.ID,
		Username:  me.Username,
	})
	h.notifier.Emit(f.UserID, notify.EventFriendshipUpdated, friendshipPayload{FriendID: me.ID, Status: f.Status})
	h.notifier.Emit(me.ID, notify.EventFriendshipUpdated, friendshipPayload{FriendID: f.UserID, Status: f.Status})
	h.logger.Info("friend request accepted", zap.String("user_id", me.ID), zap.String("friend_id", f.UserID))
	c.JSON(http.StatusOK, gin.H{"friendship": f})
}

// Reject handles POST /api/friends/requests/:id/reject.
func (h *FriendHandler) Reject(c *gin.Context) {
	f, me, ok := h.pendingFor(c)
	if !ok {
		return
	}
	if err := h.store.RejectFriendRequest(c.Request.Context(), f.ID); err != nil {
		fail(c, h.logger, err)
		return
	}
	h.notifier.Emit(f.UserID, notify.EventFriendRequestRejected, friendReplyPayload{
		RequestID: f.ID,
		UserID:    me.ID,
		Username:  me.Username,
	})
	c.JSON(http.StatusOK, gin.H{"status": requestRejected})
}

// Remove handles DELETE /api/friends/:userId.
func (h *FriendHandler) Remove(c *gin.Context) {
	me := mw.GetUserID(c)
	other := c.Param("userId")
	if err := h.store.RemoveFriendship(c.Request.Context(), me, other); err != nil {
		fail(c, h.logger, err)
		return
	}
	h.notifier.Emit(other, notify.EventFriendshipUpdated, friendshipPayload{FriendID: me, Status: friendshipRemoved})
	h.notifier.Emit(me, notify.EventFriendshipUpdated, friendshipPayload{FriendID: other, Status: friendshipRemoved})
	c.JSON(http.StatusOK, gin.H{"status": friendshipRemoved})
}
