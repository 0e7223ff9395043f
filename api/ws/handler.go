package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/walkietalkie/server/apperr"
	"github.com/kasuganosora/walkietalkie/server/metrics"
	"github.com/kasuganosora/walkietalkie/server/ptt/presence"
	"github.com/kasuganosora/walkietalkie/server/store"
	"go.uber.org/zap"
)

// Handler is the Gin handler for GET /ws.
type Handler struct {
	store    *store.Store
	presence *presence.Registry
	router   *Router
	connOpts presence.ConnOptions
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler.
// allowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(
	st *store.Store,
	reg *presence.Registry,
	router *Router,
	allowedOrigins []string,
	connOpts presence.ConnOptions,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		store:    st,
		presence: reg,
		router:   router,
		connOpts: connOpts,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     OriginChecker(allowedOrigins),
	}
	return h
}

// OriginChecker accepts the listed origins, or every origin when the list is
// empty.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true // dev mode: allow all
		}
		origin := r.Header.Get("Origin")
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}

// ServeWS handles GET /ws[?userId=<id>]. A userId registers the connection
// immediately; otherwise the client sends a register event.
func (h *Handler) ServeWS(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID != "" {
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
	}

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	conn := presence.NewConn(wsConn, h.logger, h.connOpts)
	h.presence.Track(conn)
	metrics.LiveConnections.Inc()
	if userID != "" {
		h.presence.Register(c.Request.Context(), conn, userID)
	}

	// Blocks until the connection closes.
	h.readPump(wsConn, conn)
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(wsConn *websocket.Conn, conn *presence.Conn) {
	defer h.handleDisconnect(conn)

	conn.SetReadDeadline()
	wsConn.SetPongHandler(func(string) error {
		conn.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.String("user_id", conn.UserID()),
					zap.Error(err))
			}
			return
		}
		// Reset read deadline on any message (heartbeat or otherwise).
		conn.SetReadDeadline()
		h.router.Dispatch(conn, raw)
	}
}

// handleDisconnect drops the connection from presence, which tells friends
// when it was the user's last one.
func (h *Handler) handleDisconnect(conn *presence.Conn) {
	conn.Close()
	metrics.LiveConnections.Dec()
	userID := conn.UserID()
	h.presence.Unregister(context.Background(), conn)
	h.presence.Untrack(conn)
	h.logger.Info("connection closed",
		zap.String("conn_id", conn.ID),
		zap.String("user_id", userID))
}
