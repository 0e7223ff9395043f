package ws

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/kasuganosora/walkietalkie/server/apperr"
	"github.com/kasuganosora/walkietalkie/server/audit"
	"github.com/kasuganosora/walkietalkie/server/metrics"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/ptt/presence"
	"go.uber.org/zap"
)

// HandlerFunc processes a decoded WS message payload.
type HandlerFunc func(ctx context.Context, conn *presence.Conn, payload json.RawMessage) error

type route struct {
	fn         HandlerFunc
	registered bool
}

// Router dispatches incoming WS packets to registered handlers.
type Router struct {
	handlers map[string]route
	logger   *zap.Logger
}

// NewRouter creates a new Router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]route),
		logger:   logger,
	}
}

// On registers a HandlerFunc that any connection may call.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = route{fn: fn}
}

// OnRegistered registers a HandlerFunc that requires a registered user.
func (r *Router) OnRegistered(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = route{fn: fn, registered: true}
}

var errRecovered = errors.New("handler panicked")

type errorPayload struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Type    string      `json:"type,omitempty"`
}

// Dispatch decodes raw bytes, validates seq, and invokes the appropriate handler.
// Client-visible errors are answered with an error event; everything else is
// only logged so the connection stays up.
func (r *Router) Dispatch(conn *presence.Conn, raw []byte) {
	var pkt presence.Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.logger.Warn("malformed packet",
			zap.String("conn_id", conn.ID),
			zap.Error(err))
		metrics.WSEventsTotal.WithLabelValues("malformed", "rejected").Inc()
		return
	}

	// Monotonic seq check (anti-replay). Seq == 0 means no seq tracking.
	if pkt.Seq != 0 && pkt.Seq <= conn.LastSeq {
		r.logger.Warn("replayed or out-of-order packet",
			zap.String("user_id", conn.UserID()),
			zap.Uint64("seq", pkt.Seq),
			zap.Uint64("last_seq", conn.LastSeq))
		metrics.WSEventsTotal.WithLabelValues(pkt.Type, "replayed").Inc()
		return
	}
	if pkt.Seq != 0 {
		conn.LastSeq = pkt.Seq
	}

	rt, ok := r.handlers[pkt.Type]
	if !ok {
		r.logger.Debug("unhandled message type",
			zap.String("type", pkt.Type),
			zap.String("user_id", conn.UserID()))
		metrics.WSEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		return
	}
	if rt.registered && conn.UserID() == "" {
		r.reply(conn, pkt.Type, apperr.Forbidden("register first"))
		metrics.WSEventsTotal.WithLabelValues(pkt.Type, "unregistered").Inc()
		return
	}

	conn.TraceID = uuid.NewString()
	ctx := audit.ContextWithTrace(context.Background(), conn.TraceID)

	err := r.invoke(ctx, conn, pkt.Type, rt.fn, pkt.Payload)
	switch {
	case err == nil:
		metrics.WSEventsTotal.WithLabelValues(pkt.Type, "ok").Inc()
	case errors.Is(err, errRecovered):
		metrics.WSEventsTotal.WithLabelValues(pkt.Type, "panic").Inc()
	case apperr.ClientVisible(err):
		r.reply(conn, pkt.Type, err)
		metrics.WSEventsTotal.WithLabelValues(pkt.Type, "client_error").Inc()
	case apperr.Is(err, apperr.CodeNotFound):
		r.logger.Debug("handler target not found",
			zap.String("type", pkt.Type),
			zap.String("user_id", conn.UserID()),
			zap.String("trace_id", conn.TraceID),
			zap.Error(err))
		metrics.WSEventsTotal.WithLabelValues(pkt.Type, "not_found").Inc()
	default:
		r.logger.Error("handler error",
			zap.String("type", pkt.Type),
			zap.String("user_id", conn.UserID()),
			zap.String("trace_id", conn.TraceID),
			zap.Error(err))
		metrics.WSEventsTotal.WithLabelValues(pkt.Type, "error").Inc()
	}
}

func (r *Router) invoke(ctx context.Context, conn *presence.Conn, typ string, fn HandlerFunc, payload json.RawMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in ws handler",
				zap.String("type", typ),
				zap.String("user_id", conn.UserID()),
				zap.Any("recover", rec),
				zap.String("stack", string(debug.Stack())))
			err = errRecovered
		}
	}()
	return fn(ctx, conn, payload)
}

func (r *Router) reply(conn *presence.Conn, typ string, err error) {
	pkt, encErr := presence.NewPacket(notify.EventError, errorPayload{
		Code:    apperr.CodeOf(err),
		Message: apperr.Message(err),
		Type:    typ,
	})
	if encErr != nil {
		return
	}
	conn.Send(pkt)
}
