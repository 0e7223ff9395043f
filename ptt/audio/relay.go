// Package audio forwards push-to-talk frames between call participants
// without touching their contents.
package audio

import (
	"context"
	"time"

	"github.com/kasuganosora/walkietalkie/server/cache"
	"github.com/kasuganosora/walkietalkie/server/metrics"
	"github.com/kasuganosora/walkietalkie/server/model"
	"github.com/kasuganosora/walkietalkie/server/ptt/call"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/store"
	"go.uber.org/zap"
)

const (
	defaultNameTTL = 5 * time.Minute
	unknownSpeaker = "Unknown"
)

type streamPayload struct {
	CallID     string `json:"callId"`
	FromUserID string `json:"fromUserId"`
}

// Relay fans audio frames and stream state out to the other participants of
// a call.
type Relay struct {
	calls    *call.Coordinator
	store    *store.Store
	notifier *notify.Notifier
	names    cache.Cache
	nameTTL  time.Duration
	logger   *zap.Logger
}

// NewRelay creates a Relay. names caches speaker display names for nameTTL.
func NewRelay(calls *call.Coordinator, st *store.Store, n *notify.Notifier, names cache.Cache, nameTTL time.Duration, logger *zap.Logger) *Relay {
	if nameTTL <= 0 {
		nameTTL = defaultNameTTL
	}
	return &Relay{calls: calls, store: st, notifier: n, names: names, nameTTL: nameTTL, logger: logger}
}

// Relay forwards f from fromUserID to every other participant of callID.
// A missing call or a sender outside the call drops the frame; the sender
// is never told.
func (r *Relay) Relay(ctx context.Context, callID, fromUserID string, f Frame) {
	c, recipients, ok := r.resolve(ctx, callID, fromUserID, "audio")
	if !ok {
		return
	}
	if len(recipients) == 0 {
		metrics.AudioFramesDropped.WithLabelValues("no_recipients").Inc()
		return
	}
	payload := EncodeFrame(c.ID, fromUserID, r.speakerName(ctx, fromUserID), f)
	r.notifier.EmitToUsers(recipients, notify.EventAudioData, payload)
	metrics.AudioFramesRelayed.WithLabelValues(f.Format()).Inc()
}

// StartStream marks the call's audio active and tells the other participants.
func (r *Relay) StartStream(ctx context.Context, callID, userID string) {
	r.setStream(ctx, callID, userID, true)
}

// StopStream clears the call's audio flag and tells the other participants.
func (r *Relay) StopStream(ctx context.Context, callID, userID string) {
	r.setStream(ctx, callID, userID, false)
}

func (r *Relay) setStream(ctx context.Context, callID, userID string, active bool) {
	c, recipients, ok := r.resolve(ctx, callID, userID, "stream")
	if !ok {
		return
	}
	// The flag is display-only; a failed write does not stop the event.
	if err := r.store.SetCallAudioActive(ctx, c.ID, active); err != nil {
		r.logger.Warn("audio flag update failed",
			zap.String("call_id", c.ID), zap.Bool("active", active), zap.Error(err))
	}
	event := notify.EventAudioStreamStopped
	if active {
		event = notify.EventAudioStreamStarted
	}
	r.notifier.EmitToUsers(recipients, event, streamPayload{CallID: c.ID, FromUserID: userID})
}

// resolve loads the call and its recipient set for a sender. ok is false when
// the event must be dropped.
func (r *Relay) resolve(ctx context.Context, callID, userID, kind string) (*model.Call, []string, bool) {
	log := r.logger.With(zap.String("call_id", callID), zap.String("user_id", userID))
	c, err := r.calls.Lookup(ctx, callID)
	if err != nil {
		log.Debug(kind+" for unknown call dropped", zap.Error(err))
		metrics.AudioFramesDropped.WithLabelValues("no_call").Inc()
		return nil, nil, false
	}
	member, err := r.calls.IsParticipant(ctx, c, userID)
	if err != nil {
		log.Warn(kind+" participant check failed", zap.Error(err))
		metrics.AudioFramesDropped.WithLabelValues("store").Inc()
		return nil, nil, false
	}
	if !member {
		log.Debug(kind + " from non-participant dropped")
		metrics.AudioFramesDropped.WithLabelValues("not_participant").Inc()
		return nil, nil, false
	}
	recipients, err := r.calls.Recipients(ctx, c, userID)
	if err != nil {
		log.Warn(kind+" recipient lookup failed", zap.Error(err))
		metrics.AudioFramesDropped.WithLabelValues("store").Inc()
		return nil, nil, false
	}
	return c, recipients, true
}

func (r *Relay) speakerName(ctx context.Context, userID string) string {
	key := "user:name:" + userID
	if name, err := r.names.Get(ctx, key); err == nil {
		return name
	} else if !cache.IsNotFound(err) {
		r.logger.Debug("speaker name cache read failed", zap.Error(err))
	}
	u, err := r.store.GetUserByID(ctx, userID)
	if err != nil {
		return unknownSpeaker
	}
	if err := r.names.Set(ctx, key, u.Username, r.nameTTL); err != nil {
		r.logger.Debug("speaker name cache write failed", zap.Error(err))
	}
	return u.Username
}
