// Package call runs the 1:1 and group call lifecycles and decides who hears
// whom.
package call

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/kasuganosora/walkietalkie/server/apperr"
	"github.com/kasuganosora/walkietalkie/server/audit"
	"github.com/kasuganosora/walkietalkie/server/cache"
	"github.com/kasuganosora/walkietalkie/server/model"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/store"
	"go.uber.org/zap"
)

// ServerAudioOffer is the session descriptor sent with every call offer.
// Media always flows through the relay, so it never carries a real SDP.
var ServerAudioOffer = json.RawMessage(`{"type":"offer","sdp":"server-mediated-audio"}`)

const (
	StatusEnded         = "ended"
	StatusAlreadyActive = "already_active"

	defaultLockTTL = 5 * time.Second
	lockRetryEvery = 20 * time.Millisecond
)

// Options tunes the coordinator.
type Options struct {
	RequireFriendship bool
	GroupStartLockTTL time.Duration
}

// Result is the outcome of a 1:1 transition.
type Result struct {
	CallID   string `json:"callId"`
	TargetID string `json:"targetId,omitempty"`
	CallerID string `json:"callerId,omitempty"`
	Status   string `json:"status"`
}

// GroupResult is the outcome of StartGroupCall.
type GroupResult struct {
	CallID    string `json:"callId"`
	ChannelID string `json:"channelId"`
	Status    string `json:"status"`
	Existing  bool   `json:"-"`
}

type offerPayload struct {
	CallID         string          `json:"callId"`
	Caller         string          `json:"caller"`
	CallerUsername string          `json:"callerUsername"`
	Offer          json.RawMessage `json:"offer"`
}

type answerPayload struct {
	CallID           string          `json:"callId"`
	Answerer         string          `json:"answerer"`
	AnswererUsername string          `json:"answererUsername"`
	Answer           json.RawMessage `json:"answer,omitempty"`
}

type endedPayload struct {
	CallID          string `json:"callId"`
	EndedBy         string `json:"endedBy"`
	EndedByUsername string `json:"endedByUsername"`
}

type groupStartedPayload struct {
	CallID            string `json:"callId"`
	ChannelID         string `json:"channelId"`
	StartedBy         string `json:"startedBy"`
	StartedByUsername string `json:"startedByUsername"`
}

type groupJoinedPayload struct {
	CallID    string `json:"callId"`
	ChannelID string `json:"channelId"`
}

// Coordinator owns call rows and the events that announce their changes.
type Coordinator struct {
	store    *store.Store
	notifier *notify.Notifier
	cache    cache.Cache
	audit    *audit.Service
	opts     Options
	logger   *zap.Logger
}

// NewCoordinator creates a Coordinator. auditSvc may be nil.
func NewCoordinator(st *store.Store, n *notify.Notifier, c cache.Cache, auditSvc *audit.Service, opts Options, logger *zap.Logger) *Coordinator {
	if opts.GroupStartLockTTL <= 0 {
		opts.GroupStartLockTTL = defaultLockTTL
	}
	return &Coordinator{store: st, notifier: n, cache: c, audit: auditSvc, opts: opts, logger: logger}
}

func emptyJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// Initiate creates a pending call from callerID to the user named
// targetUsername and rings the target.
func (co *Coordinator) Initiate(ctx context.Context, callerID, targetUsername string, offer json.RawMessage) (res *Result, err error) {
	start := time.Now()
	defer func() { co.record(ctx, "call.initiate", callerID, res, err, start) }()

	targetUsername = strings.TrimSpace(targetUsername)
	if targetUsername == "" || emptyJSON(offer) {
		return nil, apperr.InvalidArgument("targetUsername and offer are required")
	}
	caller, err := co.store.GetUserByID(ctx, callerID)
	if err != nil {
		return nil, err
	}
	target, err := co.store.GetUserByUsername(ctx, targetUsername)
	if err != nil {
		return nil, err
	}
	if target.ID == caller.ID {
		return nil, apperr.InvalidArgument("cannot call yourself")
	}
	if co.opts.RequireFriendship {
		f, err := co.store.GetFriendshipBetween(ctx, caller.ID, target.ID)
		if apperr.Is(err, apperr.CodeNotFound) || (err == nil && f.Status != model.FriendshipAccepted) {
			return nil, apperr.Forbidden("you can only call friends")
		}
		if err != nil {
			return nil, err
		}
	}

	c, err := co.store.CreateCall(ctx, caller.ID, target.ID)
	if err != nil {
		return nil, err
	}
	co.notifier.Emit(target.ID, notify.EventIncomingCall, offerPayload{
		CallID:         c.ID,
		Caller:         caller.ID,
		CallerUsername: caller.Username,
		Offer:          offer,
	})
	co.logger.Info("call initiated",
		zap.String("call_id", c.ID),
		zap.String("user_id", caller.ID),
		zap.String("target_id", target.ID))
	return &Result{CallID: c.ID, TargetID: target.ID, Status: c.Status}, nil
}

// Retry re-sends the offer of an existing call to the other participant.
// The call status is unchanged.
func (co *Coordinator) Retry(ctx context.Context, actorID, callID string, offer json.RawMessage) (res *Result, err error) {
	start := time.Now()
	defer func() { co.record(ctx, "call.retry", actorID, res, err, start) }()

	if callID == "" {
		return nil, apperr.InvalidArgument("callId is required")
	}
	c, err := co.oneToOne(ctx, callID, actorID)
	if err != nil {
		return nil, err
	}
	if emptyJSON(offer) {
		offer = ServerAudioOffer
	}
	actor, err := co.store.GetUserByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	other := c.Other(actorID)
	co.notifier.Emit(other, notify.EventCallRetry, offerPayload{
		CallID:         c.ID,
		Caller:         actor.ID,
		CallerUsername: actor.Username,
		Offer:          offer,
	})
	return &Result{CallID: c.ID, TargetID: other, Status: c.Status}, nil
}

// Answer connects a pending call. Only the recorded callee may answer.
func (co *Coordinator) Answer(ctx context.Context, calleeID, callID string, answer json.RawMessage) (res *Result, err error) {
	start := time.Now()
	defer func() { co.record(ctx, "call.answer", calleeID, res, err, start) }()

	if callID == "" {
		return nil, apperr.InvalidArgument("callId is required")
	}
	c, err := co.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if c.IsGroup || c.CalleeID != calleeID {
		return nil, apperr.NotFound("call not found")
	}
	callee, err := co.store.GetUserByID(ctx, calleeID)
	if err != nil {
		return nil, err
	}
	// The row may have been ended since it was read.
	c, err = co.store.AnswerCall(ctx, callID, calleeID)
	if err != nil {
		return nil, err
	}
	co.notifier.Emit(c.CallerID, notify.EventCallAnswered, answerPayload{
		CallID:           c.ID,
		Answerer:         callee.ID,
		AnswererUsername: callee.Username,
		Answer:           answer,
	})
	co.logger.Info("call answered", zap.String("call_id", c.ID), zap.String("user_id", calleeID))
	return &Result{CallID: c.ID, CallerID: c.CallerID, Status: c.Status}, nil
}

// End deletes a call and tells the other participant(s). Group calls can
// only be ended by their starter.
func (co *Coordinator) End(ctx context.Context, actorID, callID string) (res *Result, err error) {
	start := time.Now()
	defer func() { co.record(ctx, "call.end", actorID, res, err, start) }()

	if callID == "" {
		return nil, apperr.InvalidArgument("callId is required")
	}
	c, err := co.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(actorID) {
		return nil, apperr.NotFound("call not found")
	}
	actor, err := co.store.GetUserByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if err := co.store.DeleteCall(ctx, callID); err != nil {
		return nil, err
	}
	payload := endedPayload{CallID: c.ID, EndedBy: actor.ID, EndedByUsername: actor.Username}
	if c.IsGroup {
		co.notifier.EmitToChannel(ctx, c.ChannelID, notify.EventCallEnded, payload, actorID)
	} else {
		co.notifier.Emit(c.Other(actorID), notify.EventCallEnded, payload)
	}
	co.logger.Info("call ended", zap.String("call_id", c.ID), zap.String("user_id", actorID))
	return &Result{CallID: c.ID, Status: StatusEnded}, nil
}

// StartGroupCall opens the channel's group call, or returns the live one.
// Starts racing inside this process are serialised by a short cache lock
// per channel; the lock does not span processes.
func (co *Coordinator) StartGroupCall(ctx context.Context, userID, channelID string) (res *GroupResult, err error) {
	start := time.Now()
	defer func() { co.record(ctx, "call.group_start", userID, res, err, start) }()

	if channelID == "" {
		return nil, apperr.InvalidArgument("channelId is required")
	}
	if _, err := co.store.GetLocationChannel(ctx, channelID); err != nil {
		return nil, err
	}
	ok, err := co.store.IsChannelParticipant(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Forbidden("not a channel participant")
	}
	if existing, err := co.activeGroupCall(ctx, channelID); err != nil || existing != nil {
		return existing, err
	}

	release, err := co.lockGroupStart(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	defer release()
	if existing, err := co.activeGroupCall(ctx, channelID); err != nil || existing != nil {
		return existing, err
	}

	starter, err := co.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	c, err := co.store.CreateGroupCall(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	co.notifier.EmitToChannel(ctx, channelID, notify.EventGroupCallStarted, groupStartedPayload{
		CallID:            c.ID,
		ChannelID:         channelID,
		StartedBy:         starter.ID,
		StartedByUsername: starter.Username,
	}, "")
	co.logger.Info("group call started",
		zap.String("call_id", c.ID),
		zap.String("channel_id", channelID),
		zap.String("user_id", userID))
	return &GroupResult{CallID: c.ID, ChannelID: channelID, Status: c.Status}, nil
}

func (co *Coordinator) activeGroupCall(ctx context.Context, channelID string) (*GroupResult, error) {
	c, err := co.store.GetActiveGroupCall(ctx, channelID)
	if apperr.Is(err, apperr.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &GroupResult{CallID: c.ID, ChannelID: channelID, Status: StatusAlreadyActive, Existing: true}, nil
}

// lockGroupStart waits up to the lock TTL for the per-channel start lock.
// A cache failure degrades to an unlocked start.
func (co *Coordinator) lockGroupStart(ctx context.Context, channelID, holder string) (func(), error) {
	key := "groupcall:start:" + channelID
	noop := func() {}
	deadline := time.Now().Add(co.opts.GroupStartLockTTL)
	for {
		ok, err := co.cache.SetNX(ctx, key, holder, co.opts.GroupStartLockTTL)
		if err != nil {
			co.logger.Warn("group start lock unavailable", zap.String("channel_id", channelID), zap.Error(err))
			return noop, nil
		}
		if ok {
			return func() {
				if err := co.cache.Del(context.WithoutCancel(ctx), key); err != nil {
					co.logger.Warn("group start unlock failed", zap.String("channel_id", channelID), zap.Error(err))
				}
			}, nil
		}
		if time.Now().After(deadline) {
			co.logger.Warn("group start lock timed out", zap.String("channel_id", channelID))
			return noop, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryEvery):
		}
	}
}

// JoinGroupCall acknowledges userID joining an existing group call. Group
// membership is the channel's membership, so nothing is written.
func (co *Coordinator) JoinGroupCall(ctx context.Context, userID, callID string) (*model.Call, error) {
	if callID == "" {
		return nil, apperr.InvalidArgument("callId is required")
	}
	c, err := co.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !c.IsGroup {
		return nil, apperr.NotFound("group call not found")
	}
	co.notifier.Emit(userID, notify.EventGroupCallJoined, groupJoinedPayload{CallID: c.ID, ChannelID: c.ChannelID})
	return c, nil
}

// Lookup returns the call row for callID.
func (co *Coordinator) Lookup(ctx context.Context, callID string) (*model.Call, error) {
	return co.store.GetCall(ctx, callID)
}

// Recipients is the addressing rule: the other party of a 1:1 call, or the
// channel's current members minus the actor for a group call. Group
// membership is read fresh on every call.
func (co *Coordinator) Recipients(ctx context.Context, c *model.Call, actorID string) ([]string, error) {
	if !c.IsGroup {
		other := c.Other(actorID)
		if other == "" || other == actorID {
			return nil, nil
		}
		return []string{other}, nil
	}
	ids, err := co.store.ChannelParticipantIDs(ctx, c.ChannelID)
	if err != nil {
		return nil, err
	}
	out := ids[:0]
	for _, id := range ids {
		if id != actorID {
			out = append(out, id)
		}
	}
	return out, nil
}

// IsParticipant reports whether userID may send on c: a 1:1 party, or a
// current member of a group call's channel.
func (co *Coordinator) IsParticipant(ctx context.Context, c *model.Call, userID string) (bool, error) {
	if !c.IsGroup {
		return c.HasParticipant(userID), nil
	}
	return co.store.IsChannelParticipant(ctx, c.ChannelID, userID)
}

// oneToOne loads a 1:1 call that actorID takes part in.
func (co *Coordinator) oneToOne(ctx context.Context, callID, actorID string) (*model.Call, error) {
	c, err := co.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if c.IsGroup || !c.HasParticipant(actorID) {
		return nil, apperr.NotFound("call not found")
	}
	return c, nil
}

func (co *Coordinator) record(ctx context.Context, action, userID string, res any, err error, start time.Time) {
	e := audit.Entry{
		TraceID:  audit.TraceFrom(ctx),
		UserID:   userID,
		Action:   action,
		Err:      err,
		Duration: time.Since(start),
	}
	switch r := res.(type) {
	case *Result:
		if r != nil {
			e.Subject = r.CallID
			e.Detail = r
		}
	case *GroupResult:
		if r != nil {
			e.Subject = r.CallID
			e.Detail = r
		}
	}
	co.audit.Log(e)
}
