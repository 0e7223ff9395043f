package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/walkietalkie/server/model"
)

// GroupCallID derives the group call id for a channel at a point in time.
func GroupCallID(channelID string, at time.Time) string {
	return fmt.Sprintf("group_%s_%d", channelID, at.UnixMilli())
}

// CreateCall inserts a pending 1:1 call.
func (s *Store) CreateCall(ctx context.Context, callerID, calleeID string) (*model.Call, error) {
	c := &model.Call{
		ID:       uuid.NewString(),
		CallerID: callerID,
		CalleeID: calleeID,
		Status:   model.CallPending,
	}
	if err := s.conn(ctx).Create(c).Error; err != nil {
		return nil, mapErr(err, "call")
	}
	return c, nil
}

func (s *Store) GetCall(ctx context.Context, id string) (*model.Call, error) {
	var c model.Call
	if err := s.conn(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, mapErr(err, "call")
	}
	return &c, nil
}

func (s *Store) UpdateCallStatus(ctx context.Context, id, status string) error {
	res := s.conn(ctx).Model(&model.Call{}).Where("id = ?", id).Update("status", status)
	return affected(res, "call")
}

// AnswerCall marks a 1:1 call connected only while calleeID is still the
// recorded callee, so a call ended or replaced in between is NotFound.
func (s *Store) AnswerCall(ctx context.Context, id, calleeID string) (*model.Call, error) {
	res := s.conn(ctx).Model(&model.Call{}).
		Where("id = ? AND callee_id = ? AND is_group = ?", id, calleeID, false).
		Update("status", model.CallConnected)
	if err := affected(res, "call"); err != nil {
		return nil, err
	}
	return s.GetCall(ctx, id)
}

func (s *Store) DeleteCall(ctx context.Context, id string) error {
	res := s.conn(ctx).Where("id = ?", id).Delete(&model.Call{})
	return affected(res, "call")
}

func (s *Store) SetCallAudioActive(ctx context.Context, id string, active bool) error {
	res := s.conn(ctx).Model(&model.Call{}).Where("id = ?", id).Update("audio_active", active)
	return affected(res, "call")
}

// CreateGroupCall inserts an active group call for channelID started by
// starterID.
func (s *Store) CreateGroupCall(ctx context.Context, channelID, starterID string) (*model.Call, error) {
	now := time.Now()
	c := &model.Call{
		ID:        GroupCallID(channelID, now),
		CallerID:  starterID,
		ChannelID: channelID,
		IsGroup:   true,
		Status:    model.CallActive,
		CreatedAt: now,
	}
	if err := s.conn(ctx).Create(c).Error; err != nil {
		return nil, mapErr(err, "group call")
	}
	return c, nil
}

// GetActiveGroupCall returns the newest live group call of a channel.
func (s *Store) GetActiveGroupCall(ctx context.Context, channelID string) (*model.Call, error) {
	var c model.Call
	err := s.conn(ctx).
		Where("channel_id = ? AND is_group = ?", channelID, true).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		return nil, mapErr(err, "group call")
	}
	return &c, nil
}

// CountStaleCalls counts calls created before olderThan. Stale calls are
// only reported, never removed.
func (s *Store) CountStaleCalls(ctx context.Context, olderThan time.Time) (int64, error) {
	var n int64
	if err := s.conn(ctx).Model(&model.Call{}).Where("created_at < ?", olderThan).Count(&n).Error; err != nil {
		return 0, mapErr(err, "call")
	}
	return n, nil
}

// ListCallsFor returns every live call userID is caller or callee of.
func (s *Store) ListCallsFor(ctx context.Context, userID string) ([]model.Call, error) {
	var out []model.Call
	err := s.conn(ctx).
		Where("caller_id = ? OR callee_id = ?", userID, userID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, mapErr(err, "call")
	}
	return out, nil
}
