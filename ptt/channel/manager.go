// Package channel manages location channel membership: explicit joins and
// the automatic join/leave that follows location updates.
package channel

import (
	"context"
	"strings"
	"time"

	"github.com/kasuganosora/walkietalkie/server/apperr"
	"github.com/kasuganosora/walkietalkie/server/audit"
	"github.com/kasuganosora/walkietalkie/server/model"
	"github.com/kasuganosora/walkietalkie/server/ptt/geo"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/store"
	"go.uber.org/zap"
)

const (
	DefaultSearchRadiusKm = 1.0
	maxNameLen            = 64
)

// Options holds the geofence limits.
type Options struct {
	SearchRadiusKm float64
	MaxRadiusKm    float64
}

// Ref identifies a channel in a Transition.
type Ref struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Distance float64 `json:"distance"`
}

// Transition is the membership change caused by one location update.
type Transition struct {
	Joined []Ref `json:"joinedChannels"`
	Left   []Ref `json:"leftChannels"`
}

type memberPayload struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	ChannelID string `json:"channelId"`
}

// Manager owns channel membership changes and their broadcasts.
type Manager struct {
	store    *store.Store
	notifier *notify.Notifier
	audit    *audit.Service
	opts     Options
	logger   *zap.Logger
}

// NewManager creates a Manager. auditSvc may be nil.
func NewManager(st *store.Store, n *notify.Notifier, auditSvc *audit.Service, opts Options, logger *zap.Logger) *Manager {
	if opts.SearchRadiusKm <= 0 {
		opts.SearchRadiusKm = DefaultSearchRadiusKm
	}
	if opts.MaxRadiusKm <= 0 {
		opts.MaxRadiusKm = geo.DefaultMaxRadiusKm
	}
	return &Manager{store: st, notifier: n, audit: auditSvc, opts: opts, logger: logger}
}

// UpdateLocation stores the user's position and reconciles channel
// membership. A channel is auto-joined only when it is both within the
// search radius (Options.SearchRadiusKm, 1 km by default) and close enough
// that the position lies inside the channel's own radius; a channel found by
// the search whose fence does not reach the user is not joined. Current
// channels whose fence no longer covers the position are left.
// A failure on one channel is logged and does not stop the others.
func (m *Manager) UpdateLocation(ctx context.Context, userID string, lat, lon float64) (*Transition, error) {
	if err := geo.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	current, err := m.store.GetUserChannels(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := m.store.UpdateUserLocation(ctx, userID, lat, lon); err != nil {
		return nil, err
	}
	nearby, err := m.store.NearbyChannels(ctx, lat, lon, m.opts.SearchRadiusKm)
	if err != nil {
		return nil, err
	}

	log := m.logger.With(zap.String("user_id", userID))
	member := make(map[string]bool, len(current))
	for _, ch := range current {
		member[ch.ID] = true
	}

	tr := &Transition{Joined: []Ref{}, Left: []Ref{}}
	for _, ch := range nearby {
		if member[ch.ID] || !geo.Inside(ch.Distance, ch.RadiusKm) {
			continue
		}
		if err := m.store.JoinChannel(ctx, ch.ID, userID); err != nil {
			log.Warn("auto-join failed", zap.String("channel_id", ch.ID), zap.Error(err))
			continue
		}
		tr.Joined = append(tr.Joined, Ref{ID: ch.ID, Name: ch.Name, Distance: ch.Distance})
		m.broadcast(ctx, notify.EventUserJoinedChannel, ch.ID, user)
	}
	for _, ch := range current {
		d := geo.Haversine(lat, lon, ch.Latitude, ch.Longitude)
		if !geo.Outside(d, ch.RadiusKm) {
			continue
		}
		if _, err := m.store.LeaveChannel(ctx, ch.ID, userID); err != nil {
			log.Warn("auto-leave failed", zap.String("channel_id", ch.ID), zap.Error(err))
			continue
		}
		tr.Left = append(tr.Left, Ref{ID: ch.ID, Name: ch.Name, Distance: d})
		m.broadcast(ctx, notify.EventUserLeftChannel, ch.ID, user)
	}

	if len(tr.Joined) > 0 || len(tr.Left) > 0 {
		log.Info("geofence transition",
			zap.Int("joined", len(tr.Joined)),
			zap.Int("left", len(tr.Left)))
	}
	return tr, nil
}

// Nearby lists channels within radiusKm of a point, nearest first. A
// non-positive radius uses the search default.
func (m *Manager) Nearby(ctx context.Context, lat, lon, radiusKm float64) ([]store.ChannelDistance, error) {
	if err := geo.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		radiusKm = m.opts.SearchRadiusKm
	}
	return m.store.NearbyChannels(ctx, lat, lon, radiusKm)
}

// Create persists a new channel and joins its creator to it.
func (m *Manager) Create(ctx context.Context, userID, name string, lat, lon, radiusKm float64) (*model.LocationChannel, error) {
	start := time.Now()
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.InvalidArgument("name is required")
	}
	if len(name) > maxNameLen {
		return nil, apperr.InvalidArgument("name is too long")
	}
	if err := geo.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if err := geo.ValidateRadius(radiusKm, m.opts.MaxRadiusKm); err != nil {
		return nil, err
	}
	ch, err := m.store.CreateLocationChannel(ctx, name, lat, lon, radiusKm, userID)
	if err != nil {
		return nil, err
	}
	if err := m.store.JoinChannel(ctx, ch.ID, userID); err != nil {
		m.logger.Warn("creator auto-join failed",
			zap.String("channel_id", ch.ID), zap.String("user_id", userID), zap.Error(err))
	}
	m.audit.Log(audit.Entry{
		UserID:   userID,
		Action:   "channel.create",
		Subject:  ch.ID,
		Detail:   map[string]any{"name": name, "latitude": lat, "longitude": lon, "radius": radiusKm},
		Duration: time.Since(start),
	})
	m.logger.Info("channel created",
		zap.String("channel_id", ch.ID), zap.String("user_id", userID), zap.String("name", name))
	return ch, nil
}

// Join adds userID to channelID. Re-joining refreshes the join time.
func (m *Manager) Join(ctx context.Context, channelID, userID string) error {
	if _, err := m.store.GetLocationChannel(ctx, channelID); err != nil {
		return err
	}
	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := m.store.JoinChannel(ctx, channelID, userID); err != nil {
		return err
	}
	m.broadcast(ctx, notify.EventUserJoinedChannel, channelID, user)
	return nil
}

// Leave removes userID from channelID. Leaving a channel the user is not in
// succeeds without a broadcast.
func (m *Manager) Leave(ctx context.Context, channelID, userID string) error {
	removed, err := m.store.LeaveChannel(ctx, channelID, userID)
	if err != nil || !removed {
		return err
	}
	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		m.logger.Warn("leave broadcast: user lookup failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	m.broadcast(ctx, notify.EventUserLeftChannel, channelID, user)
	return nil
}

// Participants lists a channel's members. Unknown channels are NotFound.
func (m *Manager) Participants(ctx context.Context, channelID string) ([]store.Participant, error) {
	if _, err := m.store.GetLocationChannel(ctx, channelID); err != nil {
		return nil, err
	}
	return m.store.GetChannelParticipants(ctx, channelID)
}

// UserChannels lists the channels userID currently belongs to.
func (m *Manager) UserChannels(ctx context.Context, userID string) ([]model.LocationChannel, error) {
	return m.store.GetUserChannels(ctx, userID)
}

func (m *Manager) broadcast(ctx context.Context, event, channelID string, user *model.User) {
	m.notifier.EmitToChannel(ctx, channelID, event, memberPayload{
		UserID:    user.ID,
		Username:  user.Username,
		ChannelID: channelID,
	}, user.ID)
}
