package ws

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/kasuganosora/walkietalkie/server/apperr"
	"github.com/kasuganosora/walkietalkie/server/ptt/audio"
	"github.com/kasuganosora/walkietalkie/server/ptt/call"
	"github.com/kasuganosora/walkietalkie/server/ptt/channel"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/ptt/presence"
	"github.com/kasuganosora/walkietalkie/server/store"
	"go.uber.org/zap"
)

// Client-to-server event names.
const (
	EventRegister             = "register"
	EventPing                 = "ping"
	EventUpdateLocation       = "update-location"
	EventJoinLocationChannel  = "join-location-channel"
	EventLeaveLocationChannel = "leave-location-channel"
	EventStartGroupCall       = "start-group-call"
	EventJoinGroupCall        = "join-group-call"
	EventAnswerCall           = "answer-call"
	EventAudioData            = "audio-data"
	EventStartAudioStream     = "start-audio-stream"
	EventStopAudioStream      = "stop-audio-stream"
	EventEndCall              = "end-call"
)

// Acknowledgements sent back to the requesting connection only.
const (
	AckRegistered     = "registered"
	AckPong           = "pong"
	AckLocationUpdate = "location-updated"
	AckChannelJoined  = "location-channel-joined"
	AckChannelLeft    = "location-channel-left"
)

// PTTHandlers handles the push-to-talk WebSocket events.
type PTTHandlers struct {
	store    *store.Store
	presence *presence.Registry
	channels *channel.Manager
	calls    *call.Coordinator
	relay    *audio.Relay
	notifier *notify.Notifier
	logger   *zap.Logger
}

// NewPTTHandlers creates PTTHandlers.
func NewPTTHandlers(
	st *store.Store,
	reg *presence.Registry,
	channels *channel.Manager,
	calls *call.Coordinator,
	relay *audio.Relay,
	n *notify.Notifier,
	logger *zap.Logger,
) *PTTHandlers {
	return &PTTHandlers{
		store:    st,
		presence: reg,
		channels: channels,
		calls:    calls,
		relay:    relay,
		notifier: n,
		logger:   logger,
	}
}

// RegisterHandlers registers every push-to-talk WS handler.
func (h *PTTHandlers) RegisterHandlers(r *Router) {
	r.On(EventRegister, h.HandleRegister)
	r.On(EventPing, h.HandlePing)
	r.OnRegistered(EventUpdateLocation, h.HandleUpdateLocation)
	r.OnRegistered(EventJoinLocationChannel, h.HandleJoinChannel)
	r.OnRegistered(EventLeaveLocationChannel, h.HandleLeaveChannel)
	r.OnRegistered(EventStartGroupCall, h.HandleStartGroupCall)
	r.OnRegistered(EventJoinGroupCall, h.HandleJoinGroupCall)
	r.OnRegistered(EventAnswerCall, h.HandleAnswerCall)
	r.OnRegistered(EventAudioData, h.HandleAudioData)
	r.OnRegistered(EventStartAudioStream, h.HandleStartAudioStream)
	r.OnRegistered(EventStopAudioStream, h.HandleStopAudioStream)
	r.OnRegistered(EventEndCall, h.HandleEndCall)
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return apperr.InvalidArgument("payload is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.InvalidArgument("malformed payload")
	}
	return nil
}

type userPayload struct {
	UserID string `json:"userId"`
}

type registeredPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// HandleRegister binds the connection to a user.
func (h *PTTHandlers) HandleRegister(ctx context.Context, conn *presence.Conn, raw json.RawMessage) error {
	var req userPayload
	if err := decode(raw, &req); err != nil {
		return err
	}
	id := strings.TrimSpace(req.UserID)
	if id == "" {
		return apperr.InvalidArgument("userId is required")
	}
	u, err := h.store.GetUserByID(ctx, id)
	if apperr.Is(err, apperr.CodeNotFound) {
		return apperr.InvalidArgument("unknown user")
	}
	if err != nil {
		return err
	}
	h.presence.Register(ctx, conn, u.ID)
	h.notifier.SendTo(conn, AckRegistered, registeredPayload{UserID: u.ID, Username: u.Username})
	return nil
}

// HandlePing answers with pong.
func (h *PTTHandlers) HandlePing(_ context.Context, conn *presence.Conn, _ json.RawMessage) error {
	h.notifier.SendTo(conn, AckPong, map[string]int64{"time": time.Now().UnixMilli()})
	return nil
}

type locationPayload struct {
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (p locationPayload) coords() (lat, lon float64, ok bool) {
	la, lo := p.Lat, p.Lon
	if la == nil {
		la = p.Latitude
	}
	if lo == nil {
		lo = p.Longitude
	}
	if la == nil || lo == nil {
		return 0, 0, false
	}
	return *la, *lo, true
}

// HandleUpdateLocation runs the geofence transition for the sender.
func (h *PTTHandlers) HandleUpdateLocation(ctx context.Context, conn *presence.Conn, raw json.RawMessage) error {
	var req locationPayload
	if err := decode(raw, &req); err != nil {
		return err
	}
	lat, lon, ok := req.coords()
	if !ok {
		return apperr.InvalidArgument("lat and lon are required")
	}
	tr, err := h.channels.UpdateLocation(ctx, conn.UserID(), lat, lon)
	if err != nil {
		return err
	}
	h.notifier.SendTo(conn, AckLocationUpdate, tr)
	return nil
}

type channelPayload struct {
	ChannelID string `json:"channelId"`
}

func (p channelPayload) validate() error {
	if p.ChannelID == "" {
		return apperr.InvalidArgument("channelId is required")
	}
	return nil
}

// HandleJoinChannel joins the sender to a channel.
func (h *PTTHandlers) HandleJoinChannel(ctx context.Context, conn *presence.Conn, raw json.RawMessage) error {
	var req channelPayload
	if err := decode(raw, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	if err := h.channels.Join(ctx, req.ChannelID, conn.UserID()); err != nil {
		return err
	}
	h.notifier.SendTo(conn, AckChannelJoined, req)
	return nil
}

// HandleLeaveChannel removes the sender from a channel.
func (h *PTTHandlers) HandleLeaveChannel(ctx context.Context, conn *presence.Conn, raw json.RawMessage) error {
	var req channelPayload
	if err := decode(raw, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	if err := h.channels.Leave(ctx, req.ChannelID, conn.UserID()); err != nil {
		return err
	}
	h.notifier.SendTo(conn, AckChannelLeft, req)
	return nil
}

// HandleStartGroupCall opens the channel's group call. When one is already
// live only the requester is told about it.
func (h *PTTHandlers) HandleStartGroupCall(ctx context.Context, conn *presence.Conn, raw json.RawMessage) error {
	var req channelPayload
	if err := decode(raw, &req); err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	res, err := h.calls.StartGroupCall(ctx, conn.UserID(), req.ChannelID)
	if err != nil {
		return err
	}
	if res.Existing {
		h.notifier.SendTo(conn, notify.EventGroupCallStarted, res)
	}
	return nil
}

type callPayload struct {
	CallID string          `json:"callId"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

// HandleJoinGroupCall confirms an existing group call to the sender.
func (h *PTTHandlers) HandleJoinGroupCall(ctx context.Context, conn *presence.Conn, raw json.RawMessage) error {
	var req callPayload
	if err := decode(raw, &req); err != nil {
		return err
	}
	if req.CallID == "" {
		return apperr.InvalidArgument("callId is required")
	}
	_, err := h.calls.JoinGroupCall(ctx, conn.UserID(), req.CallID)
	return err
}

// HandleAnswerCall connects a pending 1:1 call.
func (h *PTTHandlers) HandleAnswerCall(ctx context.Context, conn *presence.Conn, raw json.RawMessage) error {
	var req callPayload
	if err := decode(raw, &req); err != nil {
		return err
	}
	_, err := h.calls.Answer(ctx, conn.UserID(), req.CallID, req.Answer)
	return err
}

// HandleAudioData relays one audio frame to the call's other participants.
func (h *PTTHandlers) HandleAudioData(ctx context.Context, conn *presence.Conn, raw json.RawMessage) error {
	callID, frame, err := audio.DecodeFrame(raw)
	if err != nil {
		return err
	}
	h.relay.Relay(ctx, callID, conn.UserID(), frame)
	return nil
}

// HandleStartAudioStream marks the sender as talking.
func (h *PTTHandlers) HandleStartAudioStream(ctx context.Context, conn *presence.Conn, raw json.RawMessage) error {
	var req callPayload
	if err := decode(raw, &req); err != nil {
		return err
	}
	if req.CallID == "" {
		return apperr.InvalidArgument("callId is required")
	}
	h.relay.StartStream(ctx, req.CallID, conn.UserID())
	return nil
}

// HandleStopAudioStream marks the sender as silent.
func (h *PTTHandlers) HandleStopAudioStream(ctx context.Context, conn *presence.Conn, raw json.RawMessage) error {
	var req callPayload
	if err := decode(raw, &req); err != nil {
		return err
	}
	if req.CallID == "" {
		return apperr.InvalidArgument("callId is required")
	}
	h.relay.StopStream(ctx, req.CallID, conn.UserID())
	return nil
}

// HandleEndCall ends a call. Calls that are already gone are ignored.
func (h *PTTHandlers) HandleEndCall(ctx context.Context, conn *presence.Conn, raw json.RawMessage) error {
	var req callPayload
	if err := decode(raw, &req); err != nil {
		return err
	}
	_, err := h.calls.End(ctx, conn.UserID(), req.CallID)
	if apperr.Is(err, apperr.CodeNotFound) {
		h.logger.Debug("end-call for unknown call",
			zap.String("call_id", req.CallID),
			zap.String("user_id", conn.UserID()))
		return nil
	}
	return err
}
