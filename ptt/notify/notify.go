// Package notify fans server events out to users' live connections.
// Delivery is fire-and-forget: nothing here returns an error.
package notify

import (
	"context"

	"github.com/kasuganosora/walkietalkie/server/metrics"
	"github.com/kasuganosora/walkietalkie/server/ptt/presence"
	"go.uber.org/zap"
)

// Server-to-client event names.
const (
	EventFriendRequestReceived = "friend-request-received"
	EventFriendRequestAccepted = "friend-request-accepted"
	EventFriendRequestRejected = "friend-request-rejected"
	EventFriendshipUpdated     = "friendship-updated"
	EventIncomingCall          = "incoming-call"
	EventCallRetry             = "call-retry"
	EventCallAnswered          = "call-answered"
	EventCallEnded             = "call-ended"
	EventAudioData             = "audio-data"
	EventAudioStreamStarted    = "audio-stream-started"
	EventAudioStreamStopped    = "audio-stream-stopped"
	EventUserJoinedChannel     = "user-joined-channel"
	EventUserLeftChannel       = "user-left-channel"
	EventGroupCallStarted      = "group-call-started"
	EventGroupCallJoined       = "group-call-joined"
	EventAnnouncement          = "announcement"
	EventError                 = "error"
)

// AnnouncementTopic is the pub/sub channel that carries admin announcements.
const AnnouncementTopic = "walkietalkie:announcements"

// Router resolves users and channels to live connections.
type Router interface {
	Route(userID string) []*presence.Conn
	RouteToChannel(ctx context.Context, channelID string) []*presence.Conn
}

// Notifier writes events to every connection of the addressed users.
type Notifier struct {
	router Router
	logger *zap.Logger
}

func New(router Router, logger *zap.Logger) *Notifier {
	return &Notifier{router: router, logger: logger}
}

// Emit sends event to every live connection of userID. An unreachable user
// silently receives nothing.
func (n *Notifier) Emit(userID, event string, payload any) {
	n.EmitToUsers([]string{userID}, event, payload)
}

// EmitToUsers sends one encoded copy of event to each user in ids.
func (n *Notifier) EmitToUsers(ids []string, event string, payload any) {
	if len(ids) == 0 {
		return
	}
	data, ok := n.encode(event, payload)
	if !ok {
		return
	}
	for _, id := range ids {
		n.deliver(n.router.Route(id), data)
	}
	metrics.NotificationsTotal.WithLabelValues(event).Inc()
}

// EmitToChannel sends event to every current participant of channelID except
// excludeUserID ("" excludes nobody).
func (n *Notifier) EmitToChannel(ctx context.Context, channelID, event string, payload any, excludeUserID string) {
	conns := n.router.RouteToChannel(ctx, channelID)
	if len(conns) == 0 {
		return
	}
	data, ok := n.encode(event, payload)
	if !ok {
		return
	}
	targets := conns[:0:0]
	for _, c := range conns {
		if excludeUserID != "" && c.UserID() == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	n.deliver(targets, data)
	metrics.NotificationsTotal.WithLabelValues(event).Inc()
}

// SendTo writes event to a single connection, used for acknowledgements and
// error replies on the connection that asked.
func (n *Notifier) SendTo(conn *presence.Conn, event string, payload any) {
	data, ok := n.encode(event, payload)
	if !ok {
		return
	}
	conn.SendRaw(data)
}

func (n *Notifier) encode(event string, payload any) ([]byte, bool) {
	data, err := presence.Encode(event, payload)
	if err != nil {
		n.logger.Error("notify: encode failed", zap.String("event", event), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (n *Notifier) deliver(conns []*presence.Conn, data []byte) {
	for _, c := range conns {
		c.SendRaw(data)
	}
}
