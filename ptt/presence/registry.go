// Package presence tracks which users are reachable and through which live
// connections.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	EventUserOnline  = "user-online"
	EventUserOffline = "user-offline"
)

// Directory is the slice of the store the registry reads from.
type Directory interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
	ChannelParticipantIDs(ctx context.Context, channelID string) ([]string, error)
}

type userPayload struct {
	UserID string `json:"userId"`
}

// Registry maps user ids to their live connections. One Registry is built at
// startup and handed to every component that addresses users.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[*Conn]struct{}
	byConn map[*Conn]string
	live   map[*Conn]struct{}
	dir    Directory
	logger *zap.Logger
}

// NewRegistry creates an empty Registry. A nil dir disables presence
// broadcasts and channel routing.
func NewRegistry(dir Directory, logger *zap.Logger) *Registry {
	return &Registry{
		byUser: make(map[string]map[*Conn]struct{}),
		byConn: make(map[*Conn]string),
		live:   make(map[*Conn]struct{}),
		dir:    dir,
		logger: logger,
	}
}

// Register associates conn with userID and announces the user online to
// every accepted friend. Registering the same pair again only refreshes the
// association; registering conn under a new user moves it, and the old user
// goes offline if that was their last connection.
func (r *Registry) Register(ctx context.Context, conn *Conn, userID string) {
	var prevUser string
	var prevLast bool
	r.mu.Lock()
	if prev, ok := r.byConn[conn]; ok && prev != userID {
		prevUser = prev
		prevLast = r.detachLocked(conn, prev)
	}
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		r.byUser[userID] = set
	}
	set[conn] = struct{}{}
	r.byConn[conn] = userID
	conn.setUserID(userID)
	n := len(set)
	r.mu.Unlock()

	r.logger.Info("connection registered",
		zap.String("user_id", userID),
		zap.String("conn_id", conn.ID),
		zap.Int("connections", n))
	if prevLast {
		r.broadcastPresence(ctx, prevUser, EventUserOffline)
	}
	r.broadcastPresence(ctx, userID, EventUserOnline)
}

// Track records a live connection that may not have registered yet, so
// CloseAll reaches it.
func (r *Registry) Track(conn *Conn) {
	r.mu.Lock()
	r.live[conn] = struct{}{}
	r.mu.Unlock()
}

// Untrack forgets conn. It does not unregister it.
func (r *Registry) Untrack(conn *Conn) {
	r.mu.Lock()
	delete(r.live, conn)
	r.mu.Unlock()
}

// LiveCount returns the number of tracked connections, registered or not.
func (r *Registry) LiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// Unregister drops conn. When its user has no connection left, friends are
// told the user went offline. Unknown connections are ignored.
func (r *Registry) Unregister(ctx context.Context, conn *Conn) {
	r.mu.Lock()
	userID, ok := r.byConn[conn]
	if !ok {
		r.mu.Unlock()
		return
	}
	last := r.detachLocked(conn, userID)
	r.mu.Unlock()

	r.logger.Info("connection unregistered",
		zap.String("user_id", userID),
		zap.String("conn_id", conn.ID))
	if last {
		r.broadcastPresence(ctx, userID, EventUserOffline)
	}
}

// detachLocked removes conn from userID and reports whether it was the last
// connection of that user. Caller holds r.mu.
func (r *Registry) detachLocked(conn *Conn, userID string) bool {
	delete(r.byConn, conn)
	set := r.byUser[userID]
	delete(set, conn)
	if len(set) == 0 {
		delete(r.byUser, userID)
		return true
	}
	return false
}

// Route returns a snapshot of userID's live connections. An empty result
// means the user is unreachable.
func (r *Registry) Route(userID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// RouteToChannel returns the live connections of every current participant
// of channelID. Membership failures are logged and yield no connections.
func (r *Registry) RouteToChannel(ctx context.Context, channelID string) []*Conn {
	if r.dir == nil {
		return nil
	}
	ids, err := r.dir.ChannelParticipantIDs(ctx, channelID)
	if err != nil {
		r.logger.Warn("channel membership lookup failed",
			zap.String("channel_id", channelID), zap.Error(err))
		return nil
	}
	var out []*Conn
	for _, id := range ids {
		out = append(out, r.Route(id)...)
	}
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineCount is the number of distinct reachable users.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// ConnectionCount is the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// OnlineUserIDs returns reachable user ids in sorted order.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// BroadcastAll queues a pre-encoded packet on every registered connection.
func (r *Registry) BroadcastAll(data []byte) {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.byConn))
	for c := range r.byConn {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		c.SendRaw(data)
	}
}

// CloseAll closes every tracked or registered connection and waits up to
// maxWait for their handlers to release them.
func (r *Registry) CloseAll(maxWait time.Duration) {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.live))
	for c := range r.live {
		conns = append(conns, c)
	}
	for c := range r.byConn {
		if _, ok := r.live[c]; !ok {
			conns = append(conns, c)
		}
	}
	r.mu.RUnlock()

	r.logger.Info("closing all connections", zap.Int("count", len(conns)))
	for _, c := range conns {
		c.Close()
	}

	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		if r.ConnectionCount() == 0 && r.LiveCount() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (r *Registry) broadcastPresence(ctx context.Context, userID, event string) {
	if r.dir == nil {
		return
	}
	friends, err := r.dir.FriendIDs(ctx, userID)
	if err != nil {
		r.logger.Warn("presence broadcast: friend lookup failed",
			zap.String("user_id", userID), zap.Error(err))
		return
	}
	if len(friends) == 0 {
		return
	}
	data, err := Encode(event, userPayload{UserID: userID})
	if err != nil {
		r.logger.Error("presence broadcast: encode", zap.Error(err))
		return
	}
	for _, fid := range friends {
		for _, c := range r.Route(fid) {
			c.SendRaw(data)
		}
	}
}
