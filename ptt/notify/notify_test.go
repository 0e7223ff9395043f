package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kasuganosora/walkietalkie/server/ptt/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type dir struct {
	members map[string][]string
}

func (d *dir) FriendIDs(context.Context, string) ([]string, error) { return nil, nil }

func (d *dir) ChannelParticipantIDs(_ context.Context, channelID string) ([]string, error) {
	return d.members[channelID], nil
}

func setup(t *testing.T) (*Notifier, *presence.Registry, *dir) {
	d := &dir{members: map[string][]string{}}
	reg := presence.NewRegistry(d, zap.NewNop())
	return New(reg, zap.NewNop()), reg, d
}

func connFor(t *testing.T, reg *presence.Registry, userID string) *presence.Conn {
	c := presence.NewConn(nil, zap.NewNop(), presence.ConnOptions{SendBuffer: 8})
	reg.Register(context.Background(), c, userID)
	return c
}

func next(t *testing.T, c *presence.Conn) presence.Packet {
	t.Helper()
	select {
	case data := <-c.SendChan:
		var pkt presence.Packet
		require.NoError(t, json.Unmarshal(data, &pkt))
		return pkt
	case <-time.After(time.Second):
		t.Fatal("no packet")
	}
	return presence.Packet{}
}

func silent(t *testing.T, c *presence.Conn) {
	t.Helper()
	select {
	case data := <-c.SendChan:
		t.Fatalf("unexpected %s", data)
	default:
	}
}

func TestEmitAllConnections(t *testing.T) {
	n, reg, _ := setup(t)
	a1, a2 := connFor(t, reg, "alice"), connFor(t, reg, "alice")
	b := connFor(t, reg, "bob")

	n.Emit("alice", EventCallEnded, map[string]string{"callId": "c1"})
	for _, c := range []*presence.Conn{a1, a2} {
		pkt := next(t, c)
		assert.Equal(t, EventCallEnded, pkt.Type)
		assert.JSONEq(t, `{"callId":"c1"}`, string(pkt.Payload))
	}
	silent(t, b)
}

func TestEmitUnreachableIsSilent(t *testing.T) {
	n, _, _ := setup(t)
	assert.NotPanics(t, func() {
		n.Emit("nobody", EventIncomingCall, nil)
		n.EmitToUsers(nil, EventIncomingCall, nil)
	})
}

func TestEmitUnencodablePayloadIsSwallowed(t *testing.T) {
	n, reg, _ := setup(t)
	a := connFor(t, reg, "alice")
	assert.NotPanics(t, func() {
		n.Emit("alice", "bad", map[string]any{"f": func() {}})
	})
	silent(t, a)
}

func TestEmitToChannelExcludes(t *testing.T) {
	n, reg, d := setup(t)
	d.members["ch"] = []string{"x", "y", "z"}
	x, y, z := connFor(t, reg, "x"), connFor(t, reg, "y"), connFor(t, reg, "z")
	outsider := connFor(t, reg, "w")

	n.EmitToChannel(context.Background(), "ch", EventUserJoinedChannel, map[string]string{"userId": "x"}, "x")
	assert.Equal(t, EventUserJoinedChannel, next(t, y).Type)
	assert.Equal(t, EventUserJoinedChannel, next(t, z).Type)
	silent(t, x)
	silent(t, outsider)

	n.EmitToChannel(context.Background(), "ch", EventGroupCallStarted, nil, "")
	for _, c := range []*presence.Conn{x, y, z} {
		assert.Equal(t, EventGroupCallStarted, next(t, c).Type)
	}
}

func TestSendTo(t *testing.T) {
	n, reg, _ := setup(t)
	a1, a2 := connFor(t, reg, "alice"), connFor(t, reg, "alice")
	n.SendTo(a1, "pong", nil)
	assert.Equal(t, "pong", next(t, a1).Type)
	silent(t, a2)
}
