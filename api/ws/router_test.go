package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kasuganosora/walkietalkie/server/apperr"
	"github.com/kasuganosora/walkietalkie/server/ptt/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { return zap.NewNop() }

func newConn() *presence.Conn {
	return presence.NewConn(nil, nop(), presence.ConnOptions{SendBuffer: 16})
}

// registeredConn returns a connection already bound to userID.
func registeredConn(t *testing.T, userID string) *presence.Conn {
	t.Helper()
	reg := presence.NewRegistry(nil, nop())
	c := newConn()
	reg.Register(context.Background(), c, userID)
	return c
}

func makePacket(t *testing.T, seq uint64, msgType string, payload any) []byte {
	t.Helper()
	p, _ := json.Marshal(payload)
	b, err := json.Marshal(presence.Packet{Seq: seq, Type: msgType, Payload: p})
	require.NoError(t, err)
	return b
}

func nextPacket(t *testing.T, c *presence.Conn) presence.Packet {
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

func assertNoPacket(t *testing.T, c *presence.Conn) {
	t.Helper()
	select {
	case data := <-c.SendChan:
		t.Fatalf("unexpected packet %s", data)
	default:
	}
}

func TestRouter_On_Dispatch_Basic(t *testing.T) {
	r := NewRouter(nop())
	called := false
	r.On("ping", func(ctx context.Context, c *presence.Conn, payload json.RawMessage) error {
		called = true
		return nil
	})

	r.Dispatch(newConn(), makePacket(t, 1, "ping", nil))
	assert.True(t, called)
}

func TestRouter_Dispatch_MalformedJSON(t *testing.T) {
	r := NewRouter(nop())
	// Should not panic
	r.Dispatch(newConn(), []byte("not json"))
}

func TestRouter_Dispatch_UnknownType(t *testing.T) {
	r := NewRouter(nop())
	called := false
	r.On("known", func(context.Context, *presence.Conn, json.RawMessage) error {
		called = true
		return nil
	})
	r.Dispatch(newConn(), makePacket(t, 1, "unknown", nil))
	assert.False(t, called)
}

func TestRouter_Dispatch_AntiReplay(t *testing.T) {
	r := NewRouter(nop())
	var callCount int
	r.On("msg", func(context.Context, *presence.Conn, json.RawMessage) error {
		callCount++
		return nil
	})
	c := newConn()

	r.Dispatch(c, makePacket(t, 5, "msg", nil))
	r.Dispatch(c, makePacket(t, 5, "msg", nil))
	r.Dispatch(c, makePacket(t, 3, "msg", nil))
	assert.Equal(t, 1, callCount)

	r.Dispatch(c, makePacket(t, 6, "msg", nil))
	r.Dispatch(c, makePacket(t, 100, "msg", nil))
	assert.Equal(t, 3, callCount)
}

func TestRouter_Dispatch_SeqZero_SkipsAntiReplay(t *testing.T) {
	r := NewRouter(nop())
	var callCount int
	r.On("msg", func(context.Context, *presence.Conn, json.RawMessage) error {
		callCount++
		return nil
	})
	c := newConn()
	c.LastSeq = 100

	r.Dispatch(c, makePacket(t, 0, "msg", nil))
	r.Dispatch(c, makePacket(t, 0, "msg", nil))
	assert.Equal(t, 2, callCount)
}

func TestRouter_Dispatch_PayloadAndTracePassed(t *testing.T) {
	r := NewRouter(nop())
	var got struct {
		Value string `json:"value"`
	}
	var trace string
	r.On("echo", func(ctx context.Context, c *presence.Conn, raw json.RawMessage) error {
		trace = c.TraceID
		return json.Unmarshal(raw, &got)
	})
	r.Dispatch(newConn(), makePacket(t, 0, "echo", map[string]string{"value": "hello"}))
	assert.Equal(t, "hello", got.Value)
	assert.NotEmpty(t, trace)
}

func TestRouter_RegisteredOnly(t *testing.T) {
	r := NewRouter(nop())
	called := false
	r.OnRegistered("secure", func(context.Context, *presence.Conn, json.RawMessage) error {
		called = true
		return nil
	})

	anon := newConn()
	r.Dispatch(anon, makePacket(t, 0, "secure", nil))
	assert.False(t, called)
	pkt := nextPacket(t, anon)
	assert.Equal(t, "error", pkt.Type)

	r.Dispatch(registeredConn(t, "u1"), makePacket(t, 0, "secure", nil))
	assert.True(t, called)
}

func TestRouter_ErrorEvents(t *testing.T) {
	r := NewRouter(nop())
	r.On("bad", func(context.Context, *presence.Conn, json.RawMessage) error {
		return apperr.InvalidArgument("nope")
	})
	r.On("gone", func(context.Context, *presence.Conn, json.RawMessage) error {
		return apperr.NotFound("call not found")
	})
	r.On("store", func(context.Context, *presence.Conn, json.RawMessage) error {
		return apperr.StoreUnavailable(assert.AnError)
	})
	c := newConn()

	r.Dispatch(c, makePacket(t, 0, "bad", nil))
	pkt := nextPacket(t, c)
	require.Equal(t, "error", pkt.Type)
	var e errorPayload
	require.NoError(t, json.Unmarshal(pkt.Payload, &e))
	assert.Equal(t, apperr.CodeInvalidArgument, e.Code)
	assert.Equal(t, "nope", e.Message)
	assert.Equal(t, "bad", e.Type)

	r.Dispatch(c, makePacket(t, 0, "gone", nil))
	r.Dispatch(c, makePacket(t, 0, "store", nil))
	assertNoPacket(t, c)
}

func TestRouter_RecoversPanic(t *testing.T) {
	r := NewRouter(nop())
	after := false
	r.On("boom", func(context.Context, *presence.Conn, json.RawMessage) error {
		panic("handler bug")
	})
	r.On("after", func(context.Context, *presence.Conn, json.RawMessage) error {
		after = true
		return nil
	})
	c := newConn()

	assert.NotPanics(t, func() { r.Dispatch(c, makePacket(t, 0, "boom", nil)) })
	r.Dispatch(c, makePacket(t, 0, "after", nil))
	assert.True(t, after)
	assertNoPacket(t, c)
}

func TestOriginChecker(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")

	assert.True(t, OriginChecker(nil)(req))
	assert.True(t, OriginChecker([]string{"https://app.example.com"})(req))
	assert.False(t, OriginChecker([]string{"https://other.example.com"})(req))
}
