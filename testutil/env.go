package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/kasuganosora/walkietalkie/server/cache"
	"github.com/kasuganosora/walkietalkie/server/model"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/ptt/presence"
	"github.com/kasuganosora/walkietalkie/server/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var userSeq int64

// Env wires the relay core over an in-memory database with socketless
// connections.
type Env struct {
	DB       *gorm.DB
	Store    *store.Store
	Registry *presence.Registry
	Notifier *notify.Notifier
	Cache    cache.Cache
	PubSub   cache.PubSub
	Logger   *zap.Logger
}

// NewEnv builds a fresh Env for one test.
func NewEnv(t *testing.T) *Env {
	t.Helper()
	db := SetupTestDB(t)
	c, ps := SetupTestCache(t)
	st := store.New(db)
	logger := zap.NewNop()
	reg := presence.NewRegistry(st, logger)
	return &Env{
		DB:       db,
		Store:    st,
		Registry: reg,
		Notifier: notify.New(reg, logger),
		Cache:    c,
		PubSub:   ps,
		Logger:   logger,
	}
}

// User creates a user with a generated, unique username.
func (e *Env) User(t *testing.T) *model.User {
	t.Helper()
	name := fmt.Sprintf("%s%d", gofakeit.FirstName(), atomic.AddInt64(&userSeq, 1))
	u, err := e.Store.CreateUser(context.Background(), name, gofakeit.UUID())
	require.NoError(t, err)
	return u
}

// Befriend creates an accepted friendship between a and b.
func (e *Env) Befriend(t *testing.T, a, b *model.User) {
	t.Helper()
	ctx := context.Background()
	f, err := e.Store.CreateFriendRequest(ctx, a.ID, b.ID)
	require.NoError(t, err)
	_, err = e.Store.AcceptFriendRequest(ctx, f.ID)
	require.NoError(t, err)
}

// Connect registers a socketless connection for userID.
func (e *Env) Connect(userID string) *presence.Conn {
	c := presence.NewConn(nil, e.Logger, presence.ConnOptions{SendBuffer: 64})
	e.Registry.Register(context.Background(), c, userID)
	return c
}

// Next returns the next packet queued on c.
func Next(t *testing.T, c *presence.Conn) presence.Packet {
	t.Helper()
	select {
	case data := <-c.SendChan:
		var pkt presence.Packet
		require.NoError(t, json.Unmarshal(data, &pkt))
		return pkt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for packet")
	}
	return presence.Packet{}
}

// NextOfType skips packets until one of the given type arrives and decodes
// its payload into out when out is non-nil.
func NextOfType(t *testing.T, c *presence.Conn, typ string, out any) presence.Packet {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case data := <-c.SendChan:
			var pkt presence.Packet
			require.NoError(t, json.Unmarshal(data, &pkt))
			if pkt.Type != typ {
				continue
			}
			if out != nil {
				require.NoError(t, json.Unmarshal(pkt.Payload, out))
			}
			return pkt
		case <-deadline:
			t.Fatalf("timed out waiting for %q", typ)
		}
	}
}

// Drain discards everything queued on c.
func Drain(c *presence.Conn) {
	for {
		select {
		case <-c.SendChan:
		default:
			return
		}
	}
}

// Silent fails if c has anything queued other than the ignored types.
func Silent(t *testing.T, c *presence.Conn, ignore ...string) {
	t.Helper()
	for {
		select {
		case data := <-c.SendChan:
			var pkt presence.Packet
			require.NoError(t, json.Unmarshal(data, &pkt))
			skip := false
			for _, typ := range ignore {
				if pkt.Type == typ {
					skip = true
				}
			}
			if !skip {
				t.Fatalf("unexpected packet %s", data)
			}
		default:
			return
		}
	}
}
