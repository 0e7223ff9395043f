package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apirest "github.com/kasuganosora/walkietalkie/server/api/rest"
	"github.com/kasuganosora/walkietalkie/server/api/sse"
	apiws "github.com/kasuganosora/walkietalkie/server/api/ws"
	"github.com/kasuganosora/walkietalkie/server/audit"
	"github.com/kasuganosora/walkietalkie/server/cache"
	mw "github.com/kasuganosora/walkietalkie/server/middleware"
	"github.com/kasuganosora/walkietalkie/server/ptt/audio"
	"github.com/kasuganosora/walkietalkie/server/ptt/call"
	"github.com/kasuganosora/walkietalkie/server/ptt/channel"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/ptt/presence"
	"github.com/kasuganosora/walkietalkie/server/scheduler"
	"github.com/kasuganosora/walkietalkie/server/store"
	"github.com/kasuganosora/walkietalkie/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminKey is the admin key the test server accepts.
const AdminKey = "integration-admin-key"

// TestServer wraps a real HTTP server with the relay wired as main.go does.
type TestServer struct {
	DB       *gorm.DB
	Store    *store.Store
	Cache    cache.Cache
	PubSub   cache.PubSub
	Registry *presence.Registry
	Server   *httptest.Server
	URL      string // http://127.0.0.1:<port>
	WSURL    string // ws://127.0.0.1:<port>/ws

	sched    *scheduler.Scheduler
	auditSvc *audit.Service
}

// NewTestServer creates a fully wired relay server for integration testing.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	st := store.New(db)
	auditSvc := audit.New(db, logger)

	// ---- Relay core ----
	registry := presence.NewRegistry(st, logger)
	notifier := notify.New(registry, logger)
	channels := channel.NewManager(st, notifier, auditSvc, channel.Options{
		SearchRadiusKm: 1,
		MaxRadiusKm:    10,
	}, logger)
	calls := call.NewCoordinator(st, notifier, c, auditSvc, call.Options{
		GroupStartLockTTL: time.Second,
	}, logger)
	relay := audio.NewRelay(calls, st, notifier, c, time.Minute, logger)
	sched := scheduler.New(logger)

	// ---- WS Router ----
	wsRouter := apiws.NewRouter(logger)
	apiws.NewPTTHandlers(st, registry, channels, calls, relay, notifier, logger).RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger), mw.Metrics())
	r.GET("/health", apirest.Health(st))

	handlers := &apirest.Handlers{
		Users:    apirest.NewUserHandler(st, logger),
		Friends:  apirest.NewFriendHandler(st, notifier, registry, logger),
		Calls:    apirest.NewCallHandler(calls, logger),
		Location: apirest.NewLocationHandler(channels, calls, logger),
		Admin:    apirest.NewAdminHandler(registry, pubsub, sched, logger),
	}
	handlers.Register(r, apirest.AdminOptions{Key: AdminKey})

	wsH := apiws.NewHandler(st, registry, wsRouter, nil, presence.ConnOptions{}, logger)
	r.GET("/ws", wsH.ServeWS)
	r.GET("/sse", sse.NewHandler(pubsub, st, time.Second, logger).ServeSSE)

	// ---- Start server ----
	server := httptest.NewServer(r)
	url := server.URL
	ts := &TestServer{
		DB:       db,
		Store:    st,
		Cache:    c,
		PubSub:   pubsub,
		Registry: registry,
		Server:   server,
		URL:      url,
		WSURL:    "ws" + url[len("http"):] + "/ws",
		sched:    sched,
		auditSvc: auditSvc,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the test server.
func (ts *TestServer) Close() {
	ts.Registry.CloseAll(time.Second)
	ts.Server.Close()
	ts.sched.Stop()
	ts.auditSvc.Stop(context.Background())
}

// --- HTTP helpers ---

// Do sends a request with an optional JSON body as userID and returns the
// response. An empty userID sends no identity header.
func (ts *TestServer) Do(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(mw.UserIDHeader, userID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request as userID.
func (ts *TestServer) PostJSON(t *testing.T, path, userID string, body any) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodPost, path, userID, body)
}

// Get sends a GET request as userID.
func (ts *TestServer) Get(t *testing.T, path, userID string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodGet, path, userID, nil)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Domain helpers ---

// User is a registered account as the REST layer returns it.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// RegisterUser registers a user with a generated unique name.
func (ts *TestServer) RegisterUser(t *testing.T) User {
	t.Helper()
	resp := ts.PostJSON(t, "/api/users/register", "", map[string]string{
		"username": UniqueName(),
		"deviceId": gofakeit.UUID(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out struct {
		User User `json:"user"`
	}
	ReadJSON(t, resp, &out)
	require.NotEmpty(t, out.User.ID)
	return out.User
}

// Befriend sends a friend request from a to b and accepts it as b.
func (ts *TestServer) Befriend(t *testing.T, a, b User) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/friends/request", a.ID, map[string]string{"username": b.Username})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out struct {
		Request struct {
			ID string `json:"id"`
		} `json:"request"`
	}
	ReadJSON(t, resp, &out)

	resp = ts.PostJSON(t, "/api/friends/requests/"+out.Request.ID+"/accept", b.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

var nameCounter uint64

// UniqueName returns a username no other test in the run will produce.
func UniqueName() string {
	n := atomic.AddUint64(&nameCounter, 1)
	return fmt.Sprintf("%s%d", gofakeit.FirstName(), n)
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// A background readLoop feeds readCh so a timed-out receive never poisons
// the connection.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// Packet is one server event.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the packet payload into out.
func (p Packet) Decode(t *testing.T, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(p.Payload, out), "payload: %s", string(p.Payload))
}

// ConnectWS dials the WS endpoint. A non-empty userID binds the connection
// at upgrade time.
func (ts *TestServer) ConnectWS(t *testing.T, userID string) *WSClient {
	t.Helper()
	url := ts.WSURL
	if userID != "" {
		url += "?userId=" + userID
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	t.Cleanup(wc.Close)
	return wc
}

// WaitOnline blocks until the registry holds n connections.
func (ts *TestServer) WaitOnline(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return ts.Registry.ConnectionCount() == n },
		2*time.Second, 10*time.Millisecond)
}

func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes one client event.
func (wc *WSClient) Send(msgType string, payload any) {
	wc.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	data, err := json.Marshal(Packet{
		Seq:     atomic.AddUint64(&wc.seq, 1),
		Type:    msgType,
		Payload: raw,
	})
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// RecvAny reads one event, returning an error on timeout or read failure.
func (wc *WSClient) RecvAny(timeout time.Duration) (Packet, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return Packet{}, res.err
		}
		var pkt Packet
		err := json.Unmarshal(res.data, &pkt)
		return pkt, err
	case <-time.After(timeout):
		return Packet{}, errTimeout
	}
}

var errTimeout = errors.New("read timeout")

// RecvType reads events until one with the given type arrives.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) Packet {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		pkt, err := wc.RecvAny(remaining)
		if err == errTimeout {
			break
		}
		require.NoError(wc.t, err, "WS recv failed while waiting for %q", msgType)
		if pkt.Type == msgType {
			return pkt
		}
	}
	wc.t.Fatalf("timed out waiting for message type %q", msgType)
	return Packet{}
}

// ExpectNone fails if an event of msgType arrives within wait.
func (wc *WSClient) ExpectNone(msgType string, wait time.Duration) {
	wc.t.Helper()
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		pkt, err := wc.RecvAny(remaining)
		if err != nil {
			return
		}
		if pkt.Type == msgType {
			wc.t.Fatalf("unexpected %q: %s", msgType, string(pkt.Payload))
		}
	}
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}
