package rest_test

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/walkietalkie/server/api/rest"
	mw "github.com/kasuganosora/walkietalkie/server/middleware"
	"github.com/kasuganosora/walkietalkie/server/ptt/call"
	"github.com/kasuganosora/walkietalkie/server/ptt/channel"
	"github.com/kasuganosora/walkietalkie/server/scheduler"
	"github.com/kasuganosora/walkietalkie/server/testutil"
	"github.com/stretchr/testify/require"
)

const testAdminKey = "admin-secret"

func init() { gin.SetMode(gin.TestMode) }

type testServer struct {
	*testutil.Env
	Router *gin.Engine
	Sched  *scheduler.Scheduler
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	env := testutil.NewEnv(t)
	co := call.NewCoordinator(env.Store, env.Notifier, env.Cache, nil, call.Options{}, env.Logger)
	mgr := channel.NewManager(env.Store, env.Notifier, nil, channel.Options{}, env.Logger)
	sched := scheduler.New(env.Logger)
	t.Cleanup(sched.Stop)

	h := &rest.Handlers{
		Users:    rest.NewUserHandler(env.Store, env.Logger),
		Friends:  rest.NewFriendHandler(env.Store, env.Notifier, env.Registry, env.Logger),
		Calls:    rest.NewCallHandler(co, env.Logger),
		Location: rest.NewLocationHandler(mgr, co, env.Logger),
		Admin:    rest.NewAdminHandler(env.Registry, env.PubSub, sched, env.Logger),
	}
	r := gin.New()
	r.Use(mw.TraceID())
	r.GET("/health", rest.Health(env.Store))
	h.Register(r, rest.AdminOptions{Key: testAdminKey})
	return &testServer{Env: env, Router: r, Sched: sched}
}

// do sends a request as userID (empty for anonymous) and decodes the JSON
// response into out when out is non-nil.
func (s *testServer) do(t *testing.T, method, path, userID string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(mw.UserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func (s *testServer) admin(t *testing.T, method, path, key string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(mw.AdminKeyHeader, key)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

type errBody struct {
	Error string `json:"error"`
}
