package integration

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait = 3 * time.Second

func TestHealth(t *testing.T) {
	ts := NewTestServer(t)
	resp := ts.Get(t, "/health", "")
	var out map[string]string
	ReadJSON(t, resp, &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["status"])
}

func TestPresenceBetweenFriends(t *testing.T) {
	ts := NewTestServer(t)
	alice, bob := ts.RegisterUser(t), ts.RegisterUser(t)
	ts.Befriend(t, alice, bob)

	aliceWS := ts.ConnectWS(t, alice.ID)
	ts.WaitOnline(t, 1)

	bobWS := ts.ConnectWS(t, "")
	bobWS.Send("register", map[string]string{"userId": bob.ID})
	var ack struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	bobWS.RecvType("registered", wait).Decode(t, &ack)
	assert.Equal(t, bob.ID, ack.UserID)
	assert.Equal(t, bob.Username, ack.Username)

	var online struct {
		UserID string `json:"userId"`
	}
	aliceWS.RecvType("user-online", wait).Decode(t, &online)
	assert.Equal(t, bob.ID, online.UserID)

	var friends struct {
		Friends []struct {
			ID     string `json:"id"`
			Online bool   `json:"online"`
		} `json:"friends"`
	}
	ReadJSON(t, ts.Get(t, "/api/friends", alice.ID), &friends)
	require.Len(t, friends.Friends, 1)
	assert.Equal(t, bob.ID, friends.Friends[0].ID)
	assert.True(t, friends.Friends[0].Online)

	bobWS.Close()
	var offline struct {
		UserID string `json:"userId"`
	}
	aliceWS.RecvType("user-offline", wait).Decode(t, &offline)
	assert.Equal(t, bob.ID, offline.UserID)
}

func TestShutdownClosesUnregisteredSockets(t *testing.T) {
	ts := NewTestServer(t)
	anon := ts.ConnectWS(t, "")
	require.Eventually(t, func() bool { return ts.Registry.LiveCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Zero(t, ts.Registry.ConnectionCount())

	ts.Registry.CloseAll(2 * time.Second)
	assert.Zero(t, ts.Registry.LiveCount())

	var err error
	for err == nil {
		_, err = anon.RecvAny(wait)
	}
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestOneToOneCallLifecycle(t *testing.T) {
	ts := NewTestServer(t)
	alice, bob := ts.RegisterUser(t), ts.RegisterUser(t)
	aliceWS := ts.ConnectWS(t, alice.ID)
	bobWS := ts.ConnectWS(t, bob.ID)
	ts.WaitOnline(t, 2)

	resp := ts.PostJSON(t, "/api/calls/initiate", alice.ID, map[string]any{
		"targetUsername": bob.Username,
		"offer":          map[string]string{"type": "offer", "sdp": "v=0"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var initiated struct {
		CallID   string `json:"callId"`
		TargetID string `json:"targetId"`
		Status   string `json:"status"`
	}
	ReadJSON(t, resp, &initiated)
	require.NotEmpty(t, initiated.CallID)
	assert.Equal(t, bob.ID, initiated.TargetID)
	assert.Equal(t, "pending", initiated.Status)

	var incoming struct {
		CallID         string         `json:"callId"`
		Caller         string         `json:"caller"`
		CallerUsername string         `json:"callerUsername"`
		Offer          map[string]any `json:"offer"`
	}
	bobWS.RecvType("incoming-call", wait).Decode(t, &incoming)
	assert.Equal(t, initiated.CallID, incoming.CallID)
	assert.Equal(t, alice.ID, incoming.Caller)
	assert.Equal(t, alice.Username, incoming.CallerUsername)
	assert.Equal(t, "v=0", incoming.Offer["sdp"])

	bobWS.Send("answer-call", map[string]any{
		"callId": initiated.CallID,
		"answer": map[string]string{"type": "answer", "sdp": "v=0"},
	})
	var answered struct {
		CallID string `json:"callId"`
	}
	aliceWS.RecvType("call-answered", wait).Decode(t, &answered)
	assert.Equal(t, initiated.CallID, answered.CallID)

	aliceWS.Send("audio-data", map[string]any{
		"callId":       initiated.CallID,
		"audioData":    []int{0, 16384, -16384, 32767},
		"sampleRate":   16000,
		"channelCount": 1,
	})
	var frame struct {
		CallID      string  `json:"callId"`
		AudioData   []int16 `json:"audioData"`
		Format      string  `json:"format"`
		FromUserID  string  `json:"fromUserId"`
		SpeakerName string  `json:"speakerName"`
		SampleRate  int     `json:"sampleRate"`
	}
	bobWS.RecvType("audio-data", wait).Decode(t, &frame)
	assert.Equal(t, initiated.CallID, frame.CallID)
	assert.Equal(t, []int16{0, 16384, -16384, 32767}, frame.AudioData)
	assert.Equal(t, "pcm", frame.Format)
	assert.Equal(t, alice.ID, frame.FromUserID)
	assert.Equal(t, alice.Username, frame.SpeakerName)
	assert.Equal(t, 16000, frame.SampleRate)

	resp = ts.PostJSON(t, "/api/calls/end", bob.ID, map[string]string{"callId": initiated.CallID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	var ended struct {
		CallID string `json:"callId"`
	}
	aliceWS.RecvType("call-ended", wait).Decode(t, &ended)
	assert.Equal(t, initiated.CallID, ended.CallID)

	resp = ts.PostJSON(t, "/api/calls/end", bob.ID, map[string]string{"callId": initiated.CallID})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// Frames for an ended call are dropped without an error to the sender.
	aliceWS.Send("audio-data", map[string]any{"callId": initiated.CallID, "audioData": []int{1, 2}})
	bobWS.ExpectNone("audio-data", 200*time.Millisecond)
	aliceWS.ExpectNone("error", 100*time.Millisecond)
}

func TestGeofenceGroupCall(t *testing.T) {
	ts := NewTestServer(t)
	alice, bob, carol := ts.RegisterUser(t), ts.RegisterUser(t), ts.RegisterUser(t)

	resp := ts.PostJSON(t, "/api/location/channels", alice.ID, map[string]any{
		"name":      "Trailhead",
		"latitude":  40.0,
		"longitude": -105.0,
		"radius":    0.5,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Channel struct {
			ID string `json:"id"`
		} `json:"channel"`
	}
	ReadJSON(t, resp, &created)
	channelID := created.Channel.ID
	require.NotEmpty(t, channelID)

	aliceWS := ts.ConnectWS(t, alice.ID)
	bobWS := ts.ConnectWS(t, bob.ID)
	carolWS := ts.ConnectWS(t, carol.ID)
	ts.WaitOnline(t, 3)

	// Bob walks into the fence; carol stays outside it.
	bobWS.Send("update-location", map[string]float64{"lat": 40.001, "lon": -105.0})
	var tr struct {
		Joined []struct {
			ID string `json:"id"`
		} `json:"joinedChannels"`
	}
	bobWS.RecvType("location-updated", wait).Decode(t, &tr)
	require.Len(t, tr.Joined, 1)
	assert.Equal(t, channelID, tr.Joined[0].ID)

	var joined struct {
		UserID string `json:"userId"`
	}
	aliceWS.RecvType("user-joined-channel", wait).Decode(t, &joined)
	assert.Equal(t, bob.ID, joined.UserID)

	carolWS.Send("update-location", map[string]float64{"latitude": 41.0, "longitude": -105.0})
	carolWS.RecvType("location-updated", wait)

	aliceWS.Send("start-group-call", map[string]string{"channelId": channelID})
	var started struct {
		CallID            string `json:"callId"`
		ChannelID         string `json:"channelId"`
		StartedBy         string `json:"startedBy"`
		StartedByUsername string `json:"startedByUsername"`
	}
	bobWS.RecvType("group-call-started", wait).Decode(t, &started)
	assert.Equal(t, channelID, started.ChannelID)
	assert.Equal(t, alice.ID, started.StartedBy)

	// A second start returns the live call to the requester only.
	bobWS.Send("start-group-call", map[string]string{"channelId": channelID})
	var again struct {
		CallID string `json:"callId"`
		Status string `json:"status"`
	}
	bobWS.RecvType("group-call-started", wait).Decode(t, &again)
	assert.Equal(t, started.CallID, again.CallID)
	assert.Equal(t, "already_active", again.Status)

	bobWS.Send("join-group-call", map[string]string{"callId": started.CallID})
	bobWS.RecvType("group-call-joined", wait)

	bobWS.Send("audio-data", map[string]string{"callId": started.CallID, "audioBlob": "T2dnUw=="})
	var frame struct {
		AudioBlob  string `json:"audioBlob"`
		Format     string `json:"format"`
		FromUserID string `json:"fromUserId"`
	}
	aliceWS.RecvType("audio-data", wait).Decode(t, &frame)
	assert.Equal(t, "T2dnUw==", frame.AudioBlob)
	assert.Equal(t, "legacy", frame.Format)
	assert.Equal(t, bob.ID, frame.FromUserID)
	carolWS.ExpectNone("audio-data", 200*time.Millisecond)

	// Only the starter ends a group call; anyone else is ignored.
	bobWS.Send("end-call", map[string]string{"callId": started.CallID})
	aliceWS.ExpectNone("call-ended", 200*time.Millisecond)

	aliceWS.Send("end-call", map[string]string{"callId": started.CallID})
	bobWS.RecvType("call-ended", wait)
}

func TestAdminAnnouncementReachesSSE(t *testing.T) {
	ts := NewTestServer(t)
	alice := ts.RegisterUser(t)
	aliceWS := ts.ConnectWS(t, alice.ID)
	ts.WaitOnline(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/sse?userId="+alice.ID, nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(stream.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	waitLine := func(prefix string) string {
		t.Helper()
		deadline := time.After(wait)
		for {
			select {
			case l, ok := <-lines:
				require.True(t, ok, "stream closed waiting for %q", prefix)
				if strings.HasPrefix(l, prefix) {
					return l
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}
	waitLine("event: connected")

	adminReq, err := http.NewRequest(http.MethodPost, ts.URL+"/api/admin/announce",
		strings.NewReader(`{"message":"net check at 1900"}`))
	require.NoError(t, err)
	adminReq.Header.Set("Content-Type", "application/json")
	adminReq.Header.Set("X-Admin-Key", AdminKey)
	resp, err := http.DefaultClient.Do(adminReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var ann struct {
		Message string `json:"message"`
	}
	aliceWS.RecvType("announcement", wait).Decode(t, &ann)
	assert.Equal(t, "net check at 1900", ann.Message)

	waitLine("event: announcement")
	assert.Contains(t, waitLine("data: "), "net check at 1900")
}
