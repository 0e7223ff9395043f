package rest_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/kasuganosora/walkietalkie/server/model"
	"github.com/kasuganosora/walkietalkie/server/ptt/call"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallLifecycleOverREST(t *testing.T) {
	s := newServer(t)
	alice, bob := s.User(t), s.User(t)
	aliceConn, bobConn := s.Connect(alice.ID), s.Connect(bob.ID)
	testutil.Drain(aliceConn)
	testutil.Drain(bobConn)

	var initiated call.Result
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/calls/initiate", alice.ID, map[string]any{
		"targetUsername": bob.Username,
		"offer":          call.ServerAudioOffer,
	}, &initiated))
	assert.NotEmpty(t, initiated.CallID)
	assert.Equal(t, bob.ID, initiated.TargetID)
	assert.Equal(t, model.CallPending, initiated.Status)

	var incoming struct {
		CallID string          `json:"callId"`
		Caller string          `json:"caller"`
		Offer  json.RawMessage `json:"offer"`
	}
	testutil.NextOfType(t, bobConn, notify.EventIncomingCall, &incoming)
	assert.Equal(t, initiated.CallID, incoming.CallID)
	assert.JSONEq(t, string(call.ServerAudioOffer), string(incoming.Offer))

	var retried call.Result
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/calls/retry", alice.ID, map[string]any{
		"callId": initiated.CallID,
	}, &retried))
	assert.Equal(t, bob.ID, retried.TargetID)
	testutil.NextOfType(t, bobConn, notify.EventCallRetry, nil)

	// The caller cannot answer their own call.
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/calls/answer", alice.ID, map[string]any{
		"callId": initiated.CallID,
		"answer": map[string]string{"type": "answer"},
	}, nil))

	var answered call.Result
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/calls/answer", bob.ID, map[string]any{
		"callId": initiated.CallID,
		"answer": map[string]string{"type": "answer"},
	}, &answered))
	assert.Equal(t, alice.ID, answered.CallerID)
	assert.Equal(t, model.CallConnected, answered.Status)
	testutil.NextOfType(t, aliceConn, notify.EventCallAnswered, nil)

	var ended call.Result
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/calls/end", bob.ID, map[string]any{
		"callId": initiated.CallID,
	}, &ended))
	assert.Equal(t, call.StatusEnded, ended.Status)
	testutil.NextOfType(t, aliceConn, notify.EventCallEnded, nil)

	// Ending twice is a 404 on the request path.
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/calls/end", bob.ID, map[string]any{
		"callId": initiated.CallID,
	}, nil))
}

func TestInitiateErrors(t *testing.T) {
	s := newServer(t)
	alice := s.User(t)

	var e errBody
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/calls/initiate", alice.ID, map[string]any{
		"targetUsername": "someone",
	}, &e))
	assert.NotEmpty(t, e.Error)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/calls/initiate", alice.ID, map[string]any{
		"targetUsername": "nobody-here",
		"offer":          call.ServerAudioOffer,
	}, nil))

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/calls/initiate", alice.ID, map[string]any{
		"targetUsername": alice.Username,
		"offer":          call.ServerAudioOffer,
	}, nil))

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/calls/retry", alice.ID, map[string]any{
		"callId": "missing",
	}, nil))
}
