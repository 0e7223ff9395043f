package rest_test

import (
	"net/http"
	"testing"

	"github.com/kasuganosora/walkietalkie/server/model"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type requestBody struct {
	Request model.Friendship `json:"request"`
}

func TestFriendRequestAcceptFlow(t *testing.T) {
	s := newServer(t)
	alice, bob := s.User(t), s.User(t)
	aliceConn, bobConn := s.Connect(alice.ID), s.Connect(bob.ID)

	var sent requestBody
	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/friends/request", alice.ID, map[string]string{"username": bob.Username}, &sent))

	var received struct {
		RequestID    string `json:"requestId"`
		FromUserID   string `json:"fromUserId"`
		FromUsername string `json:"fromUsername"`
	}
	testutil.NextOfType(t, bobConn, notify.EventFriendRequestReceived, &received)
	assert.Equal(t, sent.Request.ID, received.RequestID)
	assert.Equal(t, alice.ID, received.FromUserID)
	assert.Equal(t, alice.Username, received.FromUsername)

	var pending struct {
		Requests []struct {
			ID           string `json:"id"`
			FromUsername string `json:"fromUsername"`
		} `json:"requests"`
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/friends/requests", bob.ID, nil, &pending))
	require.Len(t, pending.Requests, 1)
	assert.Equal(t, alice.Username, pending.Requests[0].FromUsername)

	// Only the target can accept.
	assert.Equal(t, http.StatusNotFound,
		s.do(t, http.MethodPost, "/api/friends/requests/"+sent.Request.ID+"/accept", alice.ID, nil, nil))

	require.Equal(t, http.StatusOK,
		s.do(t, http.MethodPost, "/api/friends/requests/"+sent.Request.ID+"/accept", bob.ID, nil, nil))
	testutil.NextOfType(t, aliceConn, notify.EventFriendRequestAccepted, nil)
	testutil.NextOfType(t, aliceConn, notify.EventFriendshipUpdated, nil)
	testutil.NextOfType(t, bobConn, notify.EventFriendshipUpdated, nil)

	var list struct {
		Friends []struct {
			ID     string `json:"id"`
			Online bool   `json:"online"`
		} `json:"friends"`
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/friends", alice.ID, nil, &list))
	require.Len(t, list.Friends, 1)
	assert.Equal(t, bob.ID, list.Friends[0].ID)
	assert.True(t, list.Friends[0].Online)

	// Reverse direction is still the same friendship.
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/friends", bob.ID, nil, &list))
	require.Len(t, list.Friends, 1)
	assert.Equal(t, alice.ID, list.Friends[0].ID)

	// Already friends.
	assert.Equal(t, http.StatusConflict,
		s.do(t, http.MethodPost, "/api/friends/request", bob.ID, map[string]string{"username": alice.Username}, nil))

	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/friends/"+alice.ID, bob.ID, nil, nil))
	testutil.NextOfType(t, aliceConn, notify.EventFriendshipUpdated, nil)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/friends", alice.ID, nil, &list))
	assert.Empty(t, list.Friends)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/friends/"+alice.ID, bob.ID, nil, nil))
}

func TestFriendRequestReject(t *testing.T) {
	s := newServer(t)
	alice, bob := s.User(t), s.User(t)
	aliceConn := s.Connect(alice.ID)

	var sent requestBody
	require.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/friends/request", alice.ID, map[string]string{"username": bob.Username}, &sent))

	require.Equal(t, http.StatusOK,
		s.do(t, http.MethodPost, "/api/friends/requests/"+sent.Request.ID+"/reject", bob.ID, nil, nil))
	testutil.NextOfType(t, aliceConn, notify.EventFriendRequestRejected, nil)

	assert.Equal(t, http.StatusNotFound,
		s.do(t, http.MethodPost, "/api/friends/requests/"+sent.Request.ID+"/accept", bob.ID, nil, nil))

	// A rejected request can be sent again.
	assert.Equal(t, http.StatusCreated,
		s.do(t, http.MethodPost, "/api/friends/request", alice.ID, map[string]string{"username": bob.Username}, nil))
}

func TestFriendRequestValidation(t *testing.T) {
	s := newServer(t)
	alice := s.User(t)

	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/friends/request", alice.ID, map[string]string{"username": ""}, nil))
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/friends/request", alice.ID, map[string]string{"username": alice.Username}, nil))
	assert.Equal(t, http.StatusNotFound,
		s.do(t, http.MethodPost, "/api/friends/request", alice.ID, map[string]string{"username": "nobody-here"}, nil))
}
