package audio_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kasuganosora/walkietalkie/server/model"
	"github.com/kasuganosora/walkietalkie/server/ptt/audio"
	"github.com/kasuganosora/walkietalkie/server/ptt/call"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayed struct {
	CallID      string          `json:"callId"`
	AudioData   json.RawMessage `json:"audioData"`
	AudioBlob   json.RawMessage `json:"audioBlob"`
	SampleRate  int             `json:"sampleRate"`
	Format      string          `json:"format"`
	FromUserID  string          `json:"fromUserId"`
	SpeakerName string          `json:"speakerName"`
}

func newRelay(t *testing.T) (*audio.Relay, *call.Coordinator, *testutil.Env) {
	env := testutil.NewEnv(t)
	co := call.NewCoordinator(env.Store, env.Notifier, env.Cache, nil, call.Options{}, env.Logger)
	return audio.NewRelay(co, env.Store, env.Notifier, env.Cache, time.Minute, env.Logger), co, env
}

func pcm(samples string) audio.Frame {
	return audio.PCMFrame{Samples: json.RawMessage(samples), SampleRate: 16000, ChannelCount: 1}
}

func TestRelayOneToOne(t *testing.T) {
	r, co, env := newRelay(t)
	ctx := context.Background()
	a, b := env.User(t), env.User(t)
	aConn, bConn := env.Connect(a.ID), env.Connect(b.ID)

	res, err := co.Initiate(ctx, a.ID, b.Username, call.ServerAudioOffer)
	require.NoError(t, err)
	testutil.Drain(bConn)

	// Frames flow before the answer too.
	r.Relay(ctx, res.CallID, a.ID, pcm(`[1,2,3]`))
	var got relayed
	testutil.NextOfType(t, bConn, notify.EventAudioData, &got)
	assert.Equal(t, res.CallID, got.CallID)
	assert.Equal(t, a.ID, got.FromUserID)
	assert.Equal(t, a.Username, got.SpeakerName)
	assert.Equal(t, audio.FormatPCM, got.Format)
	assert.JSONEq(t, `[1,2,3]`, string(got.AudioData))
	assert.Equal(t, 16000, got.SampleRate)
	testutil.Silent(t, aConn)

	r.Relay(ctx, res.CallID, b.ID, audio.LegacyFrame{Blob: "AAEC"})
	var legacy relayed
	testutil.NextOfType(t, aConn, notify.EventAudioData, &legacy)
	assert.Equal(t, audio.FormatLegacy, legacy.Format)
	assert.JSONEq(t, `"AAEC"`, string(legacy.AudioBlob))
	assert.Empty(t, legacy.AudioData)
	testutil.Silent(t, bConn)
}

func TestRelayForwardsFloatSamplesUnchanged(t *testing.T) {
	r, co, env := newRelay(t)
	ctx := context.Background()
	a, b := env.User(t), env.User(t)
	env.Connect(a.ID)
	bConn := env.Connect(b.ID)

	res, err := co.Initiate(ctx, a.ID, b.Username, call.ServerAudioOffer)
	require.NoError(t, err)
	testutil.Drain(bConn)

	in := json.RawMessage(`{"callId":"` + res.CallID + `","audioData":[0.5,-0.25],"sampleRate":48000}`)
	callID, f, err := audio.DecodeFrame(in)
	require.NoError(t, err)
	r.Relay(ctx, callID, a.ID, f)

	var got relayed
	testutil.NextOfType(t, bConn, notify.EventAudioData, &got)
	assert.Equal(t, `[0.5,-0.25]`, string(got.AudioData))
	assert.Equal(t, 48000, got.SampleRate)
}

func TestRelayDropsUnknownCallAndStrangers(t *testing.T) {
	r, co, env := newRelay(t)
	ctx := context.Background()
	a, b, c := env.User(t), env.User(t), env.User(t)
	aConn, bConn := env.Connect(a.ID), env.Connect(b.ID)

	assert.NotPanics(t, func() { r.Relay(ctx, "missing", a.ID, pcm(`[1]`)) })

	res, err := co.Initiate(ctx, a.ID, b.Username, call.ServerAudioOffer)
	require.NoError(t, err)
	testutil.Drain(bConn)

	r.Relay(ctx, res.CallID, c.ID, pcm(`[1]`))
	testutil.Silent(t, aConn)
	testutil.Silent(t, bConn)
}

func TestRelayAfterEndIsDropped(t *testing.T) {
	r, co, env := newRelay(t)
	ctx := context.Background()
	a, b := env.User(t), env.User(t)
	bConn := env.Connect(b.ID)

	res, _ := co.Initiate(ctx, a.ID, b.Username, call.ServerAudioOffer)
	_, err := co.End(ctx, a.ID, res.CallID)
	require.NoError(t, err)
	testutil.Drain(bConn)

	r.Relay(ctx, res.CallID, a.ID, pcm(`[1]`))
	testutil.Silent(t, bConn)
}

func TestRelayGroupExcludesSenderAndIncludesLateJoiner(t *testing.T) {
	r, co, env := newRelay(t)
	ctx := context.Background()
	x, y, z, w := env.User(t), env.User(t), env.User(t), env.User(t)
	ch, err := env.Store.CreateLocationChannel(ctx, "Plaza", 40, -73, 1, x.ID)
	require.NoError(t, err)
	for _, u := range []*model.User{x, y, z} {
		require.NoError(t, env.Store.JoinChannel(ctx, ch.ID, u.ID))
	}
	xc, yc, zc, wc := env.Connect(x.ID), env.Connect(y.ID), env.Connect(z.ID), env.Connect(w.ID)

	gc, err := co.StartGroupCall(ctx, x.ID, ch.ID)
	require.NoError(t, err)
	testutil.Drain(xc)
	testutil.Drain(yc)
	testutil.Drain(zc)

	r.Relay(ctx, gc.CallID, x.ID, pcm(`[7]`))
	testutil.NextOfType(t, yc, notify.EventAudioData, nil)
	testutil.NextOfType(t, zc, notify.EventAudioData, nil)
	testutil.Silent(t, xc)
	testutil.Silent(t, wc)

	require.NoError(t, env.Store.JoinChannel(ctx, ch.ID, w.ID))
	r.Relay(ctx, gc.CallID, x.ID, pcm(`[8]`))
	var got relayed
	testutil.NextOfType(t, wc, notify.EventAudioData, &got)
	assert.Equal(t, x.ID, got.FromUserID)
	testutil.Silent(t, xc)

	// Any current member may talk.
	r.Relay(ctx, gc.CallID, w.ID, pcm(`[9]`))
	testutil.NextOfType(t, xc, notify.EventAudioData, &got)
	assert.Equal(t, w.ID, got.FromUserID)
}

func TestStreamFlags(t *testing.T) {
	r, co, env := newRelay(t)
	ctx := context.Background()
	a, b := env.User(t), env.User(t)
	bConn := env.Connect(b.ID)
	res, _ := co.Initiate(ctx, a.ID, b.Username, call.ServerAudioOffer)
	testutil.Drain(bConn)

	r.StartStream(ctx, res.CallID, a.ID)
	var ev struct {
		CallID     string `json:"callId"`
		FromUserID string `json:"fromUserId"`
	}
	testutil.NextOfType(t, bConn, notify.EventAudioStreamStarted, &ev)
	assert.Equal(t, res.CallID, ev.CallID)
	assert.Equal(t, a.ID, ev.FromUserID)
	row, _ := env.Store.GetCall(ctx, res.CallID)
	assert.True(t, row.AudioActive)

	r.StopStream(ctx, res.CallID, a.ID)
	testutil.NextOfType(t, bConn, notify.EventAudioStreamStopped, &ev)
	row, _ = env.Store.GetCall(ctx, res.CallID)
	assert.False(t, row.AudioActive)

	assert.NotPanics(t, func() { r.StartStream(ctx, "missing", a.ID) })
}

func TestSpeakerNameCached(t *testing.T) {
	r, co, env := newRelay(t)
	ctx := context.Background()
	a, b := env.User(t), env.User(t)
	bConn := env.Connect(b.ID)
	res, _ := co.Initiate(ctx, a.ID, b.Username, call.ServerAudioOffer)
	testutil.Drain(bConn)

	r.Relay(ctx, res.CallID, a.ID, pcm(`[1]`))
	testutil.NextOfType(t, bConn, notify.EventAudioData, nil)

	name, err := env.Cache.Get(ctx, "user:name:"+a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Username, name)
}
