package audio

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/kasuganosora/walkietalkie/server/apperr"
)

const (
	FormatPCM    = "pcm"
	FormatLegacy = "legacy"

	pcmScale = 32767.0
)

// Frame is one push-to-talk audio frame: a LegacyFrame or a PCMFrame.
type Frame interface {
	Format() string
	// fields writes the frame's wire fields into an outgoing payload.
	fields(p *outPayload)
}

// LegacyFrame is an opaque encoded blob, typically base64 container audio.
type LegacyFrame struct {
	Blob string
	// JSON keeps the original key: audioBlob or a string audioData.
	viaAudioData bool
}

func (LegacyFrame) Format() string { return FormatLegacy }

func (f LegacyFrame) fields(p *outPayload) {
	raw, _ := json.Marshal(f.Blob)
	if f.viaAudioData {
		p.AudioData = raw
	} else {
		p.AudioBlob = raw
	}
}

// PCMFrame is a JSON array of numeric samples, relayed exactly as the client
// sent it. SampleRate and ChannelCount are passed through as declared.
type PCMFrame struct {
	Samples      json.RawMessage
	SampleRate   int
	ChannelCount int
}

func (PCMFrame) Format() string { return FormatPCM }

func (f PCMFrame) fields(p *outPayload) {
	p.AudioData = f.Samples
	if len(p.AudioData) == 0 {
		p.AudioData = json.RawMessage(`[]`)
	}
	p.SampleRate = f.SampleRate
	p.ChannelCount = f.ChannelCount
}

// inPayload is the client audio-data event.
type inPayload struct {
	CallID       string          `json:"callId"`
	AudioData    json.RawMessage `json:"audioData"`
	AudioBlob    json.RawMessage `json:"audioBlob"`
	SampleRate   int             `json:"sampleRate"`
	ChannelCount int             `json:"channelCount"`
}

// outPayload is the relayed audio-data event.
type outPayload struct {
	CallID       string          `json:"callId"`
	AudioData    json.RawMessage `json:"audioData,omitempty"`
	AudioBlob    json.RawMessage `json:"audioBlob,omitempty"`
	SampleRate   int             `json:"sampleRate,omitempty"`
	ChannelCount int             `json:"channelCount,omitempty"`
	Format       string          `json:"format"`
	FromUserID   string          `json:"fromUserId"`
	SpeakerName  string          `json:"speakerName"`
}

// DecodeFrame reads a client audio-data payload. A numeric audioData array
// is PCM; audioBlob, or a string audioData, is legacy.
func DecodeFrame(raw json.RawMessage) (callID string, frame Frame, err error) {
	var in inPayload
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", nil, apperr.InvalidArgument("malformed audio payload")
	}
	if in.CallID == "" {
		return "", nil, apperr.InvalidArgument("callId is required")
	}

	data := bytes.TrimSpace(in.AudioData)
	switch {
	case len(data) > 0 && data[0] == '[':
		if err := validateSamples(data); err != nil {
			return "", nil, err
		}
		return in.CallID, PCMFrame{Samples: data, SampleRate: in.SampleRate, ChannelCount: in.ChannelCount}, nil
	case len(data) > 0 && data[0] == '"':
		var blob string
		if err := json.Unmarshal(data, &blob); err != nil {
			return "", nil, apperr.InvalidArgument("malformed audioData")
		}
		return in.CallID, LegacyFrame{Blob: blob, viaAudioData: true}, nil
	}

	blob := bytes.TrimSpace(in.AudioBlob)
	if len(blob) > 0 && blob[0] == '"' {
		var s string
		if err := json.Unmarshal(blob, &s); err != nil {
			return "", nil, apperr.InvalidArgument("malformed audioBlob")
		}
		return in.CallID, LegacyFrame{Blob: s}, nil
	}
	return "", nil, apperr.InvalidArgument("audioData or audioBlob is required")
}

// validateSamples checks that data is an array of numbers. The bytes are
// never rewritten.
func validateSamples(data []byte) error {
	var nums []*float64
	if err := json.Unmarshal(data, &nums); err != nil {
		return apperr.InvalidArgument("audioData must be an array of numbers")
	}
	for _, n := range nums {
		if n == nil {
			return apperr.InvalidArgument("audioData must be an array of numbers")
		}
	}
	return nil
}

// EncodeFrame builds the relayed payload, keeping the representation that
// arrived.
func EncodeFrame(callID, fromUserID, speakerName string, f Frame) any {
	p := &outPayload{
		CallID:      callID,
		Format:      f.Format(),
		FromUserID:  fromUserID,
		SpeakerName: speakerName,
	}
	f.fields(p)
	return p
}

// FloatToPCM16 clamps f to [-1, 1] and scales by 32767, truncating toward
// zero. -1.0 maps to -32767; -32768 is never produced.
func FloatToPCM16(f float64) int16 {
	if math.IsNaN(f) {
		return 0
	}
	if f > 1 {
		f = 1
	} else if f < -1 {
		f = -1
	}
	return int16(f * pcmScale)
}

// PCM16ToFloat divides by 32767 and clamps, so -32768 decodes to -1.0.
func PCM16ToFloat(s int16) float64 {
	v := float64(s) / pcmScale
	if v < -1 {
		return -1
	}
	return v
}
