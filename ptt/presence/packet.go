package presence

import "encoding/json"

// Packet is the websocket message envelope shared by both directions.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewPacket marshals payload into a server-originated packet.
func NewPacket(event string, payload any) (*Packet, error) {
	if payload == nil {
		return &Packet{Type: event}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Packet{Type: event, Payload: raw}, nil
}

// Encode is NewPacket followed by marshalling the envelope.
func Encode(event string, payload any) ([]byte, error) {
	pkt, err := NewPacket(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(pkt)
}
