package codec

import (
	"encoding/json"
	"errors"
)

// ErrMalformed is returned for packets that are not a JSON object with a type
var ErrMalformed = errors.New("codec: malformed packet")

// Packet is the logical message exchanged with clients
type Packet struct {
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data,omitempty"`
	Language string          `json:"language,omitempty"`
}

// outPacket avoids a double marshal for outgoing data
type outPacket struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Parse decodes a packet. Empty payloads and packets without a type are
// malformed.
func Parse(payload []byte) (*Packet, error) {
	if len(payload) == 0 {
		return nil, ErrMalformed
	}
	var p Packet
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, ErrMalformed
	}
	if p.Type == "" {
		return nil, ErrMalformed
	}
	return &p, nil
}

// Marshal encodes a packet of the given type
func Marshal(typ string, data any) ([]byte, error) {
	return json.Marshal(outPacket{Type: typ, Data: data})
}

// Unmarshal decodes the packet data into v
func (p *Packet) Unmarshal(v any) error {
	if len(p.Data) == 0 {
		return ErrMalformed
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		return ErrMalformed
	}
	return nil
}
