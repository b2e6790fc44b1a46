// Package codec is the wire framing between the gateway and clients: a
// one-byte header followed by either raw or zstd-compressed JSON.
package codec

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Frame headers
const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

// DefaultMinCompress is the payload size below which frames stay raw.
const DefaultMinCompress = 512

var (
	ErrEmptyFrame   = errors.New("codec: empty frame")
	ErrUnknownFrame = errors.New("codec: unknown frame header")
	ErrTooLarge     = errors.New("codec: decoded frame too large")
)

// Codec encodes and decodes frames. It is safe for concurrent use.
type Codec struct {
	enc         *zstd.Encoder
	dec         *zstd.Decoder
	maxDecoded  int
	minCompress int
}

// New creates a codec whose decoded payloads may not exceed maxDecoded bytes
func New(maxDecoded int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(uint64(maxDecoded)))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Codec{
		enc:         enc,
		dec:         dec,
		maxDecoded:  maxDecoded,
		minCompress: DefaultMinCompress,
	}, nil
}

// Encode frames a payload, compressing it when it is large enough to pay off
func (c *Codec) Encode(payload []byte) []byte {
	if len(payload) < c.minCompress {
		out := make([]byte, 0, len(payload)+1)
		out = append(out, frameRaw)
		return append(out, payload...)
	}
	out := make([]byte, 1, len(payload)/2+1)
	out[0] = frameZstd
	return c.enc.EncodeAll(payload, out)
}

// Decode unwraps a frame produced by Encode
func (c *Codec) Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	switch frame[0] {
	case frameRaw:
		if len(frame)-1 > c.maxDecoded {
			return nil, ErrTooLarge
		}
		return frame[1:], nil
	case frameZstd:
		out, err := c.dec.DecodeAll(frame[1:], nil)
		if err != nil {
			if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
				return nil, ErrTooLarge
			}
			return nil, fmt.Errorf("codec: %w", err)
		}
		if len(out) > c.maxDecoded {
			return nil, ErrTooLarge
		}
		return out, nil
	default:
		return nil, ErrUnknownFrame
	}
}

// Close releases the encoder and decoder
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}
