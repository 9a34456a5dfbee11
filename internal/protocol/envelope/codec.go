package envelope

import (
	"fmt"

	"github.com/danmuck/handstream/internal/protocol/compress"
	"github.com/fxamacker/cbor/v2"
)

// DefaultMaxDecodedSize bounds one envelope after decompression. It leaves
// room for topology that compresses well below the frame limit.
const DefaultMaxDecodedSize = 64 << 20

// Codec turns envelopes into wire bytes and back. It owns its CBOR modes
// and compressor; construct one per process and share it. Safe for
// concurrent use.
type Codec struct {
	enc        cbor.EncMode
	dec        cbor.DecMode
	compressor compress.Compressor
}

// NewCodec builds a codec applying algorithm a to every encoded envelope.
// Decode rejects payloads that expand past DefaultMaxDecodedSize.
func NewCodec(a compress.Algorithm) (*Codec, error) {
	// Core Deterministic Encoding: the same value always yields the same bytes.
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("envelope: cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{
		MaxArrayElements: 16 * 1024 * 1024,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("envelope: cbor decoder: %w", err)
	}
	c, err := compress.NewLimited(a, DefaultMaxDecodedSize)
	if err != nil {
		return nil, err
	}
	return &Codec{enc: enc, dec: dec, compressor: c}, nil
}

func (c *Codec) Compression() compress.Algorithm {
	return c.compressor.Algorithm()
}

// Encode validates env, serializes it and compresses the result.
func (c *Codec) Encode(env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	raw, err := c.enc.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode %s: %w", env.Kind, err)
	}
	return c.compressor.Compress(raw)
}

// Decode reverses Encode and validates the result.
func (c *Codec) Decode(data []byte) (Envelope, error) {
	raw, err := c.compressor.Decompress(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	var env Envelope
	if err := c.dec.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("envelope: decode: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Marshal serializes v with the codec's CBOR mode and no compression. Used
// for structures that share the wire serialization but not the envelope.
func (c *Codec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c *Codec) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}
