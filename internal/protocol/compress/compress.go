// Package compress provides the reversible whole-buffer transforms applied
// to encoded envelopes before they reach the wire or disk.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies a compression transform. Both peers of a link must
// be configured with the same algorithm.
type Algorithm uint8

const (
	None Algorithm = 0
	Gzip Algorithm = 1
	Zstd Algorithm = 2
	LZ4  Algorithm = 3
)

var (
	ErrUnknownAlgorithm = errors.New("compress: unknown algorithm")
	ErrDecodedTooLarge  = errors.New("compress: decoded size exceeds limit")
)

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "off":
		return None, nil
	case "gzip":
		return Gzip, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// Compressor is a reversible bytes -> bytes transform pair.
type Compressor interface {
	Algorithm() Algorithm
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// New returns the compressor for a with unbounded decompression. The
// returned value is safe for concurrent use.
func New(a Algorithm) (Compressor, error) {
	return NewLimited(a, 0)
}

// NewLimited is New with Decompress failing with ErrDecodedTooLarge once
// the output would exceed limit bytes. limit <= 0 disables the check.
func NewLimited(a Algorithm, limit int) (Compressor, error) {
	if limit < 0 {
		limit = 0
	}
	switch a {
	case None:
		return identity{limit: limit}, nil
	case Gzip:
		return gzipCompressor{limit: limit}, nil
	case Zstd:
		return newZstd(limit)
	case LZ4:
		return lz4Compressor{limit: limit}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, uint8(a))
	}
}

func tooLarge(limit int) error {
	return fmt.Errorf("%w: > %d bytes", ErrDecodedTooLarge, limit)
}

// readLimited drains r, reading at most one byte past limit.
func readLimited(r io.Reader, limit int) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, tooLarge(limit)
	}
	return out, nil
}

type identity struct{ limit int }

func (identity) Algorithm() Algorithm                 { return None }
func (identity) Compress(data []byte) ([]byte, error) { return data, nil }

func (c identity) Decompress(data []byte) ([]byte, error) {
	if c.limit > 0 && len(data) > c.limit {
		return nil, tooLarge(c.limit)
	}
	return data, nil
}

type gzipCompressor struct{ limit int }

func (gzipCompressor) Algorithm() Algorithm { return Gzip }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (c gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	defer r.Close()
	out, err := readLimited(r, c.limit)
	if err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	return out, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent EncodeAll/DecodeAll.
type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	limit   int
}

func newZstd(limit int) (Compressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	var opts []zstd.DOption
	if limit > 0 {
		// The window cannot exceed the decoded size either.
		window := max(uint64(limit), zstd.MinWindowSize)
		opts = append(opts, zstd.WithDecoderMaxMemory(uint64(limit)), zstd.WithDecoderMaxWindow(window))
	}
	decoder, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &zstdCompressor{encoder: encoder, decoder: decoder, limit: limit}, nil
}

func (*zstdCompressor) Algorithm() Algorithm { return Zstd }

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(data, nil)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
		return nil, tooLarge(z.limit)
	}
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if z.limit > 0 && len(out) > z.limit {
		return nil, tooLarge(z.limit)
	}
	return out, nil
}

// lz4 uses the frame format, which records its own content size.
type lz4Compressor struct{ limit int }

func (lz4Compressor) Algorithm() Algorithm { return LZ4 }

func (lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (c lz4Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := readLimited(lz4.NewReader(bytes.NewReader(data)), c.limit)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}
