package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// PrefixLen is the size of the signed little-endian length prefix.
const PrefixLen = 4

// DefaultMaxMessageSize bounds one message body. Snapshots are the largest
// payloads and stay well below it.
const DefaultMaxMessageSize = 8 * 1000 * 1000

// bodyChunk caps the up-front allocation for a body. Larger bodies grow as
// their bytes arrive.
const bodyChunk = 64 * 1024

var (
	ErrProtocolViolation = errors.New("frame: protocol violation")
	ErrNegativeLength    = fmt.Errorf("%w: negative message length", ErrProtocolViolation)
	ErrMessageTooLarge   = fmt.Errorf("%w: message exceeds maximum size", ErrProtocolViolation)
	ErrFramerBroken      = fmt.Errorf("%w: framer already failed", ErrProtocolViolation)
	ErrPayloadTooLarge   = errors.New("frame: payload too large to prefix")
)

// Framer reassembles length-prefixed messages from an arbitrarily chunked
// byte stream. One Framer serves exactly one stream and is not safe for
// concurrent use.
type Framer struct {
	maxMessageSize int
	onMessage      func([]byte)

	prefix   [PrefixLen]byte
	body     []byte
	want     int
	received int
	inBody   bool
	broken   bool
}

// NewFramer returns a framer that calls onMessage for every complete
// message. maxMessageSize <= 0 disables the size check. Keepalives are
// delivered as empty non-nil slices.
func NewFramer(maxMessageSize int, onMessage func([]byte)) *Framer {
	return &Framer{
		maxMessageSize: maxMessageSize,
		onMessage:      onMessage,
	}
}

// Feed consumes one chunk. onMessage runs synchronously zero or more times
// before Feed returns. After a protocol violation the framer stays broken
// and every further Feed fails.
func (f *Framer) Feed(chunk []byte) error {
	if f.broken {
		return ErrFramerBroken
	}
	for i := 0; i < len(chunk); {
		if f.inBody {
			n := min(f.want-len(f.body), len(chunk)-i)
			f.body = append(f.body, chunk[i:i+n]...)
			i += n
			if len(f.body) == f.want {
				msg := f.body
				f.resetHeader()
				f.emit(msg)
			}
			continue
		}

		n := copy(f.prefix[f.received:], chunk[i:])
		i += n
		f.received += n
		if f.received < PrefixLen {
			continue
		}
		if err := f.beginBody(); err != nil {
			f.broken = true
			return err
		}
	}
	return nil
}

// Pending reports whether a partial prefix or body is buffered.
func (f *Framer) Pending() bool {
	return f.inBody || f.received > 0
}

func (f *Framer) beginBody() error {
	length := int32(binary.LittleEndian.Uint32(f.prefix[:]))
	if length < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeLength, length)
	}
	if f.maxMessageSize > 0 && int(length) > f.maxMessageSize {
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, f.maxMessageSize)
	}
	if length == 0 {
		f.resetHeader()
		f.emit([]byte{})
		return nil
	}
	f.want = int(length)
	f.body = make([]byte, 0, min(f.want, bodyChunk))
	f.received = 0
	f.inBody = true
	return nil
}

func (f *Framer) resetHeader() {
	f.body = nil
	f.want = 0
	f.received = 0
	f.inBody = false
}

func (f *Framer) emit(msg []byte) {
	if f.onMessage != nil {
		f.onMessage(msg)
	}
}

// Wrap returns prefix+payload ready for the stream.
func Wrap(payload []byte) ([]byte, error) {
	if len(payload) > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %d", ErrPayloadTooLarge, len(payload))
	}
	out := make([]byte, PrefixLen+len(payload))
	binary.LittleEndian.PutUint32(out[:PrefixLen], uint32(len(payload)))
	copy(out[PrefixLen:], payload)
	return out, nil
}

// WrapKeepalive returns a zero-length message.
func WrapKeepalive() []byte {
	return make([]byte, PrefixLen)
}

// WriteMessage writes one wrapped message in a single Write call.
func WriteMessage(w io.Writer, payload []byte) error {
	wrapped, err := Wrap(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(wrapped)
	return err
}
