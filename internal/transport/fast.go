package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/danmuck/handstream/internal/logging"
	"github.com/danmuck/handstream/internal/observability"
	"github.com/danmuck/handstream/internal/protocol/envelope"
	"github.com/rs/zerolog"
)

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

var ErrDatagramTooLarge = errors.New("transport: payload exceeds datagram size")

// FastSender fires one datagram per payload at a fixed peer. Nothing is
// retried; a failed write drops the socket so the next send dials again.
type FastSender struct {
	address string
	log     zerolog.Logger

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func NewFastSender(address string) (*FastSender, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrAddressRequired
	}
	return &FastSender{
		address: address,
		log:     logging.Component("transport.fast").With().Str("peer", address).Logger(),
	}, nil
}

// Send writes payload as one datagram. Failures are logged and returned
// but never retried.
func (s *FastSender) Send(payload []byte) error {
	if len(payload) > MaxDatagramSize {
		s.log.Warn().Int("bytes", len(payload)).Msg("payload too large for datagram")
		observability.RecordTransportError(channelFast, "oversize")
		return fmt.Errorf("%w: %d > %d", ErrDatagramTooLarge, len(payload), MaxDatagramSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSenderClosed
	}
	if s.conn == nil {
		conn, err := net.Dial("udp", s.address)
		if err != nil {
			s.log.Warn().Err(err).Msg("dial failed")
			observability.RecordTransportError(channelFast, "dial")
			return err
		}
		s.conn = conn
	}
	if _, err := s.conn.Write(payload); err != nil {
		s.log.Debug().Err(err).Msg("datagram write failed")
		observability.RecordTransportError(channelFast, "write")
		_ = s.conn.Close()
		s.conn = nil
		return err
	}
	observability.RecordMessage(channelFast, directionSent, len(payload))
	return nil
}

func (s *FastSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	return nil
}

// FastReceiver decodes one envelope per datagram into a Sink.
type FastReceiver struct {
	address string
	codec   *envelope.Codec
	sink    Sink
	log     zerolog.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
}

func NewFastReceiver(address string, codec *envelope.Codec, sink Sink) (*FastReceiver, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrAddressRequired
	}
	return &FastReceiver{
		address: address,
		codec:   codec,
		sink:    sink,
		log:     logging.Component("transport.fast"),
	}, nil
}

// Listen binds the socket. Serve calls it when it has not run yet.
func (r *FastReceiver) Listen() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrListenerClosed
	}
	if r.conn != nil {
		return nil
	}
	addr, err := net.ResolveUDPAddr("udp", r.address)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	r.conn = conn
	r.log.Info().Str("addr", conn.LocalAddr().String()).Msg("listening")
	return nil
}

func (r *FastReceiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Serve receives datagrams until ctx ends or Close is called. Read and
// decode errors are logged and the loop continues.
func (r *FastReceiver) Serve(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = r.Close() })
	defer stop()

	buf := make([]byte, MaxDatagramSize+1)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if r.isClosed() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.log.Warn().Err(err).Msg("datagram read failed")
			observability.RecordTransportError(channelFast, "read")
			continue
		}
		if n == 0 {
			continue
		}
		observability.RecordMessage(channelFast, directionReceived, n)
		env, err := r.codec.Decode(buf[:n])
		if err != nil {
			r.log.Warn().Err(err).Stringer("from", from).Int("bytes", n).Msg("dropping undecodable datagram")
			observability.RecordTransportError(channelFast, "decode")
			continue
		}
		if err := r.sink.Publish(env); err != nil {
			r.log.Debug().Err(err).Stringer("kind", env.Kind).Msg("sink rejected envelope")
		}
	}
}

func (r *FastReceiver) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close unblocks Serve. Safe to call more than once.
func (r *FastReceiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
