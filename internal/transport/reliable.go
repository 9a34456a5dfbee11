package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/handstream/internal/logging"
	"github.com/danmuck/handstream/internal/observability"
	"github.com/danmuck/handstream/internal/protocol/envelope"
	"github.com/danmuck/handstream/internal/protocol/frame"
	"github.com/danmuck/handstream/internal/protocol/session"
	"github.com/rs/zerolog"
)

var (
	ErrAddressRequired = errors.New("transport: address required")
	ErrSenderClosed    = errors.New("transport: sender closed")
	ErrListenerClosed  = errors.New("transport: listener closed")
)

const readBufferSize = 64 * 1024

// ConnectHook runs after every successful connect, before any pending
// payload is written. write sends one frame on the fresh connection. A
// returned error drops the connection and the send is retried. The hook
// must not call Send.
type ConnectHook func(write func(payload []byte) error) error

type ReliableSenderConfig struct {
	Address string
	Session session.Config
}

// ReliableSender keeps one TCP connection to a fixed peer and writes
// length-prefixed frames on it. Connect and write failures are retried on a
// fixed backoff until they succeed.
type ReliableSender struct {
	cfg ReliableSenderConfig
	log zerolog.Logger

	// writeMu serializes connect and write so frames never interleave.
	writeMu sync.Mutex
	connMu  sync.Mutex
	conn    net.Conn

	onConnected ConnectHook
	connects    atomic.Uint64

	lifetime context.Context
	cancel   context.CancelFunc
}

func NewReliableSender(cfg ReliableSenderConfig) (*ReliableSender, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, ErrAddressRequired
	}
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &ReliableSender{
		cfg:      cfg,
		log:      logging.Component("transport.reliable").With().Str("peer", cfg.Address).Logger(),
		lifetime: lifetime,
		cancel:   cancel,
	}, nil
}

// OnConnected installs the reconnect hook. Call before the first Send.
func (s *ReliableSender) OnConnected(hook ConnectHook) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.onConnected = hook
}

func (s *ReliableSender) Address() string {
	return s.cfg.Address
}

// Connects reports how many connections have been established.
func (s *ReliableSender) Connects() uint64 {
	return s.connects.Load()
}

func (s *ReliableSender) Connected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn != nil
}

// Send writes payload as one frame, connecting first if needed. It blocks
// until the frame is written, ctx ends or the sender is closed.
func (s *ReliableSender) Send(ctx context.Context, payload []byte) error {
	if s.cfg.Session.MaxMessageSize > 0 && len(payload) > s.cfg.Session.MaxMessageSize {
		return fmt.Errorf("%w: %d > %d", frame.ErrPayloadTooLarge, len(payload), s.cfg.Session.MaxMessageSize)
	}
	wrapped, err := frame.Wrap(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.lifetime, cancel)
	defer stop()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for attempt := 1; ; attempt++ {
		if err := s.closedOr(ctx); err != nil {
			return err
		}
		err := s.writeLocked(ctx, wrapped)
		if err == nil {
			if len(payload) == 0 {
				observability.RecordKeepalive(directionSent)
			} else {
				observability.RecordMessage(channelReliable, directionSent, len(payload))
			}
			return nil
		}
		if cerr := s.closedOr(ctx); cerr != nil {
			return cerr
		}
		s.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", s.cfg.Session.Backoff.InitialDelay).Msg("send failed")
		observability.RecordSendRetry()
		s.dropConn()

		backoff := s.cfg.Session.Backoff
		backoff.Jitter = false
		if err := session.Sleep(ctx, session.NextBackoffDelay(backoff, attempt, nil)); err != nil {
			return s.closedOr(ctx)
		}
	}
}

// SendKeepalive writes one zero-length frame. It makes a single attempt and
// skips the write while another send holds the connection.
func (s *ReliableSender) SendKeepalive(ctx context.Context) error {
	if err := s.closedOr(ctx); err != nil {
		return err
	}
	if !s.writeMu.TryLock() {
		return nil
	}
	defer s.writeMu.Unlock()
	if err := s.writeLocked(ctx, frame.WrapKeepalive()); err != nil {
		s.dropConn()
		return err
	}
	observability.RecordKeepalive(directionSent)
	return nil
}

// RunKeepalive sends a keepalive every interval until ctx ends or the
// sender is closed. Failures are logged only.
func (s *ReliableSender) RunKeepalive(ctx context.Context) {
	interval := s.cfg.Session.KeepaliveInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.lifetime.Done():
			return
		case <-ticker.C:
			if err := s.SendKeepalive(ctx); err != nil && s.closedOr(ctx) == nil {
				s.log.Debug().Err(err).Msg("keepalive failed")
				observability.RecordTransportError(channelReliable, "keepalive")
			}
		}
	}
}

// Close drops the connection and fails every pending and future Send with
// ErrSenderClosed. Safe to call more than once.
func (s *ReliableSender) Close() error {
	s.cancel()
	s.dropConn()
	return nil
}

func (s *ReliableSender) closedOr(ctx context.Context) error {
	if s.lifetime.Err() != nil {
		return ErrSenderClosed
	}
	return ctx.Err()
}

func (s *ReliableSender) writeLocked(ctx context.Context, wrapped []byte) error {
	conn, err := s.connectLocked(ctx)
	if err != nil {
		return err
	}
	return s.writeConn(conn, wrapped)
}

func (s *ReliableSender) writeConn(conn net.Conn, wrapped []byte) error {
	if s.cfg.Session.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Session.WriteTimeout))
	}
	_, err := conn.Write(wrapped)
	return err
}

func (s *ReliableSender) connectLocked(ctx context.Context) (net.Conn, error) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn != nil {
		return conn, nil
	}

	dialer := net.Dialer{Timeout: s.cfg.Session.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Address)
	if err != nil {
		observability.RecordTransportError(channelReliable, "dial")
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	s.connMu.Lock()
	if s.lifetime.Err() != nil {
		s.connMu.Unlock()
		_ = conn.Close()
		return nil, ErrSenderClosed
	}
	s.conn = conn
	s.connMu.Unlock()

	n := s.connects.Add(1)
	observability.RecordStreamConnect("sender")
	s.log.Info().Str("local", conn.LocalAddr().String()).Uint64("connects", n).Msg("connected")

	if s.onConnected != nil {
		write := func(payload []byte) error {
			wrapped, err := frame.Wrap(payload)
			if err != nil {
				return err
			}
			if err := s.writeConn(conn, wrapped); err != nil {
				return err
			}
			observability.RecordMessage(channelReliable, directionSent, len(payload))
			return nil
		}
		if err := s.onConnected(write); err != nil {
			s.dropConn()
			return nil, fmt.Errorf("transport: connect hook: %w", err)
		}
	}
	return conn, nil
}

func (s *ReliableSender) dropConn() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

type ReliableListenerConfig struct {
	Address string
	Session session.Config
}

// ReliableListener accepts stream connections and decodes their frames
// into a Sink. Only the newest connection is served: accepting a new one
// closes the previous.
type ReliableListener struct {
	cfg   ReliableListenerConfig
	codec *envelope.Codec
	sink  Sink
	log   zerolog.Logger

	mu      sync.Mutex
	ln      net.Listener
	current net.Conn
	closed  bool

	accepted atomic.Uint64
	wg       sync.WaitGroup
}

func NewReliableListener(cfg ReliableListenerConfig, codec *envelope.Codec, sink Sink) (*ReliableListener, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, ErrAddressRequired
	}
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	return &ReliableListener{
		cfg:   cfg,
		codec: codec,
		sink:  sink,
		log:   logging.Component("transport.reliable"),
	}, nil
}

// Listen binds the socket. Serve calls it when it has not run yet.
func (l *ReliableListener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrListenerClosed
	}
	if l.ln != nil {
		return nil
	}
	ln, err := net.Listen("tcp", l.cfg.Address)
	if err != nil {
		return err
	}
	l.ln = ln
	l.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	return nil
}

func (l *ReliableListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Accepted reports how many connections have been accepted.
func (l *ReliableListener) Accepted() uint64 {
	return l.accepted.Load()
}

func (l *ReliableListener) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil
}

// Serve runs the accept loop until ctx ends or Close is called.
func (l *ReliableListener) Serve(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.isClosed() || ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.log.Warn().Err(err).Msg("accept failed")
			observability.RecordTransportError(channelReliable, "accept")
			continue
		}
		if !l.adopt(conn) {
			_ = conn.Close()
			return nil
		}
		go l.readLoop(conn)
	}
}

// Close stops the accept loop and closes the active connection. Safe to
// call more than once.
func (l *ReliableListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	ln := l.ln
	current := l.current
	l.current = nil
	l.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if current != nil {
		_ = current.Close()
	}
	l.wg.Wait()
	return nil
}

func (l *ReliableListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// adopt makes conn the active stream and closes the one it supersedes.
func (l *ReliableListener) adopt(conn net.Conn) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	previous := l.current
	l.current = conn
	l.wg.Add(1)
	l.mu.Unlock()

	n := l.accepted.Add(1)
	observability.RecordStreamConnect("listener")
	ev := l.log.Info().Str("remote", conn.RemoteAddr().String()).Uint64("accepted", n)
	if previous != nil {
		ev = ev.Str("superseded", previous.RemoteAddr().String())
		_ = previous.Close()
	}
	ev.Msg("stream accepted")
	return true
}

func (l *ReliableListener) release(conn net.Conn) {
	l.mu.Lock()
	if l.current == conn {
		l.current = nil
	}
	l.mu.Unlock()
	_ = conn.Close()
}

func (l *ReliableListener) readLoop(conn net.Conn) {
	defer l.wg.Done()
	defer l.release(conn)

	remote := conn.RemoteAddr().String()
	log := l.log.With().Str("remote", remote).Logger()
	framer := frame.NewFramer(l.cfg.Session.MaxMessageSize, func(msg []byte) {
		l.handleMessage(log, msg)
	})

	buf := make([]byte, readBufferSize)
	for {
		if l.cfg.Session.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(l.cfg.Session.ReadTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			if ferr := framer.Feed(buf[:n]); ferr != nil {
				log.Warn().Err(ferr).Msg("closing stream on protocol violation")
				observability.RecordTransportError(channelReliable, "violation")
				return
			}
		}
		if err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF):
				log.Info().Msg("stream closed by peer")
			case errors.Is(err, net.ErrClosed):
				log.Debug().Msg("stream closed")
			case errors.As(err, &netErr) && netErr.Timeout():
				log.Warn().Dur("read_timeout", l.cfg.Session.ReadTimeout).Msg("stream idle, closing")
				observability.RecordTransportError(channelReliable, "timeout")
			default:
				log.Warn().Err(err).Msg("stream read failed")
				observability.RecordTransportError(channelReliable, "read")
			}
			return
		}
	}
}

func (l *ReliableListener) handleMessage(log zerolog.Logger, msg []byte) {
	if len(msg) == 0 {
		observability.RecordKeepalive(directionReceived)
		return
	}
	observability.RecordMessage(channelReliable, directionReceived, len(msg))
	env, err := l.codec.Decode(msg)
	if err != nil {
		log.Warn().Err(err).Int("bytes", len(msg)).Msg("dropping undecodable message")
		observability.RecordTransportError(channelReliable, "decode")
		return
	}
	if err := l.sink.Publish(env); err != nil {
		log.Debug().Err(err).Stringer("kind", env.Kind).Msg("sink rejected envelope")
	}
}
