package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/handstream/internal/delivery"
	"github.com/danmuck/handstream/internal/hand"
	"github.com/danmuck/handstream/internal/logging"
	"github.com/danmuck/handstream/internal/protocol/compress"
	"github.com/danmuck/handstream/internal/protocol/envelope"
	"github.com/danmuck/handstream/internal/protocol/session"
	"github.com/danmuck/handstream/internal/recording"
	"github.com/danmuck/handstream/internal/transport"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadyStarted = errors.New("receiver: already started")
	ErrClosed         = errors.New("receiver: closed")
	ErrInvalidRate    = errors.New("receiver: tick rate must be >= 0")
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 27000

	// runLoops is the most loops Run spawns: reliable, fast, render,
	// physics, control and http.
	runLoops = 6
)

type Config struct {
	// StreamAddress is the TCP listen address for the reliable channel.
	StreamAddress string
	// DatagramAddress is the UDP listen address for the fast channel.
	DatagramAddress string
	Compression     compress.Algorithm
	Session         session.Config
	Delivery        delivery.Config
	HistoryCapacity int
	// RenderRateHz and PhysicsRateHz drive the internal tick loops. Zero
	// leaves ticking to the caller.
	RenderRateHz  float64
	PhysicsRateHz float64
	// RecordingsDir holds persisted recordings. Empty keeps them in memory.
	RecordingsDir string
	// ControlAddress enables the admin endpoint when set.
	ControlAddress string
	// MetricsAddress enables the HTTP status endpoint when set.
	MetricsAddress string
}

func DefaultConfig() Config {
	addr := net.JoinHostPort(DefaultHost, strconv.Itoa(DefaultPort))
	return Config{
		StreamAddress:   addr,
		DatagramAddress: addr,
		Compression:     compress.Gzip,
		Session:         session.DefaultConfig(),
		Delivery:        delivery.DefaultConfig(),
		HistoryCapacity: delivery.DefaultHistoryCapacity,
		RenderRateHz:    72,
		PhysicsRateHz:   50,
	}
}

func (c Config) Validate() error {
	if c.RenderRateHz < 0 || c.PhysicsRateHz < 0 {
		return fmt.Errorf("%w: render=%v physics=%v", ErrInvalidRate, c.RenderRateHz, c.PhysicsRateHz)
	}
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("%w: history_capacity=%d", session.ErrInvalidConfig, c.HistoryCapacity)
	}
	if c.Delivery.SnapshotCapacity <= 0 {
		return fmt.Errorf("%w: snapshot_queue_capacity=%d", session.ErrInvalidConfig, c.Delivery.SnapshotCapacity)
	}
	return c.Session.Validate()
}

// Status is a point-in-time view of the receiver.
type Status struct {
	StreamAddress   string                 `json:"stream_address"`
	DatagramAddress string                 `json:"datagram_address"`
	Connected       bool                   `json:"connected"`
	Accepted        uint64                 `json:"accepted"`
	Ready           map[string]bool        `json:"ready"`
	Capturing       bool                   `json:"capturing"`
	FramesCaptured  int                    `json:"frames_captured"`
	Recordings      int                    `json:"recordings"`
	Playback        recording.PlayerStatus `json:"playback"`
	LiveDropped     uint64                 `json:"live_dropped"`
	History         int                    `json:"history"`
	Pending         delivery.Pending       `json:"pending"`
}

// Service is the consumer runtime.
type Service struct {
	cfg      Config
	consumer Consumer
	log      zerolog.Logger

	codec    *envelope.Codec
	router   *delivery.Router
	history  *delivery.History
	listener *transport.ReliableListener
	fast     *transport.FastReceiver
	store    *recording.Store
	registry *recording.Registry
	recorder *recording.Recorder
	player   *recording.Player

	readyMu  sync.Mutex
	skelDone [2]bool
	meshDone [2]bool

	// liveMu orders live publishes against playback taking over the router.
	liveMu      sync.RWMutex
	liveDropped atomic.Uint64

	lifecycleMu sync.Mutex
	started     bool
	closed      bool
	control     net.Listener
	httpServer  *http.Server
	httpLn      net.Listener
}

// NewService wires every component and loads persisted recordings.
// consumer may be nil when the caller only drains.
func NewService(cfg Config, consumer Consumer) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := envelope.NewCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		consumer: consumer,
		log:      logging.Component("receiver"),
		codec:    codec,
		router:   delivery.NewRouter(cfg.Delivery),
		history:  delivery.NewHistory(cfg.HistoryCapacity),
		registry: recording.NewRegistry(),
	}
	s.player = recording.NewPlayer(s.router)

	var persister recording.Persister
	if dir := strings.TrimSpace(cfg.RecordingsDir); dir != "" {
		store, err := recording.NewStore(dir, codec, cfg.Compression)
		if err != nil {
			return nil, err
		}
		s.store = store
		persister = store
		for _, rec := range store.LoadAll() {
			s.registry.Register(rec)
		}
		s.log.Info().Str("dir", dir).Int("recordings", s.registry.Len()).Msg("recordings loaded")
	}
	s.recorder = recording.NewRecorder(persister, s.registry)

	sink := transport.SinkFunc(s.publishLive)
	s.listener, err = transport.NewReliableListener(transport.ReliableListenerConfig{
		Address: cfg.StreamAddress,
		Session: cfg.Session,
	}, codec, sink)
	if err != nil {
		return nil, err
	}
	s.fast, err = transport.NewFastReceiver(cfg.DatagramAddress, codec, sink)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// publishLive routes one envelope off the wire. Live data is dropped while
// a recording is playing.
func (s *Service) publishLive(env envelope.Envelope) error {
	s.liveMu.RLock()
	defer s.liveMu.RUnlock()
	if s.player.Active() {
		s.liveDropped.Add(1)
		return nil
	}
	return s.router.Publish(env)
}

// Start binds every configured socket so addresses are known before Run.
func (s *Service) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	if err := s.listener.Listen(); err != nil {
		return err
	}
	if err := s.fast.Listen(); err != nil {
		_ = s.listener.Close()
		return err
	}
	if addr := strings.TrimSpace(s.cfg.ControlAddress); addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.closeSocketsLocked()
			return fmt.Errorf("receiver: control listen: %w", err)
		}
		s.control = ln
	}
	if addr := strings.TrimSpace(s.cfg.MetricsAddress); addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.closeSocketsLocked()
			return fmt.Errorf("receiver: metrics listen: %w", err)
		}
		s.httpLn = ln
		s.httpServer = &http.Server{Handler: s.httpHandler(), ReadHeaderTimeout: 5 * time.Second}
	}
	s.started = true
	s.log.Info().
		Stringer("stream", s.listener.Addr()).
		Stringer("datagram", s.fast.Addr()).
		Stringer("compression", s.codec.Compression()).
		Msg("receiver listening")
	return nil
}

// Run serves until ctx ends, then closes everything. It calls Start when
// that has not happened yet.
func (s *Service) Run(ctx context.Context) error {
	s.lifecycleMu.Lock()
	started := s.started
	s.lifecycleMu.Unlock()
	if !started {
		if err := s.Start(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	// One slot per loop so a failing loop never blocks on send.
	errs := make(chan error, runLoops)
	spawn := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				if ctx.Err() == nil {
					s.log.Error().Err(err).Str("loop", name).Msg("loop failed")
				}
				errs <- fmt.Errorf("receiver: %s: %w", name, err)
			}
		}()
	}

	spawn("reliable", func() error { return s.listener.Serve(ctx) })
	spawn("fast", func() error { return s.fast.Serve(ctx) })
	if s.cfg.RenderRateHz > 0 {
		spawn("render", func() error { s.tickLoop(ctx, s.cfg.RenderRateHz, s.TickRender); return nil })
	}
	if s.cfg.PhysicsRateHz > 0 {
		spawn("physics", func() error { s.tickLoop(ctx, s.cfg.PhysicsRateHz, s.TickPhysics); return nil })
	}
	if s.control != nil {
		spawn("control", func() error { return s.serveControl(ctx, s.control) })
	}
	if s.httpServer != nil {
		spawn("http", func() error {
			err := s.httpServer.Serve(s.httpLn)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}
	cancel()
	_ = s.Close()
	wg.Wait()
	s.log.Info().Msg("receiver stopped")
	return runErr
}

// Close shuts every socket. Safe to call more than once. An in-progress
// capture is left unsaved.
func (s *Service) Close() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.recorder.Capturing() {
		s.log.Warn().Int("frames", s.recorder.FrameCount()).Msg("closing with capture in progress")
	}
	s.closeSocketsLocked()
	return nil
}

func (s *Service) closeSocketsLocked() {
	_ = s.listener.Close()
	_ = s.fast.Close()
	if s.control != nil {
		_ = s.control.Close()
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.httpServer.Shutdown(ctx)
		cancel()
	} else if s.httpLn != nil {
		_ = s.httpLn.Close()
	}
}

func (s *Service) StreamAddr() net.Addr {
	return s.listener.Addr()
}

func (s *Service) DatagramAddr() net.Addr {
	return s.fast.Addr()
}

// ControlAddr is nil unless the admin endpoint is enabled and bound.
func (s *Service) ControlAddr() net.Addr {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.control == nil {
		return nil
	}
	return s.control.Addr()
}

// MetricsAddr is nil unless the HTTP endpoint is enabled and bound.
func (s *Service) MetricsAddr() net.Addr {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

func (s *Service) Status() Status {
	ready := make(map[string]bool, len(hand.Sides))
	for _, side := range hand.Sides {
		ready[side.String()] = s.Ready(side)
	}
	return Status{
		StreamAddress:   addrString(s.listener.Addr(), s.cfg.StreamAddress),
		DatagramAddress: addrString(s.fast.Addr(), s.cfg.DatagramAddress),
		Connected:       s.listener.Connected(),
		Accepted:        s.listener.Accepted(),
		Ready:           ready,
		Capturing:       s.recorder.Capturing(),
		FramesCaptured:  s.recorder.FrameCount(),
		Recordings:      s.registry.Len(),
		Playback:        s.player.Status(),
		LiveDropped:     s.liveDropped.Load(),
		History:         s.history.Len(),
		Pending:         s.router.Pending(),
	}
}

func addrString(addr net.Addr, fallback string) string {
	if addr == nil {
		return fallback
	}
	return addr.String()
}

func (s *Service) tickLoop(ctx context.Context, rateHz float64, tick func()) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rateHz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick()
		}
	}
}
