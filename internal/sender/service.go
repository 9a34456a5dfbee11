package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/handstream/internal/hand"
	"github.com/danmuck/handstream/internal/logging"
	"github.com/danmuck/handstream/internal/protocol/compress"
	"github.com/danmuck/handstream/internal/protocol/envelope"
	"github.com/danmuck/handstream/internal/protocol/session"
	"github.com/danmuck/handstream/internal/transport"
	"github.com/rs/zerolog"
)

var ErrInvalidRate = errors.New("sender: tick rate must be > 0")

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 27000
)

type Config struct {
	// StreamAddress receives skeleton and mesh snapshots over TCP.
	StreamAddress string
	// DatagramAddress receives hand states over UDP.
	DatagramAddress      string
	Compression          compress.Algorithm
	Session              session.Config
	RenderRateHz         float64
	PhysicsRateHz        float64
	SnapshotPollInterval time.Duration
}

func DefaultConfig() Config {
	addr := net.JoinHostPort(DefaultHost, strconv.Itoa(DefaultPort))
	return Config{
		StreamAddress:        addr,
		DatagramAddress:      addr,
		Compression:          compress.Gzip,
		Session:              session.DefaultConfig(),
		RenderRateHz:         72,
		PhysicsRateHz:        50,
		SnapshotPollInterval: time.Second,
	}
}

func (c Config) Validate() error {
	if c.RenderRateHz <= 0 || c.PhysicsRateHz <= 0 {
		return fmt.Errorf("%w: render=%v physics=%v", ErrInvalidRate, c.RenderRateHz, c.PhysicsRateHz)
	}
	if c.SnapshotPollInterval <= 0 {
		return fmt.Errorf("%w: snapshot_poll_interval=%s", session.ErrInvalidConfig, c.SnapshotPollInterval)
	}
	return c.Session.Validate()
}

// Status counts what the producer has sent.
type Status struct {
	StreamAddress   string `json:"stream_address"`
	DatagramAddress string `json:"datagram_address"`
	Connected       bool   `json:"connected"`
	Connects        uint64 `json:"connects"`
	HandStatesSent  uint64 `json:"hand_states_sent"`
	SnapshotsSent   uint64 `json:"snapshots_sent"`
	SnapshotsQueued int    `json:"snapshots_queued"`
}

// Service polls a Source and streams it to one consumer: hand states over
// the fast channel at the render and physics rates, topology over the
// reliable channel once it becomes available.
type Service struct {
	cfg    Config
	source Source
	codec  *envelope.Codec
	log    zerolog.Logger

	reliable *transport.ReliableSender
	fast     *transport.FastSender
	outbox   *session.SnapshotOutbox

	handsSent     atomic.Uint64
	snapshotsSent atomic.Uint64
	closeOnce     sync.Once
}

func NewService(cfg Config, source Source) (*Service, error) {
	if source == nil {
		return nil, errors.New("sender: source required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := envelope.NewCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	reliable, err := transport.NewReliableSender(transport.ReliableSenderConfig{
		Address: cfg.StreamAddress,
		Session: cfg.Session,
	})
	if err != nil {
		return nil, err
	}
	fast, err := transport.NewFastSender(cfg.DatagramAddress)
	if err != nil {
		_ = reliable.Close()
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		source:   source,
		codec:    codec,
		log:      logging.Component("sender"),
		reliable: reliable,
		fast:     fast,
		outbox:   session.NewSnapshotOutbox(),
	}
	reliable.OnConnected(s.replaySnapshots)
	return s, nil
}

// Run streams until ctx ends, then closes both channels.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info().
		Str("stream", s.cfg.StreamAddress).
		Str("datagram", s.cfg.DatagramAddress).
		Stringer("compression", s.cfg.Compression).
		Msg("sender starting")

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(s.reliable.RunKeepalive)
	run(func(ctx context.Context) { s.tickLoop(ctx, hand.PhaseRender, s.cfg.RenderRateHz) })
	run(func(ctx context.Context) { s.tickLoop(ctx, hand.PhasePhysics, s.cfg.PhysicsRateHz) })
	for _, kind := range []envelope.Kind{envelope.KindSkeleton, envelope.KindMesh} {
		for _, side := range hand.Sides {
			key := session.SnapshotKey{Kind: kind, Side: side}
			run(func(ctx context.Context) { s.handshake(ctx, key) })
		}
	}

	<-ctx.Done()
	_ = s.Close()
	wg.Wait()
	s.log.Info().Uint64("hand_states", s.handsSent.Load()).Uint64("snapshots", s.snapshotsSent.Load()).Msg("sender stopped")
	return nil
}

// Close shuts both channels. Safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		_ = s.reliable.Close()
		_ = s.fast.Close()
	})
	return nil
}

func (s *Service) Status() Status {
	return Status{
		StreamAddress:   s.cfg.StreamAddress,
		DatagramAddress: s.cfg.DatagramAddress,
		Connected:       s.reliable.Connected(),
		Connects:        s.reliable.Connects(),
		HandStatesSent:  s.handsSent.Load(),
		SnapshotsSent:   s.snapshotsSent.Load(),
		SnapshotsQueued: s.outbox.Len(),
	}
}

func (s *Service) tickLoop(ctx context.Context, phase hand.Phase, rateHz float64) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rateHz))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, phase)
		}
	}
}

// Tick polls both hands for phase and sends whatever is available.
func (s *Service) Tick(ctx context.Context, phase hand.Phase) {
	for _, side := range hand.Sides {
		state, err := s.source.PollHand(side, phase)
		if err != nil {
			s.log.Trace().Err(err).Stringer("side", side).Stringer("phase", phase).Msg("poll skipped")
			continue
		}
		if _, err := s.send(ctx, envelope.ForHandState(state)); err != nil {
			s.log.Debug().Err(err).Stringer("side", side).Stringer("phase", phase).Msg("hand state not sent")
			continue
		}
		s.handsSent.Add(1)
	}
}

// send encodes env and puts it on the channel its kind travels on. Reliable
// payloads are kept in the outbox for replay after a reconnect. It returns
// the encoded size.
func (s *Service) send(ctx context.Context, env envelope.Envelope) (int, error) {
	payload, err := s.codec.Encode(env)
	if err != nil {
		return 0, err
	}
	if !env.Kind.Reliable() {
		return len(payload), s.fast.Send(payload)
	}
	key := session.SnapshotKey{Kind: env.Kind, Side: env.Side()}
	s.outbox.Upsert(session.PendingSnapshot{Key: key, Payload: payload, QueuedAt: time.Now()})
	err = s.reliable.Send(ctx, payload)
	s.outbox.MarkAttempt(key, time.Now(), err)
	return len(payload), err
}

// handshake polls the source for one snapshot until it is available, then
// sends it over the reliable channel.
func (s *Service) handshake(ctx context.Context, key session.SnapshotKey) {
	log := s.log.With().Stringer("kind", key.Kind).Stringer("side", key.Side).Logger()
	var env envelope.Envelope
	err := session.Retry(ctx, session.RetryPolicy{Backoff: session.FixedBackoff(s.cfg.SnapshotPollInterval)}, func(attempt int) error {
		var err error
		env, err = s.pollSnapshot(key)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("snapshot not available")
		}
		return err
	})
	if err != nil {
		return
	}

	size, err := s.send(ctx, env)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug().Err(err).Msg("snapshot send abandoned")
		} else {
			log.Error().Err(err).Msg("snapshot send failed")
		}
		return
	}
	s.snapshotsSent.Add(1)
	log.Info().Int("bytes", size).Msg("snapshot sent")
}

func (s *Service) pollSnapshot(key session.SnapshotKey) (envelope.Envelope, error) {
	switch key.Kind {
	case envelope.KindSkeleton:
		skel, err := s.source.Skeleton(key.Side)
		if err != nil {
			return envelope.Envelope{}, err
		}
		return envelope.ForSkeleton(skel), nil
	case envelope.KindMesh:
		mesh, err := s.source.Mesh(key.Side)
		if err != nil {
			return envelope.Envelope{}, err
		}
		return envelope.ForMesh(mesh), nil
	default:
		return envelope.Envelope{}, fmt.Errorf("%w: kind %s", envelope.ErrInvalidEnvelope, key.Kind)
	}
}

// replaySnapshots resends every delivered snapshot on a fresh connection so
// a restarted consumer receives topology again. Undelivered snapshots are
// still owned by their pending Send.
func (s *Service) replaySnapshots(write func([]byte) error) error {
	for _, item := range s.outbox.List() {
		if !item.Delivered() {
			continue
		}
		if err := write(item.Payload); err != nil {
			return err
		}
		s.outbox.MarkAttempt(item.Key, time.Now(), nil)
		s.snapshotsSent.Add(1)
		s.log.Info().Stringer("kind", item.Key.Kind).Stringer("side", item.Key.Side).Msg("snapshot replayed")
	}
	return nil
}
