package sender

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danmuck/handstream/internal/delivery"
	"github.com/danmuck/handstream/internal/hand"
	"github.com/danmuck/handstream/internal/protocol/compress"
	"github.com/danmuck/handstream/internal/protocol/envelope"
	"github.com/danmuck/handstream/internal/protocol/session"
	"github.com/danmuck/handstream/internal/testutil/testlog"
	"github.com/danmuck/handstream/internal/transport"
)

func fastSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.ConnectTimeout = time.Second
	cfg.WriteTimeout = time.Second
	cfg.ReadTimeout = 0
	cfg.KeepaliveInterval = 50 * time.Millisecond
	cfg.Backoff = session.FixedBackoff(20 * time.Millisecond)
	return cfg
}

func TestSyntheticTopologyWaitsForNotReadyPolls(t *testing.T) {
	testlog.Start(t)

	src := NewSynthetic(SyntheticConfig{NotReadyPolls: 2})
	for i := 0; i < 2; i++ {
		if _, err := src.Skeleton(hand.SideLeft); !errors.Is(err, ErrNotReady) {
			t.Fatalf("poll %d: expected ErrNotReady, got %v", i, err)
		}
	}
	skel, err := src.Skeleton(hand.SideLeft)
	if err != nil {
		t.Fatalf("skeleton after warm-up: %v", err)
	}
	if err := skel.Validate(); err != nil {
		t.Fatalf("synthetic skeleton invalid: %v", err)
	}
	if len(skel.Bones) != syntheticBoneCount {
		t.Fatalf("expected %d bones, got %d", syntheticBoneCount, len(skel.Bones))
	}

	// readiness is tracked per side and kind
	if _, err := src.Skeleton(hand.SideRight); !errors.Is(err, ErrNotReady) {
		t.Fatalf("right skeleton should still be warming up, got %v", err)
	}
	if _, err := src.Mesh(hand.SideLeft); !errors.Is(err, ErrNotReady) {
		t.Fatalf("left mesh should still be warming up, got %v", err)
	}
}

func TestSyntheticMeshAndHandsAreValid(t *testing.T) {
	testlog.Start(t)

	src := NewSynthetic(DefaultSyntheticConfig())
	for _, side := range hand.Sides {
		mesh, err := src.Mesh(side)
		if err != nil {
			t.Fatalf("mesh %s: %v", side, err)
		}
		if err := mesh.Validate(); err != nil {
			t.Fatalf("mesh %s invalid: %v", side, err)
		}
		for _, phase := range hand.Phases {
			state, err := src.PollHand(side, phase)
			if err != nil {
				t.Fatalf("poll %s/%s: %v", side, phase, err)
			}
			if state.Side != side || state.Phase != phase {
				t.Fatalf("poll %s/%s returned %s", side, phase, state.Key())
			}
			if err := state.Validate(); err != nil {
				t.Fatalf("hand state invalid: %v", err)
			}
		}
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.PhysicsRateHz = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
	cfg = DefaultConfig()
	cfg.SnapshotPollInterval = 0
	if err := cfg.Validate(); !errors.Is(err, session.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewService(DefaultConfig(), nil); err == nil {
		t.Fatalf("expected error for nil source")
	}
}

func TestReplaySnapshotsWritesOnlyDelivered(t *testing.T) {
	testlog.Start(t)

	svc, err := NewService(DefaultConfig(), NewSynthetic(DefaultSyntheticConfig()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Close()

	delivered := session.SnapshotKey{Kind: envelope.KindSkeleton, Side: hand.SideLeft}
	pending := session.SnapshotKey{Kind: envelope.KindMesh, Side: hand.SideRight}
	svc.outbox.Upsert(session.PendingSnapshot{Key: delivered, Payload: []byte("skel")})
	svc.outbox.MarkAttempt(delivered, time.Now(), nil)
	svc.outbox.Upsert(session.PendingSnapshot{Key: pending, Payload: []byte("mesh")})

	var written []string
	err = svc.replaySnapshots(func(p []byte) error {
		written = append(written, string(p))
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(written) != 1 || written[0] != "skel" {
		t.Fatalf("expected only the delivered snapshot, got %q", written)
	}

	boom := errors.New("boom")
	err = svc.replaySnapshots(func([]byte) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestSendRoutesByKind(t *testing.T) {
	testlog.Start(t)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer pc.Close()

	cfg := DefaultConfig()
	cfg.DatagramAddress = pc.LocalAddr().String()
	cfg.Session = fastSession()
	source := NewSynthetic(SyntheticConfig{})
	svc, err := NewService(cfg, source)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Close()

	state, err := source.PollHand(hand.SideLeft, hand.PhaseRender)
	if err != nil {
		t.Fatalf("poll hand: %v", err)
	}
	n, err := svc.send(context.Background(), envelope.ForHandState(state))
	if err != nil {
		t.Fatalf("send hand state: %v", err)
	}
	buf := make([]byte, transport.MaxDatagramSize)
	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read datagram: %v", err)
	}
	if got != n {
		t.Fatalf("expected %d-byte datagram, got %d", n, got)
	}
	if svc.outbox.Len() != 0 {
		t.Fatalf("hand states must not enter the snapshot outbox")
	}

	skel, err := source.Skeleton(hand.SideRight)
	if err != nil {
		t.Fatalf("skeleton: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.send(ctx, envelope.ForSkeleton(skel)); err == nil {
		t.Fatalf("expected reliable send to stop with its context")
	}
	items := svc.outbox.List()
	want := session.SnapshotKey{Kind: envelope.KindSkeleton, Side: hand.SideRight}
	if len(items) != 1 || items[0].Key != want {
		t.Fatalf("expected skeleton tracked in outbox, got %+v", items)
	}
	if items[0].Attempts != 1 || items[0].Delivered() {
		t.Fatalf("expected one failed attempt, got %+v", items[0])
	}
}

func TestServiceStreamsToReceiver(t *testing.T) {
	testlog.Start(t)

	codec, err := envelope.NewCodec(compress.Zstd)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	router := delivery.NewRouter(delivery.DefaultConfig())

	ln, err := transport.NewReliableListener(transport.ReliableListenerConfig{
		Address: "127.0.0.1:0",
		Session: fastSession(),
	}, codec, router)
	if err != nil {
		t.Fatalf("listener: %v", err)
	}
	if err := ln.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	fast, err := transport.NewFastReceiver("127.0.0.1:0", codec, router)
	if err != nil {
		t.Fatalf("fast receiver: %v", err)
	}
	if err := fast.Listen(); err != nil {
		t.Fatalf("fast listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ln.Serve(ctx) }()
	go func() { _ = fast.Serve(ctx) }()

	cfg := DefaultConfig()
	cfg.StreamAddress = ln.Addr().String()
	cfg.DatagramAddress = fast.Addr().String()
	cfg.Compression = compress.Zstd
	cfg.Session = fastSession()
	cfg.RenderRateHz = 200
	cfg.PhysicsRateHz = 200
	cfg.SnapshotPollInterval = 10 * time.Millisecond

	svc, err := NewService(cfg, NewSynthetic(SyntheticConfig{NotReadyPolls: 3}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	var skeletons, meshes [2]bool
	var gotHand bool
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, side := range hand.Sides {
			if _, ok := router.DrainSkeleton(side); ok {
				skeletons[side.Index()] = true
			}
			if _, ok := router.DrainMesh(side); ok {
				meshes[side.Index()] = true
			}
			if _, ok := router.DrainHandState(side, hand.PhaseRender); ok {
				gotHand = true
			}
		}
		if gotHand && skeletons == [2]bool{true, true} && meshes == [2]bool{true, true} {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !gotHand {
		t.Fatalf("no hand state arrived")
	}
	if skeletons != [2]bool{true, true} || meshes != [2]bool{true, true} {
		t.Fatalf("topology incomplete: skeletons=%v meshes=%v", skeletons, meshes)
	}

	st := svc.Status()
	if st.SnapshotsSent < 4 || st.HandStatesSent == 0 || !st.Connected {
		t.Fatalf("unexpected status %+v", st)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
	_ = ln.Close()
	_ = fast.Close()
}
