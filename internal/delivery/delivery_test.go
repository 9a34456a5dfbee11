package delivery

import (
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/handstream/internal/hand"
	"github.com/danmuck/handstream/internal/protocol/envelope"
	"github.com/danmuck/handstream/internal/testutil/testlog"
)

func state(side hand.Side, phase hand.Phase, scale float32) hand.HandState {
	return hand.HandState{Side: side, Phase: phase, Status: hand.StatusTracked, HandScale: scale}
}

func TestMailboxLatestWins(t *testing.T) {
	testlog.Start(t)
	var m Mailbox[int]
	if _, ok := m.Drain(); ok {
		t.Fatalf("expected empty mailbox")
	}
	if m.Put(1) {
		t.Fatalf("first put should not replace")
	}
	if !m.Put(2) {
		t.Fatalf("second put should replace")
	}
	if v, ok := m.Drain(); !ok || v != 2 {
		t.Fatalf("expected 2, got %d ok=%v", v, ok)
	}
	if _, ok := m.Drain(); ok {
		t.Fatalf("expected mailbox cleared by drain")
	}

	m.Put(3)
	if v, _ := m.Drain(); v != 3 {
		t.Fatalf("expected 3, got %d", v)
	}
	m.Put(4)
	if v, _ := m.Drain(); v != 4 {
		t.Fatalf("expected 4, got %d", v)
	}
}

func TestRingEvictsOldest(t *testing.T) {
	testlog.Start(t)
	r := NewRing[int](3)
	for i := 1; i <= 3; i++ {
		if r.Push(i) {
			t.Fatalf("push %d should not evict", i)
		}
	}
	if !r.Push(4) {
		t.Fatalf("push into full ring should evict")
	}
	if got := r.Snapshot(); len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Fatalf("unexpected snapshot %v", got)
	}
	for _, want := range []int{2, 3, 4} {
		v, ok := r.Pop()
		if !ok || v != want {
			t.Fatalf("expected %d, got %d ok=%v", want, v, ok)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatalf("expected empty ring")
	}
}

func TestRingWrapsRepeatedly(t *testing.T) {
	testlog.Start(t)
	r := NewRing[int](4)
	next := 0
	for round := 0; round < 10; round++ {
		r.Push(next)
		r.Push(next + 1)
		next += 2
		r.Pop()
	}
	if r.Len() > r.Cap() {
		t.Fatalf("ring length %d exceeds capacity %d", r.Len(), r.Cap())
	}
	prev := -1
	for r.Len() > 0 {
		v, _ := r.Pop()
		if v <= prev {
			t.Fatalf("expected ascending order, got %d after %d", v, prev)
		}
		prev = v
	}
}

func TestRingMinimumCapacity(t *testing.T) {
	testlog.Start(t)
	r := NewRing[string](0)
	r.Push("a")
	r.Push("b")
	if v, _ := r.Pop(); v != "b" || r.Cap() != 1 {
		t.Fatalf("expected single-slot ring holding b, got %q cap=%d", v, r.Cap())
	}
}

func TestRouterRoutesByKind(t *testing.T) {
	testlog.Start(t)
	r := NewRouter(DefaultConfig())

	if err := r.Publish(envelope.ForHandState(state(hand.SideLeft, hand.PhasePhysics, 1))); err != nil {
		t.Fatalf("publish hand: %v", err)
	}
	if err := r.Publish(envelope.ForSkeleton(hand.SkeletonSnapshot{Side: hand.SideRight})); err != nil {
		t.Fatalf("publish skeleton: %v", err)
	}
	if err := r.Publish(envelope.ForMesh(hand.MeshSnapshot{Side: hand.SideLeft})); err != nil {
		t.Fatalf("publish mesh: %v", err)
	}

	if _, ok := r.DrainHandState(hand.SideLeft, hand.PhaseRender); ok {
		t.Fatalf("render slot should be empty")
	}
	if _, ok := r.DrainHandState(hand.SideRight, hand.PhasePhysics); ok {
		t.Fatalf("right physics slot should be empty")
	}
	if got, ok := r.DrainHandState(hand.SideLeft, hand.PhasePhysics); !ok || got.HandScale != 1 {
		t.Fatalf("expected left physics state, got %+v ok=%v", got, ok)
	}
	if _, ok := r.DrainSkeleton(hand.SideLeft); ok {
		t.Fatalf("left skeleton queue should be empty")
	}
	if got, ok := r.DrainSkeleton(hand.SideRight); !ok || got.Side != hand.SideRight {
		t.Fatalf("expected right skeleton, got %+v ok=%v", got, ok)
	}
	if _, ok := r.DrainMesh(hand.SideRight); ok {
		t.Fatalf("right mesh queue should be empty")
	}
	if got, ok := r.DrainMesh(hand.SideLeft); !ok || got.Side != hand.SideLeft {
		t.Fatalf("expected left mesh, got %+v ok=%v", got, ok)
	}
	if p := r.Pending(); p != (Pending{}) {
		t.Fatalf("expected nothing pending, got %+v", p)
	}
}

func TestRouterCoalescesHandStates(t *testing.T) {
	testlog.Start(t)
	r := NewRouter(DefaultConfig())
	_ = r.PublishHand(state(hand.SideRight, hand.PhaseRender, 1))
	_ = r.PublishHand(state(hand.SideRight, hand.PhaseRender, 2))
	if p := r.Pending(); p.HandStates != 1 {
		t.Fatalf("expected one pending hand state, got %d", p.HandStates)
	}
	got, _ := r.DrainHandState(hand.SideRight, hand.PhaseRender)
	if got.HandScale != 2 {
		t.Fatalf("expected latest state, got scale %v", got.HandScale)
	}
}

func TestRouterBoundsSnapshotQueues(t *testing.T) {
	testlog.Start(t)
	r := NewRouter(Config{SnapshotCapacity: 2})
	for i := 0; i < 3; i++ {
		bones := make([]hand.Bone, i+1)
		for b := range bones {
			bones[b].ParentIndex = hand.NoParent
		}
		_ = r.PublishSkeleton(hand.SkeletonSnapshot{Side: hand.SideLeft, Bones: bones})
	}
	first, _ := r.DrainSkeleton(hand.SideLeft)
	second, _ := r.DrainSkeleton(hand.SideLeft)
	if len(first.Bones) != 2 || len(second.Bones) != 3 {
		t.Fatalf("expected oldest evicted, got %d then %d bones", len(first.Bones), len(second.Bones))
	}
}

func TestRouterRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	r := NewRouter(DefaultConfig())
	if err := r.Publish(envelope.Envelope{Kind: envelope.KindMesh}); !errors.Is(err, envelope.ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
	if err := r.PublishHand(hand.HandState{Side: hand.SideLeft}); !errors.Is(err, hand.ErrInvalidPhase) {
		t.Fatalf("expected ErrInvalidPhase, got %v", err)
	}
	if _, ok := r.DrainHandState(0, hand.PhaseRender); ok {
		t.Fatalf("invalid side must drain nothing")
	}
	if _, ok := r.DrainMesh(3); ok {
		t.Fatalf("invalid side must drain nothing")
	}
}

func TestRouterConcurrentPublishAndDrain(t *testing.T) {
	testlog.Start(t)
	r := NewRouter(Config{SnapshotCapacity: 8})
	var wg sync.WaitGroup
	for _, key := range hand.Keys {
		wg.Add(1)
		go func(key hand.Key) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = r.PublishHand(state(key.Side, key.Phase, float32(i)))
				_ = r.PublishMesh(hand.MeshSnapshot{Side: key.Side})
			}
		}(key)
	}
	drained := make(chan int, 1)
	stop := make(chan struct{})
	go func() {
		n := 0
		for {
			select {
			case <-stop:
				drained <- n
				return
			default:
			}
			for _, key := range hand.Keys {
				if _, ok := r.DrainHandState(key.Side, key.Phase); ok {
					n++
				}
			}
			for _, side := range hand.Sides {
				r.DrainMesh(side)
			}
		}
	}()
	wg.Wait()
	close(stop)
	<-drained

	for _, key := range hand.Keys {
		r.DrainHandState(key.Side, key.Phase)
	}
	r.Clear()
	if p := r.Pending(); p != (Pending{}) {
		t.Fatalf("expected cleared router, got %+v", p)
	}
}

func TestHistoryKeepsMostRecent(t *testing.T) {
	testlog.Start(t)
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Record(state(hand.SideLeft, hand.PhaseRender, float32(i)))
	}
	got := h.Snapshot()
	if len(got) != 3 || got[0].HandScale != 3 || got[2].HandScale != 5 {
		t.Fatalf("unexpected history %+v", got)
	}
	h.Clear()
	if h.Len() != 0 {
		t.Fatalf("expected empty history")
	}
}
