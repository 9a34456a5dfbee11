package delivery

import (
	"fmt"

	"github.com/danmuck/handstream/internal/hand"
	"github.com/danmuck/handstream/internal/observability"
	"github.com/danmuck/handstream/internal/protocol/envelope"
)

const (
	DefaultSnapshotCapacity = 50
	DefaultHistoryCapacity  = 100
)

type Config struct {
	SnapshotCapacity int
}

func DefaultConfig() Config {
	return Config{SnapshotCapacity: DefaultSnapshotCapacity}
}

// Router fans decoded envelopes out to per-key storage: one coalescing
// mailbox per (side, phase) for hand states and one bounded FIFO per
// (kind, side) for snapshots. Each slot locks independently.
type Router struct {
	hands     [2][2]Mailbox[hand.HandState]
	skeletons [2]*Ring[hand.SkeletonSnapshot]
	meshes    [2]*Ring[hand.MeshSnapshot]
}

func NewRouter(cfg Config) *Router {
	if cfg.SnapshotCapacity <= 0 {
		cfg.SnapshotCapacity = DefaultSnapshotCapacity
	}
	r := &Router{}
	for i := range r.skeletons {
		r.skeletons[i] = NewRing[hand.SkeletonSnapshot](cfg.SnapshotCapacity)
		r.meshes[i] = NewRing[hand.MeshSnapshot](cfg.SnapshotCapacity)
	}
	return r
}

// Publish routes env by its kind. Invalid envelopes are rejected without
// touching any slot.
func (r *Router) Publish(env envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	switch env.Kind {
	case envelope.KindHandState:
		return r.PublishHand(*env.Hand)
	case envelope.KindSkeleton:
		return r.PublishSkeleton(*env.Skeleton)
	case envelope.KindMesh:
		return r.PublishMesh(*env.Mesh)
	default:
		return fmt.Errorf("%w: unknown kind %d", envelope.ErrInvalidEnvelope, uint8(env.Kind))
	}
}

func (r *Router) PublishHand(state hand.HandState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	if r.hands[state.Side.Index()][state.Phase.Index()].Put(state) {
		observability.RecordMailboxOverwrite(state.Key().String())
	}
	return nil
}

func (r *Router) PublishSkeleton(s hand.SkeletonSnapshot) error {
	if !s.Side.Valid() {
		return fmt.Errorf("%w: %d", hand.ErrInvalidSide, s.Side)
	}
	if r.skeletons[s.Side.Index()].Push(s) {
		observability.RecordQueueEviction(envelope.KindSkeleton.String())
	}
	return nil
}

func (r *Router) PublishMesh(m hand.MeshSnapshot) error {
	if !m.Side.Valid() {
		return fmt.Errorf("%w: %d", hand.ErrInvalidSide, m.Side)
	}
	if r.meshes[m.Side.Index()].Push(m) {
		observability.RecordQueueEviction(envelope.KindMesh.String())
	}
	return nil
}

// DrainHandState takes the latest undrained state for (side, phase).
func (r *Router) DrainHandState(side hand.Side, phase hand.Phase) (hand.HandState, bool) {
	if !side.Valid() || !phase.Valid() {
		return hand.HandState{}, false
	}
	return r.hands[side.Index()][phase.Index()].Drain()
}

// DrainSkeleton pops the oldest queued skeleton for side.
func (r *Router) DrainSkeleton(side hand.Side) (hand.SkeletonSnapshot, bool) {
	if !side.Valid() {
		return hand.SkeletonSnapshot{}, false
	}
	return r.skeletons[side.Index()].Pop()
}

// DrainMesh pops the oldest queued mesh for side.
func (r *Router) DrainMesh(side hand.Side) (hand.MeshSnapshot, bool) {
	if !side.Valid() {
		return hand.MeshSnapshot{}, false
	}
	return r.meshes[side.Index()].Pop()
}

// Clear drops everything waiting in every slot.
func (r *Router) Clear() {
	for s := range r.hands {
		for p := range r.hands[s] {
			r.hands[s][p].Clear()
		}
		r.skeletons[s].Clear()
		r.meshes[s].Clear()
	}
}

// Pending is a point-in-time view of undrained items.
type Pending struct {
	HandStates int `json:"hand_states"`
	Skeletons  int `json:"skeletons"`
	Meshes     int `json:"meshes"`
}

func (r *Router) Pending() Pending {
	var p Pending
	for s := range r.hands {
		for ph := range r.hands[s] {
			if r.hands[s][ph].Full() {
				p.HandStates++
			}
		}
		p.Skeletons += r.skeletons[s].Len()
		p.Meshes += r.meshes[s].Len()
	}
	return p
}
