package recording

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/handstream/internal/hand"
)

// RecordedFrame holds the hand states drained during one consumer tick,
// at most one per key.
type RecordedFrame struct {
	LeftRender   *hand.HandState `cbor:"1,keyasint,omitempty"`
	RightRender  *hand.HandState `cbor:"2,keyasint,omitempty"`
	LeftPhysics  *hand.HandState `cbor:"3,keyasint,omitempty"`
	RightPhysics *hand.HandState `cbor:"4,keyasint,omitempty"`
}

func (f *RecordedFrame) slot(key hand.Key) **hand.HandState {
	switch key {
	case hand.Keys[0]:
		return &f.LeftRender
	case hand.Keys[1]:
		return &f.RightRender
	case hand.Keys[2]:
		return &f.LeftPhysics
	case hand.Keys[3]:
		return &f.RightPhysics
	default:
		return nil
	}
}

// Set stores state in its key's slot, replacing any earlier state.
func (f *RecordedFrame) Set(state hand.HandState) bool {
	slot := f.slot(state.Key())
	if slot == nil {
		return false
	}
	c := state.Clone()
	*slot = &c
	return true
}

func (f RecordedFrame) Get(key hand.Key) (hand.HandState, bool) {
	slot := f.slot(key)
	if slot == nil || *slot == nil {
		return hand.HandState{}, false
	}
	return **slot, true
}

func (f RecordedFrame) HasAnyData() bool {
	return f.LeftRender != nil || f.RightRender != nil || f.LeftPhysics != nil || f.RightPhysics != nil
}

// States returns the populated slots for phase, left before right.
func (f RecordedFrame) States(phase hand.Phase) []hand.HandState {
	out := make([]hand.HandState, 0, 2)
	for _, side := range hand.Sides {
		if s, ok := f.Get(hand.Key{Side: side, Phase: phase}); ok {
			out = append(out, s)
		}
	}
	return out
}

// InitSnapshotSet is the topology a recording needs to rebuild both hands.
type InitSnapshotSet struct {
	LeftSkeleton  *hand.SkeletonSnapshot `cbor:"1,keyasint,omitempty"`
	RightSkeleton *hand.SkeletonSnapshot `cbor:"2,keyasint,omitempty"`
	LeftMesh      *hand.MeshSnapshot     `cbor:"3,keyasint,omitempty"`
	RightMesh     *hand.MeshSnapshot     `cbor:"4,keyasint,omitempty"`
}

func (s *InitSnapshotSet) AssignSkeleton(skel hand.SkeletonSnapshot) bool {
	switch skel.Side {
	case hand.SideLeft:
		s.LeftSkeleton = &skel
	case hand.SideRight:
		s.RightSkeleton = &skel
	default:
		return false
	}
	return true
}

func (s *InitSnapshotSet) AssignMesh(mesh hand.MeshSnapshot) bool {
	switch mesh.Side {
	case hand.SideLeft:
		s.LeftMesh = &mesh
	case hand.SideRight:
		s.RightMesh = &mesh
	default:
		return false
	}
	return true
}

func (s InitSnapshotSet) Skeleton(side hand.Side) *hand.SkeletonSnapshot {
	if side == hand.SideRight {
		return s.RightSkeleton
	}
	if side == hand.SideLeft {
		return s.LeftSkeleton
	}
	return nil
}

func (s InitSnapshotSet) Mesh(side hand.Side) *hand.MeshSnapshot {
	if side == hand.SideRight {
		return s.RightMesh
	}
	if side == hand.SideLeft {
		return s.LeftMesh
	}
	return nil
}

// AreAllAssigned reports whether skeleton and mesh are present for both
// hands.
func (s InitSnapshotSet) AreAllAssigned() bool {
	return s.LeftSkeleton != nil && s.RightSkeleton != nil && s.LeftMesh != nil && s.RightMesh != nil
}

// Recording is a finished capture. It is never modified after the recorder
// hands it out.
type Recording struct {
	Name        string          `cbor:"1,keyasint"`
	Frames      []RecordedFrame `cbor:"2,keyasint"`
	Init        InitSnapshotSet `cbor:"3,keyasint"`
	CreatedAtMS int64           `cbor:"4,keyasint,omitempty"`
}

func (r *Recording) FrameCount() int {
	return len(r.Frames)
}

func (r *Recording) CreatedAt() time.Time {
	return time.UnixMilli(r.CreatedAtMS)
}

// Info is the listing view of a recording.
type Info struct {
	Name      string    `json:"name"`
	Frames    int       `json:"frames"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Recording) Info() Info {
	return Info{Name: r.Name, Frames: len(r.Frames), CreatedAt: r.CreatedAt()}
}

// ValidateName checks that name is usable as a file stem.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}
	if name != strings.TrimSpace(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
