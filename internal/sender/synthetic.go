package sender

import (
	"math"
	"sync"
	"time"

	"github.com/danmuck/handstream/internal/hand"
	"github.com/danmuck/handstream/internal/protocol/envelope"
)

// Bone layout of the synthetic hand: wrist, forearm stub, then the finger
// chains, then one tip per finger.
const (
	boneWrist          = 0
	boneForearm        = 1
	syntheticBoneCount = 24
	fingerCount        = 5
)

var syntheticParents = [syntheticBoneCount]int16{
	// wrist, forearm
	hand.NoParent, 0,
	// thumb 0-3
	0, 2, 3, 4,
	// index, middle, ring 1-3
	0, 6, 7,
	0, 9, 10,
	0, 12, 13,
	// pinky 0-3
	0, 15, 16, 17,
	// tips
	5, 8, 11, 14, 18,
}

// fingerOf maps a bone to its finger, or -1 for wrist and forearm.
var fingerOf = [syntheticBoneCount]int{
	-1, -1,
	0, 0, 0, 0,
	1, 1, 1,
	2, 2, 2,
	3, 3, 3,
	4, 4, 4, 4,
	0, 1, 2, 3, 4,
}

type SyntheticConfig struct {
	// NotReadyPolls is how many Skeleton or Mesh calls per hand fail with
	// ErrNotReady before topology becomes available.
	NotReadyPolls int
	// CurlPeriod is the time for one full open-close finger cycle.
	CurlPeriod time.Duration
	Now        func() time.Time
}

func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		CurlPeriod: 2 * time.Second,
		Now:        time.Now,
	}
}

// Synthetic is a deterministic Source: both hands open and close their
// fingers on a fixed period.
type Synthetic struct {
	cfg   SyntheticConfig
	start time.Time

	mu    sync.Mutex
	polls map[snapshotKey]int
}

type snapshotKey struct {
	kind envelope.Kind
	side hand.Side
}

func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CurlPeriod <= 0 {
		cfg.CurlPeriod = 2 * time.Second
	}
	return &Synthetic{
		cfg:   cfg,
		start: cfg.Now(),
		polls: make(map[snapshotKey]int),
	}
}

func (s *Synthetic) ready(kind envelope.Kind, side hand.Side) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := snapshotKey{kind: kind, side: side}
	s.polls[key]++
	return s.polls[key] > s.cfg.NotReadyPolls
}

func (s *Synthetic) PollHand(side hand.Side, phase hand.Phase) (hand.HandState, error) {
	if !side.Valid() || !phase.Valid() {
		return hand.HandState{}, ErrNotReady
	}
	elapsed := s.cfg.Now().Sub(s.start)
	seconds := elapsed.Seconds()
	cycle := 2 * math.Pi * seconds / s.cfg.CurlPeriod.Seconds()

	rotations := make([]hand.Quaternion, syntheticBoneCount)
	for i := range rotations {
		f := fingerOf[i]
		if f < 0 {
			rotations[i] = hand.IdentityRotation
			continue
		}
		// Each finger lags the previous one so the hand ripples.
		curl := 0.6 * (1 - math.Cos(cycle-float64(f)*0.35))
		rotations[i] = axisX(curl)
	}

	status := hand.StatusTracked | hand.StatusInputValid
	if side == hand.SideRight {
		status |= hand.StatusDominantHand
	}
	confidences := make([]hand.Confidence, fingerCount)
	for i := range confidences {
		confidences[i] = hand.ConfidenceHigh
	}
	root := hand.Pose{
		Position:    hand.Vector3{X: sideSign(side) * 0.2, Y: 1.2, Z: 0.35},
		Orientation: hand.IdentityRotation,
	}
	return hand.HandState{
		Side:               side,
		Phase:              phase,
		Status:             status,
		RootPose:           root,
		BoneRotations:      rotations,
		PointerPose:        hand.Pose{Position: root.Position, Orientation: axisX(-0.3)},
		HandScale:          1,
		Confidence:         hand.ConfidenceHigh,
		FingerConfidences:  confidences,
		RequestedTimestamp: seconds,
		SampleTimestamp:    seconds,
	}, nil
}

func (s *Synthetic) Skeleton(side hand.Side) (hand.SkeletonSnapshot, error) {
	if !side.Valid() || !s.ready(envelope.KindSkeleton, side) {
		return hand.SkeletonSnapshot{}, ErrNotReady
	}
	bones := make([]hand.Bone, syntheticBoneCount)
	capsules := make([]hand.Capsule, 0, syntheticBoneCount)
	for i := range bones {
		bones[i] = hand.Bone{
			ID:          int32(i),
			ParentIndex: syntheticParents[i],
			Pose:        hand.Pose{Position: boneOffset(side, i), Orientation: hand.IdentityRotation},
		}
		if fingerOf[i] >= 0 {
			capsules = append(capsules, hand.Capsule{
				BoneIndex: int16(i),
				End:       hand.Vector3{X: sideSign(side) * 0.03},
				Radius:    0.008,
			})
		}
	}
	return hand.SkeletonSnapshot{Side: side, Bones: bones, Capsules: capsules}, nil
}

// Mesh is one triangle per bone, each vertex fully weighted to its bone.
func (s *Synthetic) Mesh(side hand.Side) (hand.MeshSnapshot, error) {
	if !side.Valid() || !s.ready(envelope.KindMesh, side) {
		return hand.MeshSnapshot{}, ErrNotReady
	}
	n := syntheticBoneCount * 3
	m := hand.MeshSnapshot{
		Side:        side,
		Vertices:    make([]hand.Vector3, 0, n),
		UVs:         make([]hand.Vector2, 0, n),
		Normals:     make([]hand.Vector3, 0, n),
		Indices:     make([]int32, 0, n),
		BoneWeights: make([]hand.BoneWeight, 0, n),
	}
	for b := 0; b < syntheticBoneCount; b++ {
		origin := boneOffset(side, b)
		corners := [3]hand.Vector3{
			origin,
			{X: origin.X + 0.01, Y: origin.Y, Z: origin.Z},
			{X: origin.X, Y: origin.Y + 0.01, Z: origin.Z},
		}
		for c, v := range corners {
			m.Indices = append(m.Indices, int32(len(m.Vertices)))
			m.Vertices = append(m.Vertices, v)
			m.UVs = append(m.UVs, hand.Vector2{X: float32(b) / syntheticBoneCount, Y: float32(c) / 2})
			m.Normals = append(m.Normals, hand.Vector3{Z: 1})
			m.BoneWeights = append(m.BoneWeights, hand.BoneWeight{
				Indices: [hand.MaxBoneInfluences]int16{int16(b)},
				Weights: [hand.MaxBoneInfluences]float32{1},
			})
		}
	}
	return m, nil
}

func boneOffset(side hand.Side, bone int) hand.Vector3 {
	switch {
	case bone == boneWrist:
		return hand.Vector3{}
	case bone == boneForearm:
		return hand.Vector3{X: -sideSign(side) * 0.05}
	}
	f := fingerOf[bone]
	return hand.Vector3{X: sideSign(side) * 0.03, Z: float32(f-2) * 0.02}
}

func sideSign(side hand.Side) float32 {
	if side == hand.SideLeft {
		return -1
	}
	return 1
}

// axisX is a rotation of angle radians about the X axis.
func axisX(angle float64) hand.Quaternion {
	half := angle / 2
	return hand.Quaternion{X: float32(math.Sin(half)), W: float32(math.Cos(half))}
}
