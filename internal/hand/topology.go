package hand

import (
	"errors"
	"fmt"
)

// NoParent marks a root bone.
const NoParent int16 = -1

// MaxBoneInfluences is the number of skinning weights carried per vertex.
const MaxBoneInfluences = 4

var (
	ErrInvalidBoneParent   = errors.New("hand: bone parent index out of range")
	ErrInvalidCapsuleBone  = errors.New("hand: capsule bone index out of range")
	ErrMeshAttributeLength = errors.New("hand: mesh attribute length mismatch")
	ErrMeshIndexCount      = errors.New("hand: mesh index count is not a multiple of 3")
	ErrMeshIndexRange      = errors.New("hand: mesh index out of range")
	ErrMeshWeightBone      = errors.New("hand: mesh skin weight references unknown bone")
)

// Bone is one joint of the skeleton hierarchy in bind pose.
type Bone struct {
	ID          int32 `cbor:"1,keyasint"`
	ParentIndex int16 `cbor:"2,keyasint"`
	Pose        Pose  `cbor:"3,keyasint"`
}

func (b Bone) IsRoot() bool {
	return b.ParentIndex == NoParent
}

// Capsule is a collision volume attached to one bone.
type Capsule struct {
	BoneIndex int16   `cbor:"1,keyasint"`
	Start     Vector3 `cbor:"2,keyasint"`
	End       Vector3 `cbor:"3,keyasint"`
	Radius    float32 `cbor:"4,keyasint"`
}

// SkeletonSnapshot is the bone topology of one hand. It does not change
// for the lifetime of a tracking session.
type SkeletonSnapshot struct {
	Side     Side      `cbor:"1,keyasint"`
	Bones    []Bone    `cbor:"2,keyasint"`
	Capsules []Capsule `cbor:"3,keyasint,omitempty"`
}

func (s SkeletonSnapshot) Validate() error {
	if !s.Side.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSide, s.Side)
	}
	n := len(s.Bones)
	for i, b := range s.Bones {
		if b.ParentIndex == NoParent {
			continue
		}
		if b.ParentIndex < 0 || int(b.ParentIndex) >= n || int(b.ParentIndex) == i {
			return fmt.Errorf("%w: bone=%d parent=%d bones=%d", ErrInvalidBoneParent, i, b.ParentIndex, n)
		}
	}
	for i, c := range s.Capsules {
		if c.BoneIndex < 0 || int(c.BoneIndex) >= n {
			return fmt.Errorf("%w: capsule=%d bone=%d bones=%d", ErrInvalidCapsuleBone, i, c.BoneIndex, n)
		}
	}
	return nil
}

// BoneWeight binds one vertex to up to four bones. Unused slots carry a
// zero weight.
type BoneWeight struct {
	Indices [MaxBoneInfluences]int16   `cbor:"1,keyasint"`
	Weights [MaxBoneInfluences]float32 `cbor:"2,keyasint"`
}

// MeshSnapshot is the skinned surface of one hand.
type MeshSnapshot struct {
	Side        Side         `cbor:"1,keyasint"`
	Vertices    []Vector3    `cbor:"2,keyasint"`
	UVs         []Vector2    `cbor:"3,keyasint,omitempty"`
	Normals     []Vector3    `cbor:"4,keyasint,omitempty"`
	Indices     []int32      `cbor:"5,keyasint"`
	BoneWeights []BoneWeight `cbor:"6,keyasint,omitempty"`
}

// TriangleCount is the number of complete triangles in Indices.
func (m MeshSnapshot) TriangleCount() int {
	return len(m.Indices) / 3
}

func (m MeshSnapshot) Validate() error {
	if !m.Side.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSide, m.Side)
	}
	n := len(m.Vertices)
	if len(m.UVs) != 0 && len(m.UVs) != n {
		return fmt.Errorf("%w: uvs=%d vertices=%d", ErrMeshAttributeLength, len(m.UVs), n)
	}
	if len(m.Normals) != 0 && len(m.Normals) != n {
		return fmt.Errorf("%w: normals=%d vertices=%d", ErrMeshAttributeLength, len(m.Normals), n)
	}
	if len(m.BoneWeights) != 0 && len(m.BoneWeights) != n {
		return fmt.Errorf("%w: weights=%d vertices=%d", ErrMeshAttributeLength, len(m.BoneWeights), n)
	}
	if len(m.Indices)%3 != 0 {
		return fmt.Errorf("%w: %d", ErrMeshIndexCount, len(m.Indices))
	}
	for i, idx := range m.Indices {
		if idx < 0 || int(idx) >= n {
			return fmt.Errorf("%w: index[%d]=%d vertices=%d", ErrMeshIndexRange, i, idx, n)
		}
	}
	for i, w := range m.BoneWeights {
		for slot, bone := range w.Indices {
			if w.Weights[slot] != 0 && bone < 0 {
				return fmt.Errorf("%w: vertex=%d slot=%d bone=%d", ErrMeshWeightBone, i, slot, bone)
			}
		}
	}
	return nil
}
