package envelope

import (
	"errors"
	"fmt"

	"github.com/danmuck/handstream/internal/hand"
)

var ErrInvalidEnvelope = errors.New("envelope: invalid envelope")

// Kind tags which payload an Envelope carries.
type Kind uint8

const (
	KindHandState Kind = 1
	KindSkeleton  Kind = 2
	KindMesh      Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindHandState:
		return "hand_state"
	case KindSkeleton:
		return "skeleton"
	case KindMesh:
		return "mesh"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Reliable reports whether payloads of this kind must travel on the stream
// channel. Hand states are small and superseded every tick; snapshots are
// large and must arrive.
func (k Kind) Reliable() bool {
	return k == KindSkeleton || k == KindMesh
}

// Envelope carries exactly one payload. Kind must match the populated field.
type Envelope struct {
	Kind     Kind                   `cbor:"1,keyasint"`
	Hand     *hand.HandState        `cbor:"2,keyasint,omitempty"`
	Skeleton *hand.SkeletonSnapshot `cbor:"3,keyasint,omitempty"`
	Mesh     *hand.MeshSnapshot     `cbor:"4,keyasint,omitempty"`
}

func ForHandState(h hand.HandState) Envelope {
	return Envelope{Kind: KindHandState, Hand: &h}
}

func ForSkeleton(s hand.SkeletonSnapshot) Envelope {
	return Envelope{Kind: KindSkeleton, Skeleton: &s}
}

func ForMesh(m hand.MeshSnapshot) Envelope {
	return Envelope{Kind: KindMesh, Mesh: &m}
}

// Side returns the hand the payload belongs to.
func (e Envelope) Side() hand.Side {
	switch {
	case e.Hand != nil:
		return e.Hand.Side
	case e.Skeleton != nil:
		return e.Skeleton.Side
	case e.Mesh != nil:
		return e.Mesh.Side
	default:
		return 0
	}
}

func (e Envelope) Validate() error {
	populated := 0
	if e.Hand != nil {
		populated++
	}
	if e.Skeleton != nil {
		populated++
	}
	if e.Mesh != nil {
		populated++
	}
	if populated != 1 {
		return fmt.Errorf("%w: %d payloads populated", ErrInvalidEnvelope, populated)
	}

	switch e.Kind {
	case KindHandState:
		if e.Hand == nil {
			return fmt.Errorf("%w: kind %s without hand state", ErrInvalidEnvelope, e.Kind)
		}
		return e.Hand.Validate()
	case KindSkeleton:
		if e.Skeleton == nil {
			return fmt.Errorf("%w: kind %s without skeleton", ErrInvalidEnvelope, e.Kind)
		}
		return e.Skeleton.Validate()
	case KindMesh:
		if e.Mesh == nil {
			return fmt.Errorf("%w: kind %s without mesh", ErrInvalidEnvelope, e.Kind)
		}
		return e.Mesh.Validate()
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidEnvelope, uint8(e.Kind))
	}
}
