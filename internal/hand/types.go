package hand

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSide  = errors.New("hand: invalid side")
	ErrInvalidPhase = errors.New("hand: invalid phase")
)

// Side identifies the left or right hand. The zero value is invalid.
type Side uint8

const (
	SideLeft  Side = 1
	SideRight Side = 2
)

// Sides lists both hands in delivery order.
var Sides = [2]Side{SideLeft, SideRight}

func (s Side) Valid() bool {
	return s == SideLeft || s == SideRight
}

// Index maps Left to 0 and Right to 1. Callers must check Valid first.
func (s Side) Index() int {
	return int(s) - 1
}

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Phase is the simulation pass a hand state was sampled for. Render and
// physics run on independent clocks.
type Phase uint8

const (
	PhaseRender  Phase = 1
	PhasePhysics Phase = 2
)

var Phases = [2]Phase{PhaseRender, PhasePhysics}

func (p Phase) Valid() bool {
	return p == PhaseRender || p == PhasePhysics
}

func (p Phase) Index() int {
	return int(p) - 1
}

func (p Phase) String() string {
	switch p {
	case PhaseRender:
		return "render"
	case PhasePhysics:
		return "physics"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Status is the tracker's hand status bitmask.
type Status uint32

const (
	StatusTracked             Status = 0x0001
	StatusInputValid          Status = 0x0002
	StatusSystemGestureActive Status = 0x0040
	StatusDominantHand        Status = 0x0080
	StatusMenuPressed         Status = 0x0100
)

func (s Status) Tracked() bool             { return s&StatusTracked != 0 }
func (s Status) PointerValid() bool        { return s&StatusInputValid != 0 }
func (s Status) SystemGestureActive() bool { return s&StatusSystemGestureActive != 0 }

// Confidence is the tracker's confidence level for a hand or finger.
type Confidence uint8

const (
	ConfidenceNone Confidence = 0
	ConfidenceLow  Confidence = 1
	ConfidenceHigh Confidence = 2
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceNone:
		return "none"
	case ConfidenceLow:
		return "low"
	case ConfidenceHigh:
		return "high"
	default:
		return fmt.Sprintf("confidence(%d)", uint8(c))
	}
}

type Vector2 struct {
	X float32 `cbor:"1,keyasint"`
	Y float32 `cbor:"2,keyasint"`
}

type Vector3 struct {
	X float32 `cbor:"1,keyasint"`
	Y float32 `cbor:"2,keyasint"`
	Z float32 `cbor:"3,keyasint"`
}

type Quaternion struct {
	X float32 `cbor:"1,keyasint"`
	Y float32 `cbor:"2,keyasint"`
	Z float32 `cbor:"3,keyasint"`
	W float32 `cbor:"4,keyasint"`
}

// IdentityRotation is the no-rotation quaternion.
var IdentityRotation = Quaternion{W: 1}

type Pose struct {
	Position    Vector3    `cbor:"1,keyasint"`
	Orientation Quaternion `cbor:"2,keyasint"`
}

// Key addresses one coalescing slot: one hand in one simulation pass.
type Key struct {
	Side  Side
	Phase Phase
}

func (k Key) Valid() bool {
	return k.Side.Valid() && k.Phase.Valid()
}

func (k Key) String() string {
	return k.Side.String() + "/" + k.Phase.String()
}

// Keys lists all four hand-state slots in recording order.
var Keys = [4]Key{
	{Side: SideLeft, Phase: PhaseRender},
	{Side: SideRight, Phase: PhaseRender},
	{Side: SideLeft, Phase: PhasePhysics},
	{Side: SideRight, Phase: PhasePhysics},
}

// HandState is one sampled pose of one hand. A newer state replaces an
// older one for the same key wholesale.
type HandState struct {
	Side               Side         `cbor:"1,keyasint"`
	Phase              Phase        `cbor:"2,keyasint"`
	Status             Status       `cbor:"3,keyasint"`
	RootPose           Pose         `cbor:"4,keyasint"`
	BoneRotations      []Quaternion `cbor:"5,keyasint,omitempty"`
	PointerPose        Pose         `cbor:"6,keyasint"`
	HandScale          float32      `cbor:"7,keyasint"`
	Confidence         Confidence   `cbor:"8,keyasint"`
	FingerConfidences  []Confidence `cbor:"9,keyasint,omitempty"`
	RequestedTimestamp float64      `cbor:"10,keyasint"`
	SampleTimestamp    float64      `cbor:"11,keyasint"`
}

func (h HandState) Key() Key {
	return Key{Side: h.Side, Phase: h.Phase}
}

func (h HandState) Validate() error {
	if !h.Side.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSide, h.Side)
	}
	if !h.Phase.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPhase, h.Phase)
	}
	return nil
}

// Clone returns a deep copy so slices are not shared with the caller.
func (h HandState) Clone() HandState {
	out := h
	if h.BoneRotations != nil {
		out.BoneRotations = append([]Quaternion(nil), h.BoneRotations...)
	}
	if h.FingerConfidences != nil {
		out.FingerConfidences = append([]Confidence(nil), h.FingerConfidences...)
	}
	return out
}
