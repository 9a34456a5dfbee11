package sender

import (
	"errors"

	"github.com/danmuck/handstream/internal/hand"
)

// ErrNotReady marks a poll that may succeed later. Sources return it while
// tracking warms up or a hand is out of view.
var ErrNotReady = errors.New("sender: source not ready")

// Source is the tracking runtime the producer polls.
type Source interface {
	PollHand(side hand.Side, phase hand.Phase) (hand.HandState, error)
	Skeleton(side hand.Side) (hand.SkeletonSnapshot, error)
	Mesh(side hand.Side) (hand.MeshSnapshot, error)
}
