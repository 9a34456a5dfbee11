package delivery

import "github.com/danmuck/handstream/internal/hand"

// History keeps the most recent hand states applied to the consumer so they
// can be applied again on demand.
type History struct {
	ring *Ring[hand.HandState]
}

func NewHistory(capacity int) *History {
	return &History{ring: NewRing[hand.HandState](capacity)}
}

func (h *History) Record(state hand.HandState) {
	h.ring.Push(state.Clone())
}

// Snapshot returns the retained states oldest first.
func (h *History) Snapshot() []hand.HandState {
	return h.ring.Snapshot()
}

func (h *History) Len() int {
	return h.ring.Len()
}

func (h *History) Clear() {
	h.ring.Clear()
}
