package receiver

import (
	"sync/atomic"

	"github.com/danmuck/handstream/internal/hand"
	"github.com/danmuck/handstream/internal/logging"
	"github.com/rs/zerolog"
)

// Consumer applies delivered data to whatever presents the hands. Calls
// arrive from the tick goroutines, never concurrently for the same phase.
type Consumer interface {
	ApplyHand(state hand.HandState)
	ApplySkeleton(s hand.SkeletonSnapshot)
	ApplyMesh(m hand.MeshSnapshot)
}

// LogConsumer counts what it is given and logs topology changes. It backs
// the headless receive command.
type LogConsumer struct {
	log       zerolog.Logger
	hands     atomic.Uint64
	skeletons atomic.Uint64
	meshes    atomic.Uint64
}

func NewLogConsumer() *LogConsumer {
	return &LogConsumer{log: logging.Component("receiver.consumer")}
}

func (c *LogConsumer) ApplyHand(state hand.HandState) {
	n := c.hands.Add(1)
	if n%500 == 1 {
		c.log.Debug().
			Stringer("key", state.Key()).
			Bool("tracked", state.Status.Tracked()).
			Stringer("confidence", state.Confidence).
			Uint64("applied", n).
			Msg("hand state")
	}
}

func (c *LogConsumer) ApplySkeleton(s hand.SkeletonSnapshot) {
	c.skeletons.Add(1)
	c.log.Info().Stringer("side", s.Side).Int("bones", len(s.Bones)).Int("capsules", len(s.Capsules)).Msg("skeleton applied")
}

func (c *LogConsumer) ApplyMesh(m hand.MeshSnapshot) {
	c.meshes.Add(1)
	c.log.Info().Stringer("side", m.Side).Int("vertices", len(m.Vertices)).Int("triangles", m.TriangleCount()).Msg("mesh applied")
}

// Counts returns how many hand states, skeletons and meshes were applied.
func (c *LogConsumer) Counts() (hands, skeletons, meshes uint64) {
	return c.hands.Load(), c.skeletons.Load(), c.meshes.Load()
}
