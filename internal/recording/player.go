package recording

import (
	"fmt"
	"sync"

	"github.com/danmuck/handstream/internal/hand"
	"github.com/danmuck/handstream/internal/logging"
	"github.com/rs/zerolog"
)

// Publisher receives what the player emits. delivery.Router satisfies it,
// so playback reaches consumers through the same drains as live data.
type Publisher interface {
	PublishHand(state hand.HandState) error
	PublishSkeleton(s hand.SkeletonSnapshot) error
	PublishMesh(m hand.MeshSnapshot) error
}

type Mode uint8

const (
	ModeStopped Mode = iota
	ModeSequential
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeStopped:
		return "stopped"
	case ModeSequential:
		return "sequential"
	case ModeManual:
		return "manual"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// PlayerStatus is a point-in-time view of the player.
type PlayerStatus struct {
	Mode      string `json:"mode"`
	Recording string `json:"recording,omitempty"`
	Frame     int    `json:"frame"`
	Frames    int    `json:"frames"`
	Played    uint64 `json:"played"`
	Exhausted bool   `json:"exhausted"`
}

// Player replays one Recording at a time, one frame per Tick.
type Player struct {
	pub Publisher
	log zerolog.Logger

	mu     sync.Mutex
	rec    *Recording
	mode   Mode
	next   int
	manual int
	last   int
	played uint64
}

func NewPlayer(pub Publisher) *Player {
	return &Player{
		pub:  pub,
		log:  logging.Component("recording.player"),
		last: -1,
	}
}

// Play loads rec, publishes its topology once and starts sequential
// playback from the first frame.
func (p *Player) Play(rec *Recording) error {
	if rec == nil || len(rec.Frames) == 0 {
		return ErrEmptyRecording
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rec = rec
	p.mode = ModeSequential
	p.next = 0
	p.manual = 0
	p.last = -1
	p.played = 0
	p.publishInitLocked()
	p.log.Info().Str("recording", rec.Name).Int("frames", len(rec.Frames)).Msg("playback started")
	return nil
}

// Replay restarts the loaded recording from its first frame.
func (p *Player) Replay() error {
	p.mu.Lock()
	rec := p.rec
	p.mu.Unlock()
	if rec == nil {
		return ErrNotPlaying
	}
	return p.Play(rec)
}

// Stop drops the loaded recording and all cursor state.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec != nil {
		p.log.Info().Str("recording", p.rec.Name).Uint64("played", p.played).Msg("playback stopped")
	}
	p.rec = nil
	p.mode = ModeStopped
	p.next = 0
	p.manual = 0
	p.last = -1
	p.played = 0
}

// Seek pins playback to frame i, clamped into the recording. Calling it
// again moves the pin. It returns the frame actually selected.
func (p *Player) Seek(i int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec == nil {
		return 0, ErrNotPlaying
	}
	n := len(p.rec.Frames)
	switch {
	case i < 0:
		i = 0
	case i >= n:
		i = n - 1
	}
	p.manual = i
	p.mode = ModeManual
	return i, nil
}

// ClearSeek resumes sequential playback where it left off.
func (p *Player) ClearSeek() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rec == nil {
		return ErrNotPlaying
	}
	p.mode = ModeSequential
	return nil
}

// Active reports whether playback is producing frames: pinned, or
// sequential with frames left.
func (p *Player) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.mode {
	case ModeManual:
		return true
	case ModeSequential:
		return p.next < len(p.rec.Frames)
	default:
		return false
	}
}

// Tick selects the frame for this tick, publishes its hand states and
// returns it. It returns false when stopped or when sequential playback
// has run out of frames.
func (p *Player) Tick() (RecordedFrame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var idx int
	switch p.mode {
	case ModeManual:
		idx = p.manual
	case ModeSequential:
		if p.next >= len(p.rec.Frames) {
			return RecordedFrame{}, false
		}
		idx = p.next
		p.next++
	default:
		return RecordedFrame{}, false
	}

	frame := p.rec.Frames[idx]
	p.last = idx
	p.played++
	for _, phase := range hand.Phases {
		for _, state := range frame.States(phase) {
			if err := p.pub.PublishHand(state); err != nil {
				p.log.Warn().Err(err).Int("frame", idx).Stringer("key", state.Key()).Msg("publish failed")
			}
		}
	}
	return frame, true
}

func (p *Player) Status() PlayerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := PlayerStatus{
		Mode:   p.mode.String(),
		Frame:  p.last,
		Played: p.played,
	}
	if p.rec != nil {
		st.Recording = p.rec.Name
		st.Frames = len(p.rec.Frames)
		st.Exhausted = p.mode == ModeSequential && p.next >= len(p.rec.Frames)
	}
	return st
}

func (p *Player) publishInitLocked() {
	set := p.rec.Init
	for _, side := range hand.Sides {
		if s := set.Skeleton(side); s != nil {
			if err := p.pub.PublishSkeleton(*s); err != nil {
				p.log.Warn().Err(err).Stringer("side", side).Msg("publish skeleton failed")
			}
		}
	}
	for _, side := range hand.Sides {
		if m := set.Mesh(side); m != nil {
			if err := p.pub.PublishMesh(*m); err != nil {
				p.log.Warn().Err(err).Stringer("side", side).Msg("publish mesh failed")
			}
		}
	}
}
