package receiver

import (
	"fmt"

	"github.com/danmuck/handstream/internal/hand"
	"github.com/danmuck/handstream/internal/observability"
	"github.com/danmuck/handstream/internal/recording"
)

// DrainHandState takes the latest state for (side, phase). A drained state
// is folded into an active capture and the recent history.
func (s *Service) DrainHandState(side hand.Side, phase hand.Phase) (hand.HandState, bool) {
	state, ok := s.router.DrainHandState(side, phase)
	if !ok {
		return hand.HandState{}, false
	}
	s.recorder.ObserveHand(state)
	s.history.Record(state)
	return state, true
}

// DrainSkeleton pops the oldest skeleton for side and keeps it as that
// side's init snapshot for future captures.
func (s *Service) DrainSkeleton(side hand.Side) (hand.SkeletonSnapshot, bool) {
	skel, ok := s.router.DrainSkeleton(side)
	if !ok {
		return hand.SkeletonSnapshot{}, false
	}
	s.recorder.ObserveSkeleton(skel)
	return skel, true
}

// DrainMesh pops the oldest mesh for side and keeps it as that side's init
// snapshot for future captures.
func (s *Service) DrainMesh(side hand.Side) (hand.MeshSnapshot, bool) {
	mesh, ok := s.router.DrainMesh(side)
	if !ok {
		return hand.MeshSnapshot{}, false
	}
	s.recorder.ObserveMesh(mesh)
	return mesh, true
}

// Ready reports whether side's skeleton and mesh have both been applied.
// Hand states for a side are held back until then.
func (s *Service) Ready(side hand.Side) bool {
	if !side.Valid() {
		return false
	}
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	return s.skelDone[side.Index()] && s.meshDone[side.Index()]
}

// TickPhysics advances playback one frame, then drains and applies both
// hands' physics states.
func (s *Service) TickPhysics() {
	s.player.Tick()
	s.applyHands(hand.PhasePhysics)
}

// TickRender applies queued topology, then both hands' render states, and
// closes the capture frame for this tick.
func (s *Service) TickRender() {
	for _, side := range hand.Sides {
		for {
			skel, ok := s.DrainSkeleton(side)
			if !ok {
				break
			}
			if s.consumer != nil {
				s.consumer.ApplySkeleton(skel)
			}
			s.markTopology(side, true)
		}
		for {
			mesh, ok := s.DrainMesh(side)
			if !ok {
				break
			}
			if s.consumer != nil {
				s.consumer.ApplyMesh(mesh)
			}
			s.markTopology(side, false)
		}
	}
	s.applyHands(hand.PhaseRender)
	s.recorder.EndTick()
}

func (s *Service) applyHands(phase hand.Phase) {
	for _, side := range hand.Sides {
		state, ok := s.DrainHandState(side, phase)
		if !ok || !s.Ready(side) {
			continue
		}
		if s.consumer != nil {
			s.consumer.ApplyHand(state)
		}
	}
}

func (s *Service) markTopology(side hand.Side, skeleton bool) {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	i := side.Index()
	was := s.skelDone[i] && s.meshDone[i]
	if skeleton {
		s.skelDone[i] = true
	} else {
		s.meshDone[i] = true
	}
	if !was && s.skelDone[i] && s.meshDone[i] {
		s.log.Info().Stringer("side", side).Msg("hand ready")
	}
}

// StartRecording begins a capture under name.
func (s *Service) StartRecording(name string) error {
	err := s.recorder.Start(name)
	observability.RecordRecordingOp("start", err)
	return err
}

// StopRecording finishes the capture and returns the new recording's info.
func (s *Service) StopRecording() (recording.Info, error) {
	rec, err := s.recorder.Stop()
	observability.RecordRecordingOp("stop", err)
	if err != nil {
		return recording.Info{}, err
	}
	return rec.Info(), nil
}

// DeleteRecording forgets name and removes its file. Playback of it is
// stopped first.
func (s *Service) DeleteRecording(name string) error {
	if err := recording.ValidateName(name); err != nil {
		return err
	}
	if s.player.Status().Recording == name {
		s.StopPlayback()
	}
	found := s.registry.Remove(name)
	var err error
	if s.store != nil {
		err = s.store.Delete(name)
	}
	if err == nil && !found {
		err = fmt.Errorf("%w: %s", recording.ErrNotFound, name)
	}
	observability.RecordRecordingOp("delete", err)
	return err
}

// PlayRecording starts playback of name from its first frame. Pending live
// data is dropped so the recording owns the consumer from here on.
func (s *Service) PlayRecording(name string) error {
	rec, ok := s.registry.Resolve(name)
	if !ok {
		err := fmt.Errorf("%w: %s", recording.ErrNotFound, name)
		observability.RecordRecordingOp("play", err)
		return err
	}
	err := s.takeOver(func() error { return s.player.Play(rec) })
	observability.RecordRecordingOp("play", err)
	return err
}

// ReplayRecording restarts the loaded recording from frame 0.
func (s *Service) ReplayRecording() error {
	return s.takeOver(s.player.Replay)
}

// takeOver clears pending live data and starts playback with live
// publishes held off, so none land between the two.
func (s *Service) takeOver(start func() error) error {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	s.router.Clear()
	return start()
}

// SeekTo pins playback to frame, clamped into the recording, and returns
// the selected frame.
func (s *Service) SeekTo(frame int) (int, error) {
	return s.player.Seek(frame)
}

func (s *Service) ClearSeek() error {
	return s.player.ClearSeek()
}

// StopPlayback ends playback. Live data flows again on the next arrival.
func (s *Service) StopPlayback() {
	s.player.Stop()
}

func (s *Service) ListRecordings() []recording.Info {
	return s.registry.List()
}

// ReprocessHistory applies the recent history to the consumer again,
// oldest first, and returns how many states were applied.
func (s *Service) ReprocessHistory() int {
	states := s.history.Snapshot()
	if s.consumer == nil {
		return 0
	}
	n := 0
	for _, state := range states {
		if !s.Ready(state.Side) {
			continue
		}
		s.consumer.ApplyHand(state)
		n++
	}
	s.log.Debug().Int("applied", n).Msg("history reprocessed")
	return n
}
