package recording

import (
	"sync"
	"time"

	"github.com/danmuck/handstream/internal/hand"
	"github.com/danmuck/handstream/internal/logging"
	"github.com/danmuck/handstream/internal/observability"
	"github.com/rs/zerolog"
)

// Persister writes finished recordings to durable storage.
type Persister interface {
	Save(rec *Recording) error
}

// Recorder folds drained hand states into per-tick frames while capturing
// and turns them into a Recording on Stop.
type Recorder struct {
	store    Persister
	registry *Registry
	log      zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	capturing bool
	name      string
	frames    []RecordedFrame
	current   RecordedFrame
	init      InitSnapshotSet
}

// NewRecorder builds an idle recorder. store may be nil to keep recordings
// in memory only.
func NewRecorder(store Persister, registry *Registry) *Recorder {
	return &Recorder{
		store:    store,
		registry: registry,
		log:      logging.Component("recording.recorder"),
		now:      time.Now,
	}
}

// Start begins capturing under name. Both hands' skeleton and mesh must
// have been observed first.
func (r *Recorder) Start(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capturing {
		return ErrAlreadyCapturing
	}
	if !r.init.AreAllAssigned() {
		return ErrInitIncomplete
	}
	r.capturing = true
	r.name = name
	r.frames = nil
	r.current = RecordedFrame{}
	r.log.Info().Str("recording", name).Msg("capture started")
	return nil
}

func (r *Recorder) Capturing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capturing
}

// ObserveHand folds state into the current frame. Ignored while idle.
func (r *Recorder) ObserveHand(state hand.HandState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.capturing {
		return
	}
	r.current.Set(state)
}

// ObserveSkeleton records the latest skeleton for its side.
func (r *Recorder) ObserveSkeleton(s hand.SkeletonSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init.AssignSkeleton(s)
}

// ObserveMesh records the latest mesh for its side.
func (r *Recorder) ObserveMesh(m hand.MeshSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init.AssignMesh(m)
}

// InitReady reports whether a capture could start now.
func (r *Recorder) InitReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.init.AreAllAssigned()
}

// EndTick closes the current frame. Frames without any hand state are
// discarded.
func (r *Recorder) EndTick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capturing && r.current.HasAnyData() {
		r.frames = append(r.frames, r.current)
	}
	r.current = RecordedFrame{}
}

// FrameCount is the number of frames captured so far.
func (r *Recorder) FrameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Stop finishes the capture. With no frames it fails with
// ErrNothingCaptured and keeps capturing. Otherwise the recording is
// persisted, registered and returned, and the recorder goes idle. A
// persistence failure is logged and does not fail Stop.
func (r *Recorder) Stop() (*Recording, error) {
	r.mu.Lock()
	if !r.capturing {
		r.mu.Unlock()
		return nil, ErrNotCapturing
	}
	if r.current.HasAnyData() {
		r.frames = append(r.frames, r.current)
		r.current = RecordedFrame{}
	}
	if len(r.frames) == 0 {
		name := r.name
		r.mu.Unlock()
		r.log.Warn().Str("recording", name).Msg("captured 0 frames, not saving")
		return nil, ErrNothingCaptured
	}
	rec := &Recording{
		Name:        r.name,
		Frames:      r.frames,
		Init:        r.init,
		CreatedAtMS: r.now().UnixMilli(),
	}
	r.capturing = false
	r.name = ""
	r.frames = nil
	r.mu.Unlock()

	if r.store != nil {
		err := r.store.Save(rec)
		observability.RecordRecordingOp("save", err)
		if err != nil {
			r.log.Error().Err(err).Str("recording", rec.Name).Msg("persist failed")
		}
	}
	if r.registry != nil {
		r.registry.Register(rec)
	}
	r.log.Info().Str("recording", rec.Name).Int("frames", len(rec.Frames)).Msg("capture completed")
	return rec, nil
}
