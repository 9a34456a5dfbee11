package recording

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/danmuck/handstream/internal/hand"
	"github.com/danmuck/handstream/internal/protocol/compress"
	"github.com/danmuck/handstream/internal/protocol/envelope"
	"github.com/danmuck/handstream/internal/testutil/testlog"
)

func handState(side hand.Side, phase hand.Phase, ts float64) hand.HandState {
	return hand.HandState{
		Side:            side,
		Phase:           phase,
		Status:          hand.StatusTracked,
		RootPose:        hand.Pose{Orientation: hand.IdentityRotation},
		BoneRotations:   []hand.Quaternion{hand.IdentityRotation},
		HandScale:       1,
		Confidence:      hand.ConfidenceHigh,
		SampleTimestamp: ts,
	}
}

func skeleton(side hand.Side) hand.SkeletonSnapshot {
	return hand.SkeletonSnapshot{
		Side:  side,
		Bones: []hand.Bone{{ID: 0, ParentIndex: hand.NoParent, Pose: hand.Pose{Orientation: hand.IdentityRotation}}},
	}
}

func mesh(side hand.Side) hand.MeshSnapshot {
	return hand.MeshSnapshot{
		Side:     side,
		Vertices: []hand.Vector3{{}, {X: 1}, {Y: 1}},
		Indices:  []int32{0, 1, 2},
	}
}

func primeInit(r *Recorder) {
	for _, side := range hand.Sides {
		r.ObserveSkeleton(skeleton(side))
		r.ObserveMesh(mesh(side))
	}
}

type memStore struct {
	saved []*Recording
	err   error
}

func (m *memStore) Save(rec *Recording) error {
	m.saved = append(m.saved, rec)
	return m.err
}

type capture struct {
	hands     []hand.HandState
	skeletons []hand.SkeletonSnapshot
	meshes    []hand.MeshSnapshot
}

func (c *capture) PublishHand(s hand.HandState) error {
	c.hands = append(c.hands, s)
	return nil
}

func (c *capture) PublishSkeleton(s hand.SkeletonSnapshot) error {
	c.skeletons = append(c.skeletons, s)
	return nil
}

func (c *capture) PublishMesh(m hand.MeshSnapshot) error {
	c.meshes = append(c.meshes, m)
	return nil
}

func testStore(t *testing.T, a compress.Algorithm) *Store {
	t.Helper()
	codec, err := envelope.NewCodec(compress.None)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	s, err := NewStore(filepath.Join(t.TempDir(), "recordings"), codec, a)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func sampleRecording(name string, frames int) *Recording {
	rec := &Recording{Name: name, CreatedAtMS: 1700000000000}
	for _, side := range hand.Sides {
		rec.Init.AssignSkeleton(skeleton(side))
		rec.Init.AssignMesh(mesh(side))
	}
	for i := 0; i < frames; i++ {
		var f RecordedFrame
		f.Set(handState(hand.SideLeft, hand.PhasePhysics, float64(i)))
		if i%2 == 0 {
			f.Set(handState(hand.SideRight, hand.PhaseRender, float64(i)))
		}
		rec.Frames = append(rec.Frames, f)
	}
	return rec
}

func TestRecorderStartRequiresAllInitSnapshots(t *testing.T) {
	testlog.Start(t)
	orders := [][]func(*Recorder){
		{
			func(r *Recorder) { r.ObserveSkeleton(skeleton(hand.SideLeft)) },
			func(r *Recorder) { r.ObserveMesh(mesh(hand.SideRight)) },
			func(r *Recorder) { r.ObserveSkeleton(skeleton(hand.SideRight)) },
			func(r *Recorder) { r.ObserveMesh(mesh(hand.SideLeft)) },
		},
		{
			func(r *Recorder) { r.ObserveMesh(mesh(hand.SideLeft)) },
			func(r *Recorder) { r.ObserveMesh(mesh(hand.SideRight)) },
			func(r *Recorder) { r.ObserveSkeleton(skeleton(hand.SideLeft)) },
			func(r *Recorder) { r.ObserveSkeleton(skeleton(hand.SideRight)) },
		},
	}
	for i, steps := range orders {
		r := NewRecorder(nil, nil)
		for j, step := range steps {
			if err := r.Start("take"); !errors.Is(err, ErrInitIncomplete) || !errors.Is(err, ErrConfiguration) {
				t.Fatalf("order %d step %d: expected ErrInitIncomplete, got %v", i, j, err)
			}
			if r.Capturing() {
				t.Fatalf("order %d step %d: rejected start must not capture", i, j)
			}
			step(r)
		}
		if err := r.Start("take"); err != nil {
			t.Fatalf("order %d: expected start to succeed, got %v", i, err)
		}
	}
}

func TestRecorderStartValidation(t *testing.T) {
	testlog.Start(t)
	r := NewRecorder(nil, nil)
	primeInit(r)
	if err := r.Start(""); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	if err := r.Start("../escape"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if err := r.Start("take"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start("again"); !errors.Is(err, ErrAlreadyCapturing) {
		t.Fatalf("expected ErrAlreadyCapturing, got %v", err)
	}
	if _, err := NewRecorder(nil, nil).Stop(); !errors.Is(err, ErrNotCapturing) {
		t.Fatalf("expected ErrNotCapturing, got %v", err)
	}
}

func TestRecorderSkipsEmptyTicks(t *testing.T) {
	testlog.Start(t)
	registry := NewRegistry()
	store := &memStore{}
	r := NewRecorder(store, registry)
	primeInit(r)

	r.ObserveHand(handState(hand.SideLeft, hand.PhaseRender, -1))
	r.EndTick()
	if r.FrameCount() != 0 {
		t.Fatalf("idle recorder must not capture")
	}

	if err := r.Start("take"); err != nil {
		t.Fatalf("start: %v", err)
	}
	ticks := []bool{true, false, false, true, true, false}
	want := 0
	for i, hasData := range ticks {
		if hasData {
			r.ObserveHand(handState(hand.SideRight, hand.PhasePhysics, float64(i)))
			r.ObserveHand(handState(hand.SideRight, hand.PhasePhysics, float64(i)+0.5))
			want++
		}
		r.EndTick()
	}
	if r.FrameCount() != want {
		t.Fatalf("expected %d frames, got %d", want, r.FrameCount())
	}

	rec, err := r.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if rec.FrameCount() != want {
		t.Fatalf("expected %d recorded frames, got %d", want, rec.FrameCount())
	}
	last, ok := rec.Frames[0].Get(hand.Key{Side: hand.SideRight, Phase: hand.PhasePhysics})
	if !ok || last.SampleTimestamp != 0.5 {
		t.Fatalf("expected latest state per key, got %+v ok=%v", last, ok)
	}
	if len(store.saved) != 1 || registry.Len() != 1 {
		t.Fatalf("expected persisted and registered recording, saved=%d registered=%d", len(store.saved), registry.Len())
	}
	if r.Capturing() {
		t.Fatalf("expected idle after stop")
	}
}

func TestRecorderStopFlushesCurrentFrame(t *testing.T) {
	testlog.Start(t)
	r := NewRecorder(nil, NewRegistry())
	primeInit(r)
	if err := r.Start("take"); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.ObserveHand(handState(hand.SideLeft, hand.PhaseRender, 1))
	rec, err := r.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if rec.FrameCount() != 1 {
		t.Fatalf("expected in-progress frame flushed, got %d frames", rec.FrameCount())
	}
}

func TestRecorderStopWithNothingCapturedKeepsCapturing(t *testing.T) {
	testlog.Start(t)
	store := &memStore{}
	r := NewRecorder(store, NewRegistry())
	primeInit(r)
	if err := r.Start("take"); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.EndTick()
	if _, err := r.Stop(); !errors.Is(err, ErrNothingCaptured) {
		t.Fatalf("expected ErrNothingCaptured, got %v", err)
	}
	if !r.Capturing() || len(store.saved) != 0 {
		t.Fatalf("expected state unchanged after rejected stop")
	}
	r.ObserveHand(handState(hand.SideLeft, hand.PhaseRender, 1))
	r.EndTick()
	if _, err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestRecorderPersistFailureStillRegisters(t *testing.T) {
	testlog.Start(t)
	registry := NewRegistry()
	r := NewRecorder(&memStore{err: ErrPersistence}, registry)
	primeInit(r)
	_ = r.Start("take")
	r.ObserveHand(handState(hand.SideLeft, hand.PhaseRender, 1))
	if _, err := r.Stop(); err != nil {
		t.Fatalf("expected stop to succeed despite persistence failure, got %v", err)
	}
	if _, ok := registry.Resolve("take"); !ok {
		t.Fatalf("expected recording registered")
	}
}

func TestStoreRoundTripEveryAlgorithm(t *testing.T) {
	testlog.Start(t)
	for _, a := range []compress.Algorithm{compress.None, compress.Gzip, compress.Zstd, compress.LZ4} {
		s := testStore(t, a)
		rec := sampleRecording("walk-"+a.String(), 5)
		if err := s.Save(rec); err != nil {
			t.Fatalf("save %s: %v", a, err)
		}
		got, err := s.Load(rec.Name)
		if err != nil {
			t.Fatalf("load %s: %v", a, err)
		}
		if !reflect.DeepEqual(rec, got) {
			t.Fatalf("round trip mismatch for %s:\n got=%+v\nwant=%+v", a, got, rec)
		}
	}
}

func TestStoreLoadAllSkipsCorruptFiles(t *testing.T) {
	testlog.Start(t)
	s := testStore(t, compress.Zstd)
	for _, name := range []string{"b", "a"} {
		if err := s.Save(sampleRecording(name, 2)); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "junk"+FileExt), []byte("HREC\x01"), 0o644); err != nil {
		t.Fatalf("write junk: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write txt: %v", err)
	}

	data, err := os.ReadFile(s.Path("b"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(filepath.Join(s.Dir(), "tampered"+FileExt), data, 0o644); err != nil {
		t.Fatalf("write tampered: %v", err)
	}
	if _, err := s.Load("tampered"); !errors.Is(err, ErrCorrupt) || !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}

	all := s.LoadAll()
	if len(all) != 2 || all[0].Name != "a" || all[1].Name != "b" {
		t.Fatalf("expected a and b only, got %d recordings", len(all))
	}
}

func TestStoreDelete(t *testing.T) {
	testlog.Start(t)
	s := testStore(t, compress.Gzip)
	if err := s.Save(sampleRecording("gone", 1)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Load("gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("deleting a missing file should succeed, got %v", err)
	}
	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 0 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestRecordPersistLoadPlayYieldsSameFrames(t *testing.T) {
	testlog.Start(t)
	store := testStore(t, compress.Zstd)
	r := NewRecorder(store, NewRegistry())
	primeInit(r)
	if err := r.Start("take"); err != nil {
		t.Fatalf("start: %v", err)
	}
	const n = 7
	for i := 0; i < n; i++ {
		r.ObserveHand(handState(hand.SideLeft, hand.PhasePhysics, float64(i)))
		r.ObserveHand(handState(hand.SideRight, hand.PhaseRender, float64(i)))
		r.EndTick()
	}
	want, err := r.Stop()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	loaded, err := store.Load("take")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	pub := &capture{}
	p := NewPlayer(pub)
	if err := p.Play(loaded); err != nil {
		t.Fatalf("play: %v", err)
	}
	for i := 0; i < n; i++ {
		frame, ok := p.Tick()
		if !ok {
			t.Fatalf("expected frame %d", i)
		}
		if !reflect.DeepEqual(frame, want.Frames[i]) {
			t.Fatalf("frame %d mismatch", i)
		}
	}
	if _, ok := p.Tick(); ok {
		t.Fatalf("expected exhausted playback")
	}
	if p.Active() {
		t.Fatalf("exhausted playback must not be active")
	}
	if st := p.Status(); st.Mode != "sequential" || !st.Exhausted || st.Played != n {
		t.Fatalf("unexpected status %+v", st)
	}
	if len(pub.hands) != 2*n {
		t.Fatalf("expected %d published states, got %d", 2*n, len(pub.hands))
	}
}

func TestPlayerPublishesInitInOrder(t *testing.T) {
	testlog.Start(t)
	pub := &capture{}
	p := NewPlayer(pub)
	if err := p.Play(sampleRecording("x", 1)); err != nil {
		t.Fatalf("play: %v", err)
	}
	if len(pub.skeletons) != 2 || pub.skeletons[0].Side != hand.SideLeft || pub.skeletons[1].Side != hand.SideRight {
		t.Fatalf("unexpected skeleton order %+v", pub.skeletons)
	}
	if len(pub.meshes) != 2 || pub.meshes[0].Side != hand.SideLeft || pub.meshes[1].Side != hand.SideRight {
		t.Fatalf("unexpected mesh order %+v", pub.meshes)
	}
	if err := p.Play(&Recording{Name: "empty"}); !errors.Is(err, ErrEmptyRecording) {
		t.Fatalf("expected ErrEmptyRecording, got %v", err)
	}
}

func TestPlayerSeekClamps(t *testing.T) {
	testlog.Start(t)
	p := NewPlayer(&capture{})
	if _, err := p.Seek(0); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("expected ErrNotPlaying, got %v", err)
	}
	rec := sampleRecording("x", 4)
	if err := p.Play(rec); err != nil {
		t.Fatalf("play: %v", err)
	}

	cases := map[int]int{-5: 0, 0: 0, 2: 2, 3: 3, 4: 3, 100: 3}
	for in, want := range cases {
		got, err := p.Seek(in)
		if err != nil || got != want {
			t.Fatalf("Seek(%d) got=%d err=%v want=%d", in, got, err, want)
		}
		for i := 0; i < 2; i++ {
			frame, ok := p.Tick()
			if !ok || !reflect.DeepEqual(frame, rec.Frames[want]) {
				t.Fatalf("Seek(%d) tick %d: expected frame %d", in, i, want)
			}
		}
	}
	if st := p.Status(); st.Mode != "manual" || !p.Active() {
		t.Fatalf("expected manual mode, got %+v", st)
	}
}

func TestPlayerClearSeekResumesSequential(t *testing.T) {
	testlog.Start(t)
	rec := sampleRecording("x", 4)
	p := NewPlayer(&capture{})
	_ = p.Play(rec)
	p.Tick()
	_, _ = p.Seek(3)
	p.Tick()
	if err := p.ClearSeek(); err != nil {
		t.Fatalf("clear seek: %v", err)
	}
	frame, ok := p.Tick()
	if !ok || !reflect.DeepEqual(frame, rec.Frames[1]) {
		t.Fatalf("expected sequential playback to resume at frame 1")
	}

	if err := p.Replay(); err != nil {
		t.Fatalf("replay: %v", err)
	}
	frame, _ = p.Tick()
	if !reflect.DeepEqual(frame, rec.Frames[0]) {
		t.Fatalf("expected replay to restart at frame 0")
	}

	p.Stop()
	if _, ok := p.Tick(); ok {
		t.Fatalf("stopped player must not tick")
	}
	if err := p.Replay(); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("expected ErrNotPlaying, got %v", err)
	}
	if err := p.ClearSeek(); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("expected ErrNotPlaying, got %v", err)
	}
}

func TestRegistryListSorted(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	r.Register(sampleRecording("zeta", 1))
	r.Register(sampleRecording("alpha", 2))
	if !r.Register(sampleRecording("zeta", 3)) {
		t.Fatalf("expected replace to be reported")
	}
	list := r.List()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Frames != 3 {
		t.Fatalf("unexpected list %+v", list)
	}
	if !r.Remove("alpha") || r.Remove("alpha") {
		t.Fatalf("unexpected remove results")
	}
}

func TestValidateName(t *testing.T) {
	testlog.Start(t)
	for _, bad := range []string{"", "  ", ".", "..", "a/b", `a\b`, " padded"} {
		if err := ValidateName(bad); !errors.Is(err, ErrConfiguration) {
			t.Fatalf("ValidateName(%q): expected ErrConfiguration, got %v", bad, err)
		}
	}
	if err := ValidateName("pinch-test_01"); err != nil {
		t.Fatalf("expected valid name, got %v", err)
	}
}

func TestStopIsAtomicWithConcurrentTicks(t *testing.T) {
	testlog.Start(t)
	store := &memStore{}
	r := NewRecorder(store, NewRegistry())
	primeInit(r)
	if err := r.Start("race"); err != nil {
		t.Fatalf("start: %v", err)
	}

	const warmup = 50
	warm := make(chan struct{})
	halt := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for tick := 1; ; tick++ {
			select {
			case <-halt:
				return
			default:
			}
			ts := float64(tick)
			r.ObserveHand(handState(hand.SideLeft, hand.PhasePhysics, ts))
			r.ObserveHand(handState(hand.SideRight, hand.PhaseRender, ts))
			r.EndTick()
			if tick == warmup {
				close(warm)
			}
		}
	}()

	<-warm
	rec, err := r.Stop()
	close(halt)
	wg.Wait()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	if len(rec.Frames) < warmup {
		t.Fatalf("expected at least %d frames, got %d", warmup, len(rec.Frames))
	}
	for i, frame := range rec.Frames {
		want := float64(i + 1)
		left, ok := frame.Get(hand.Key{Side: hand.SideLeft, Phase: hand.PhasePhysics})
		if !ok || left.SampleTimestamp != want {
			t.Fatalf("frame %d: expected left tick %v, got %v (present=%v)", i, want, left.SampleTimestamp, ok)
		}
		right, hasRight := frame.Get(hand.Key{Side: hand.SideRight, Phase: hand.PhaseRender})
		if hasRight && right.SampleTimestamp != want {
			t.Fatalf("frame %d: right tick %v mixed into tick %v", i, right.SampleTimestamp, want)
		}
		if !hasRight && i != len(rec.Frames)-1 {
			t.Fatalf("frame %d: only the frame open at stop may be partial", i)
		}
	}
	if r.Capturing() || r.FrameCount() != 0 {
		t.Fatalf("expected idle recorder with no buffered frames, capturing=%v frames=%d", r.Capturing(), r.FrameCount())
	}
	if len(store.saved) != 1 || len(store.saved[0].Frames) != len(rec.Frames) {
		t.Fatalf("expected exactly the returned frames persisted once")
	}
}
