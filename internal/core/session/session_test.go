package session

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"facewatch-go/internal/core/gallery"
	"facewatch-go/internal/core/matcher"
)

type fakeFrame struct {
	bounds image.Rectangle
	imgErr error
	closes int32
}

func newFrame(w, h int) *fakeFrame {
	return &fakeFrame{bounds: image.Rect(0, 0, w, h)}
}

func (f *fakeFrame) Bounds() image.Rectangle { return f.bounds }
func (f *fakeFrame) Rotation() int           { return 0 }

func (f *fakeFrame) Image() (image.Image, error) {
	if f.imgErr != nil {
		return nil, f.imgErr
	}
	return image.NewRGBA(f.bounds), nil
}

func (f *fakeFrame) Close() error {
	atomic.AddInt32(&f.closes, 1)
	return nil
}

func (f *fakeFrame) closed() int32 {
	return atomic.LoadInt32(&f.closes)
}

type fakeDetector struct {
	mu         sync.Mutex
	detections []Detection
	err        error
	panicMsg   string
	gate       chan struct{}
}

func (d *fakeDetector) set(detections []Detection, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detections, d.err = detections, err
}

func (d *fakeDetector) Detect(ctx context.Context, _ Frame) ([]Detection, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	return d.detections, d.err
}

type fakeRecognizer struct {
	mu   sync.Mutex
	rec  matcher.Recognition
	err  error
	seen []image.Rectangle
}

func (r *fakeRecognizer) Recognize(_ context.Context, face image.Image) (matcher.Recognition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, face.Bounds())
	return r.rec, r.err
}

func matched(name string, score float64) matcher.Recognition {
	return matcher.Recognition{
		Match:       matcher.Match{Record: gallery.FaceRecord{ID: 1, Name: name}, Score: score},
		Matched:     true,
		GallerySize: 1,
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	session    *Session
	detector   *fakeDetector
	recognizer *fakeRecognizer
	clock      *fakeClock
	results    chan Result
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		detector:   &fakeDetector{},
		recognizer: &fakeRecognizer{},
		clock:      &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		results:    make(chan Result, 64),
	}
	h.session = New(cfg, h.detector, h.recognizer,
		WithID("test"),
		WithClock(h.clock.now),
		WithListener(ListenerFunc(func(r Result) { h.results <- r })),
	)
	h.session.Start(context.Background())
	t.Cleanup(h.session.Stop)
	return h
}

// next wartet auf das nächste gemeldete Ergebnis
func (h *harness) next(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a session result")
		return Result{}
	}
}

// final überspringt Detecting und liefert das Endergebnis eines Frames
func (h *harness) final(t *testing.T) Result {
	t.Helper()
	for {
		if r := h.next(t); r.Final() {
			return r
		}
	}
}

func noCooldown() Config {
	cfg := DefaultConfig()
	cfg.Cooldown = 0
	return cfg
}

func TestRecognizedFrame(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.detector.set([]Detection{{Box: image.Rect(40, 40, 100, 100)}}, nil)
	h.recognizer.rec = matched("Alice", 0.92)

	f := newFrame(200, 200)
	if !h.session.Submit(f) {
		t.Fatal("first frame rejected")
	}

	first := h.next(t)
	if first.State != Detecting || first.Seq != 1 {
		t.Fatalf("first result = %+v, want Detecting #1", first)
	}

	got := h.next(t)
	if got.State != Recognized || got.Name != "Alice" || got.Score != 0.92 {
		t.Fatalf("final result = %+v, want Recognized Alice", got)
	}
	wantRegion := image.Rect(25, 25, 115, 115)
	if got.Region == nil || got.Region.Rect() != wantRegion {
		t.Errorf("region = %v, want %v", got.Region, wantRegion)
	}
	if len(h.recognizer.seen) != 1 || h.recognizer.seen[0] != wantRegion {
		t.Errorf("recognizer saw %v, want crop %v", h.recognizer.seen, wantRegion)
	}
	if f.closed() != 1 {
		t.Errorf("frame closed %d times, want 1", f.closed())
	}

	snap := h.session.Snapshot()
	if snap.Busy || snap.State != Recognized || snap.Failures != 0 || snap.Accepted != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestNonOverlap(t *testing.T) {
	h := newHarness(t, noCooldown())
	h.detector.gate = make(chan struct{})

	first, second := newFrame(100, 100), newFrame(100, 100)
	if !h.session.Submit(first) {
		t.Fatal("first frame rejected")
	}
	if h.session.Submit(second) {
		t.Fatal("second frame accepted while the first is in flight")
	}
	if second.closed() != 1 {
		t.Errorf("dropped frame closed %d times, want 1", second.closed())
	}

	snap := h.session.Snapshot()
	if !snap.Busy || snap.State != Detecting || snap.Dropped != 1 {
		t.Errorf("snapshot while busy = %+v", snap)
	}

	close(h.detector.gate)
	h.final(t)

	if h.session.Snapshot().Busy {
		t.Error("session still busy after completion")
	}
	if first.closed() != 1 {
		t.Errorf("accepted frame closed %d times, want 1", first.closed())
	}
	if !h.session.Submit(newFrame(100, 100)) {
		t.Error("frame rejected after the previous one completed")
	}
}

func TestConcurrentSubmitAcceptsOne(t *testing.T) {
	h := newHarness(t, noCooldown())
	h.detector.gate = make(chan struct{})
	defer close(h.detector.gate)

	var accepted int32
	var wg sync.WaitGroup
	frames := make([]*fakeFrame, 50)
	for i := range frames {
		frames[i] = newFrame(100, 100)
		wg.Add(1)
		go func(f *fakeFrame) {
			defer wg.Done()
			if h.session.Submit(f) {
				atomic.AddInt32(&accepted, 1)
			}
		}(frames[i])
	}
	wg.Wait()

	if accepted != 1 {
		t.Fatalf("accepted %d frames, want 1", accepted)
	}
	closedNow := 0
	for _, f := range frames {
		closedNow += int(f.closed())
	}
	if closedNow != 49 {
		t.Errorf("%d frames closed while one is in flight, want 49", closedNow)
	}
}

func TestCooldown(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	if !h.session.Submit(newFrame(100, 100)) {
		t.Fatal("first frame rejected")
	}
	h.final(t)

	if h.session.Submit(newFrame(100, 100)) {
		t.Fatal("frame accepted without cooldown")
	}
	h.clock.advance(999 * time.Millisecond)
	if h.session.Submit(newFrame(100, 100)) {
		t.Fatal("frame accepted 1ms before the cooldown elapsed")
	}
	h.clock.advance(time.Millisecond)
	if !h.session.Submit(newFrame(100, 100)) {
		t.Fatal("frame rejected after the cooldown elapsed")
	}
	h.final(t)
}

func TestFailureCeiling(t *testing.T) {
	h := newHarness(t, noCooldown())

	want := []struct {
		state    State
		failures int
	}{
		{Failed, 1},
		{Failed, 2},
		{Failed, 3},
		{Idle, 0},
		{Failed, 1},
	}

	for i, w := range want {
		if !h.session.Submit(newFrame(100, 100)) {
			t.Fatalf("frame %d rejected", i)
		}
		got := h.final(t)
		if got.State != w.state || got.Reason != ReasonNoFace {
			t.Fatalf("frame %d: result = %v/%q, want %v/%q", i, got.State, got.Reason, w.state, ReasonNoFace)
		}
		if f := h.session.Snapshot().Failures; f != w.failures {
			t.Fatalf("frame %d: failures = %d, want %d", i, f, w.failures)
		}
	}
}

func TestRecognitionResetsFailures(t *testing.T) {
	h := newHarness(t, noCooldown())

	for i := 0; i < 2; i++ {
		h.session.Submit(newFrame(100, 100))
		h.final(t)
	}
	if f := h.session.Snapshot().Failures; f != 2 {
		t.Fatalf("failures = %d, want 2", f)
	}

	h.detector.set([]Detection{{Box: image.Rect(30, 30, 70, 70)}}, nil)
	h.recognizer.rec = matched("Bob", 0.8)
	h.session.Submit(newFrame(100, 100))
	if got := h.final(t); got.State != Recognized {
		t.Fatalf("state = %v, want Recognized", got.State)
	}
	if f := h.session.Snapshot().Failures; f != 0 {
		t.Errorf("failures = %d after recognition, want 0", f)
	}
}

func TestFailureReasons(t *testing.T) {
	validBox := []Detection{{Box: image.Rect(30, 30, 70, 70)}}

	tests := []struct {
		name       string
		detections []Detection
		detectErr  error
		imgErr     error
		rec        matcher.Recognition
		recErr     error
		wantReason string
		wantErr    error
	}{
		{name: "no face", wantReason: ReasonNoFace},
		{name: "too small", detections: []Detection{{Box: image.Rect(0, 0, 5, 5)}}, wantReason: ReasonInvalidSize},
		{name: "too large", detections: []Detection{{Box: image.Rect(0, 0, 95, 95)}}, wantReason: ReasonInvalidSize},
		{name: "detector error", detectErr: errors.New("model missing"), wantReason: ReasonDetectionError, wantErr: ErrDetection},
		{name: "conversion error", detections: validBox, imgErr: errors.New("bad yuv"), wantReason: ReasonConversionError, wantErr: ErrConversion},
		{name: "recognizer error", detections: validBox, recErr: errors.New("db down"), wantReason: ReasonRecognitionError},
		{name: "unknown", detections: validBox, rec: matcher.Recognition{GallerySize: 3}, wantReason: ReasonUnknown},
		{name: "empty gallery", detections: validBox, wantReason: ReasonNoStoredFaces},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, noCooldown())
			h.detector.set(tt.detections, tt.detectErr)
			h.recognizer.rec, h.recognizer.err = tt.rec, tt.recErr

			f := newFrame(100, 100)
			f.imgErr = tt.imgErr
			if !h.session.Submit(f) {
				t.Fatal("frame rejected")
			}

			got := h.final(t)
			if got.State != Failed || got.Reason != tt.wantReason {
				t.Errorf("result = %v/%q, want failed/%q", got.State, got.Reason, tt.wantReason)
			}
			if tt.wantErr != nil && !strings.Contains(got.Error, tt.wantErr.Error()) {
				t.Errorf("error = %q, want it to mention %q", got.Error, tt.wantErr)
			}
			if f.closed() != 1 {
				t.Errorf("frame closed %d times, want 1", f.closed())
			}
			if h.session.Snapshot().Busy {
				t.Error("session still busy")
			}
		})
	}
}

func TestPanicInDetectorIsContained(t *testing.T) {
	h := newHarness(t, noCooldown())
	h.detector.panicMsg = "boom"

	f := newFrame(100, 100)
	h.session.Submit(f)
	got := h.final(t)
	if got.State != Failed || got.Reason != ReasonInternalError {
		t.Fatalf("result = %v/%q, want failed/%q", got.State, got.Reason, ReasonInternalError)
	}
	if f.closed() != 1 {
		t.Errorf("frame closed %d times, want 1", f.closed())
	}

	h.detector.mu.Lock()
	h.detector.panicMsg = ""
	h.detector.mu.Unlock()
	if !h.session.Submit(newFrame(100, 100)) {
		t.Fatal("session did not recover from a panic")
	}
	h.final(t)
}

func TestSubmitWhenStopped(t *testing.T) {
	s := New(DefaultConfig(), &fakeDetector{}, &fakeRecognizer{})

	f := newFrame(10, 10)
	if s.Submit(f) {
		t.Fatal("frame accepted before Start")
	}
	if f.closed() != 1 {
		t.Errorf("rejected frame closed %d times, want 1", f.closed())
	}

	s.Start(context.Background())
	s.Stop()
	s.Stop()
	if s.Submit(newFrame(10, 10)) {
		t.Error("frame accepted after Stop")
	}
	if snap := s.Snapshot(); snap.Running || snap.Dropped != 2 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestValidSize(t *testing.T) {
	s := New(DefaultConfig(), nil, nil)
	bounds := image.Rect(0, 0, 100, 100)

	tests := []struct {
		box  image.Rectangle
		want bool
	}{
		{image.Rect(0, 0, 10, 10), true},
		{image.Rect(0, 0, 80, 80), true},
		{image.Rect(10, 10, 50, 60), true},
		{image.Rect(0, 0, 9, 50), false},
		{image.Rect(0, 0, 50, 81), false},
		{image.Rect(0, 0, 100, 100), false},
	}
	for _, tt := range tests {
		if got := s.validSize(tt.box, bounds); got != tt.want {
			t.Errorf("validSize(%v) = %v, want %v", tt.box, got, tt.want)
		}
	}
}

func TestExpandRegion(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 100)
	tests := []struct {
		box, want image.Rectangle
	}{
		{image.Rect(40, 40, 60, 60), image.Rect(35, 35, 65, 65)},
		{image.Rect(0, 0, 40, 40), image.Rect(0, 0, 50, 50)},
		{image.Rect(80, 90, 100, 100), image.Rect(75, 88, 100, 100)},
		{image.Rect(10, 10, 13, 13), image.Rect(10, 10, 13, 13)},
	}
	for _, tt := range tests {
		if got := ExpandRegion(tt.box, bounds); got != tt.want {
			t.Errorf("ExpandRegion(%v) = %v, want %v", tt.box, got, tt.want)
		}
	}
}

func TestStateText(t *testing.T) {
	for _, st := range []State{Idle, Detecting, Recognized, Failed} {
		parsed, err := ParseState(st.String())
		if err != nil || parsed != st {
			t.Errorf("ParseState(%q) = %v, %v", st.String(), parsed, err)
		}
	}
	if _, err := ParseState("sleeping"); err == nil {
		t.Error("ParseState accepted an unknown name")
	}

	data, err := json.Marshal(Result{State: Recognized, Name: "Alice", Region: BoxFrom(image.Rect(1, 2, 3, 4))})
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	for _, want := range []string{`"state":"recognized"`, `"x_min":1`, `"y_max":4`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("JSON %s does not contain %s", data, want)
		}
	}
}

func TestMultiListenerSurvivesPanics(t *testing.T) {
	var got []string
	m := MultiListener{
		ListenerFunc(func(Result) { got = append(got, "first") }),
		ListenerFunc(func(Result) { panic("listener failure") }),
		nil,
		ListenerFunc(func(Result) { got = append(got, "last") }),
	}
	m.OnResult(Result{State: Idle})
	if len(got) != 2 || got[0] != "first" || got[1] != "last" {
		t.Errorf("delivered to %v, want [first last]", got)
	}
}
