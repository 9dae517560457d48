package skytrack

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"skywatch/internal/camera"
)

type fakeFinder struct {
	mu     sync.Mutex
	calls  int
	circle Circle
	found  bool
}

func (f *fakeFinder) Find(jpeg []byte) (Circle, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.circle, f.found, nil
}

func (f *fakeFinder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBlender struct {
	mu     sync.Mutex
	blends []Circle
	reset  bool
	path   string
	has    bool
}

func (b *fakeBlender) Blend(jpeg []byte, c Circle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blends = append(b.blends, c)
	b.has = true
	return nil
}

func (b *fakeBlender) Path() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path, b.has
}

func (b *fakeBlender) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset = true
	b.has = false
	return nil
}

type staticCam struct{ frame camera.Frame }

func (c *staticCam) GetFrame() (camera.Frame, bool) {
	if c.frame.Data == nil {
		return camera.Frame{}, false
	}
	return c.frame.Clone(), true
}

func newTestTracker(mode Mode, finder Finder, blender Blender, now time.Time) *Tracker {
	cam := &staticCam{frame: camera.Frame{Data: []byte("jpeg"), Seq: 1, Timestamp: now}}
	tr := NewTracker(mode, cam, finder, blender, Options{}, slog.New(slog.DiscardHandler))
	tr.now = func() time.Time { return now }
	return tr
}

func TestMode_window(t *testing.T) {
	noon := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	midnight := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	dawn := time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)
	dusk := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)

	cases := []struct {
		mode Mode
		at   time.Time
		want bool
	}{
		{ModeSolar, noon, true},
		{ModeSolar, midnight, false},
		{ModeSolar, dawn, true},
		{ModeSolar, dusk, false},
		{ModeLunar, noon, false},
		{ModeLunar, midnight, true},
		{ModeLunar, dusk, true},
	}
	for _, c := range cases {
		if got := c.mode.inWindow(c.at); got != c.want {
			t.Errorf("%s at %02d:00: got %v, want %v", c.mode, c.at.Hour(), got, c.want)
		}
	}
}

func TestTracker_blends_detection(t *testing.T) {
	finder := &fakeFinder{circle: Circle{X: 320, Y: 180, R: 25}, found: true}
	blender := &fakeBlender{path: "/storage/solar/composite.jpg"}
	noon := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(ModeSolar, finder, blender, noon)

	tr.check()

	if len(blender.blends) != 1 {
		t.Fatalf("expected 1 blend, got %d", len(blender.blends))
	}
	if blender.blends[0] != (Circle{X: 320, Y: 180, R: 25}) {
		t.Errorf("unexpected blended circle: %+v", blender.blends[0])
	}
	stats := tr.Stats()
	if stats.DetectionCount != 1 || stats.LastX != 320 || stats.LastY != 180 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if !stats.LastDetection.Equal(noon) {
		t.Errorf("last detection = %v, want %v", stats.LastDetection, noon)
	}
}

func TestTracker_skips_outside_window(t *testing.T) {
	finder := &fakeFinder{circle: Circle{X: 100, Y: 100, R: 20}, found: true}
	blender := &fakeBlender{}
	midnight := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tr := newTestTracker(ModeSolar, finder, blender, midnight)

	tr.check()

	if finder.callCount() != 0 {
		t.Errorf("finder should not run outside the window, got %d calls", finder.callCount())
	}
	if len(blender.blends) != 0 {
		t.Errorf("expected no blends, got %d", len(blender.blends))
	}
}

func TestTracker_lunar_runs_at_night(t *testing.T) {
	finder := &fakeFinder{circle: Circle{X: 100, Y: 100, R: 20}, found: true}
	blender := &fakeBlender{}
	midnight := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tr := newTestTracker(ModeLunar, finder, blender, midnight)

	tr.check()

	if len(blender.blends) != 1 {
		t.Fatalf("expected 1 blend, got %d", len(blender.blends))
	}
}

func TestTracker_always_on_ignores_window(t *testing.T) {
	finder := &fakeFinder{circle: Circle{X: 100, Y: 100, R: 20}, found: true}
	blender := &fakeBlender{}
	midnight := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	cam := &staticCam{frame: camera.Frame{Data: []byte("jpeg"), Seq: 1, Timestamp: midnight}}
	tr := NewTracker(ModeSolar, cam, finder, blender, Options{AlwaysOn: true}, slog.New(slog.DiscardHandler))
	tr.now = func() time.Time { return midnight }

	tr.check()

	if len(blender.blends) != 1 {
		t.Fatalf("expected 1 blend, got %d", len(blender.blends))
	}
}

func TestTracker_no_candidate_no_blend(t *testing.T) {
	finder := &fakeFinder{found: false}
	blender := &fakeBlender{}
	noon := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(ModeSolar, finder, blender, noon)

	tr.check()

	if len(blender.blends) != 0 {
		t.Errorf("expected no blends, got %d", len(blender.blends))
	}
	if tr.Stats().DetectionCount != 0 {
		t.Errorf("expected no detections, got %d", tr.Stats().DetectionCount)
	}
}

func TestTracker_reset_clears_state(t *testing.T) {
	finder := &fakeFinder{circle: Circle{X: 320, Y: 180, R: 25}, found: true}
	blender := &fakeBlender{path: "/storage/solar/composite.jpg"}
	noon := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(ModeSolar, finder, blender, noon)

	tr.check()
	if err := tr.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	if !blender.reset {
		t.Error("blender was not reset")
	}
	if _, has := tr.CompositePath(); has {
		t.Error("composite should not exist after reset")
	}
	stats := tr.Stats()
	if stats.DetectionCount != 0 || !stats.LastDetection.IsZero() {
		t.Errorf("stats not cleared: %+v", stats)
	}
}

func TestTracker_start_stop(t *testing.T) {
	finder := &fakeFinder{}
	blender := &fakeBlender{}
	noon := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := newTestTracker(ModeSolar, finder, blender, noon)
	tr.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if tr.Stats().Running {
		t.Error("stats should report not running after stop")
	}
}
