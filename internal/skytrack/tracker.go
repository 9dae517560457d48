package skytrack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"skywatch/internal/camera"
)

// Mode selects which sky object a Tracker follows and which hours it is
// active in.
type Mode int

const (
	// ModeSolar tracks the sun during daytime hours.
	ModeSolar Mode = iota
	// ModeLunar tracks the moon during nighttime hours.
	ModeLunar
)

func (m Mode) String() string {
	if m == ModeLunar {
		return "lunar"
	}
	return "solar"
}

// Without a configured observer location there is no sunrise calculation,
// so a fixed daytime window stands in for it.
const (
	dayStartHour = 6
	dayEndHour   = 20
)

// inWindow reports whether the tracker should be active at t.
func (m Mode) inWindow(t time.Time) bool {
	day := t.Hour() >= dayStartHour && t.Hour() < dayEndHour
	if m == ModeLunar {
		return !day
	}
	return day
}

// Options tunes a Tracker.
type Options struct {
	// CheckInterval between detection passes. Default 30s.
	CheckInterval time.Duration

	// AlwaysOn disables the time-of-day window, useful for indoor test
	// rigs pointed at a lamp.
	AlwaysOn bool
}

func (o Options) withDefaults() Options {
	if o.CheckInterval <= 0 {
		o.CheckInterval = 30 * time.Second
	}
	return o
}

// Stats is a read-only snapshot for the API layer.
type Stats struct {
	Mode           string    `json:"mode"`
	Running        bool      `json:"running"`
	DetectionCount int       `json:"detection_count"`
	LastDetection  time.Time `json:"last_detection,omitempty"`
	LastX          int       `json:"last_x"`
	LastY          int       `json:"last_y"`
}

// Tracker periodically looks for its object in the live frame and blends
// each detection into a long-exposure style composite. One instance runs
// per mode.
type Tracker struct {
	mode    Mode
	cam     camera.FrameSource
	finder  Finder
	blender Blender
	log     *slog.Logger
	opts    Options

	now func() time.Time

	mu             sync.Mutex
	detectionCount int
	lastDetection  time.Time
	lastCircle     Circle
	running        bool

	done    chan struct{}
	stopped chan struct{}
}

// NewTracker returns an unstarted Tracker.
func NewTracker(mode Mode, cam camera.FrameSource, finder Finder, blender Blender,
	opts Options, log *slog.Logger) *Tracker {
	return &Tracker{
		mode:    mode,
		cam:     cam,
		finder:  finder,
		blender: blender,
		log:     log,
		opts:    opts.withDefaults(),
		now:     time.Now,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the tracking loop.
func (t *Tracker) Start() {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
	go t.run()
	t.log.Info("sky tracking started",
		slog.String("mode", t.mode.String()),
		slog.Duration("check_interval", t.opts.CheckInterval))
}

// Stop halts the loop.
func (t *Tracker) Stop(ctx context.Context) error {
	close(t.done)
	select {
	case <-t.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	t.log.Info("sky tracking stopped", slog.String("mode", t.mode.String()))
	return nil
}

func (t *Tracker) run() {
	defer close(t.stopped)
	ticker := time.NewTicker(t.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.check()
		}
	}
}

// check runs one detection pass: skip outside the active window, otherwise
// find the object and blend it into the composite.
func (t *Tracker) check() {
	if !t.opts.AlwaysOn && !t.mode.inWindow(t.now()) {
		return
	}

	frame, ok := t.cam.GetFrame()
	if !ok {
		return
	}

	circle, found, err := t.finder.Find(frame.Data)
	if err != nil {
		t.log.Error("sky detection failed",
			slog.String("mode", t.mode.String()),
			slog.String("error", err.Error()))
		return
	}
	if !found {
		return
	}

	if err := t.blender.Blend(frame.Data, circle); err != nil {
		t.log.Error("composite blend failed",
			slog.String("mode", t.mode.String()),
			slog.String("error", err.Error()))
		return
	}

	t.mu.Lock()
	t.detectionCount++
	t.lastDetection = frame.Timestamp
	t.lastCircle = circle
	t.mu.Unlock()

	t.log.Info("sky object detected",
		slog.String("mode", t.mode.String()),
		slog.Int("x", circle.X),
		slog.Int("y", circle.Y),
		slog.Int("r", circle.R))
}

// CompositePath returns the composite file location and whether a composite
// exists yet.
func (t *Tracker) CompositePath() (string, bool) {
	return t.blender.Path()
}

// Reset discards the composite and the detection counters.
func (t *Tracker) Reset() error {
	if err := t.blender.Reset(); err != nil {
		return err
	}
	t.mu.Lock()
	t.detectionCount = 0
	t.lastDetection = time.Time{}
	t.lastCircle = Circle{}
	t.mu.Unlock()
	t.log.Info("composite reset", slog.String("mode", t.mode.String()))
	return nil
}

// Stats returns a snapshot for the API layer.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Mode:           t.mode.String(),
		Running:        t.running,
		DetectionCount: t.detectionCount,
		LastDetection:  t.lastDetection,
		LastX:          t.lastCircle.X,
		LastY:          t.lastCircle.Y,
	}
}
