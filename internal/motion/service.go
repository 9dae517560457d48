package motion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"skywatch/internal/camera"
	"skywatch/internal/platform/metrics"
	"skywatch/internal/store"
)

// EventStore persists and lists motion events.
type EventStore interface {
	InsertMotionEvent(ev store.MotionEvent) error
	RecentMotionEvents(limit int) ([]store.MotionEvent, error)
}

// Options tunes the detection loop.
type Options struct {
	// CheckInterval between detection passes. Default 100ms.
	CheckInterval time.Duration

	// BurstCount is how many frames a triggered burst captures. Default 10.
	BurstCount int

	// BurstFPS is the capture rate within a burst. Default 10.
	BurstFPS int

	// Cooldown suppresses re-triggering after a burst. Default 5s.
	Cooldown time.Duration
}

func (o Options) withDefaults() Options {
	if o.CheckInterval <= 0 {
		o.CheckInterval = 100 * time.Millisecond
	}
	if o.BurstCount <= 0 {
		o.BurstCount = 10
	}
	if o.BurstFPS <= 0 {
		o.BurstFPS = 10
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 5 * time.Second
	}
	return o
}

// Stats is a read-only snapshot for the API layer.
type Stats struct {
	Running        bool   `json:"running"`
	DetectionCount int    `json:"detection_count"`
	StoragePath    string `json:"storage_path"`
}

// Service polls the frame cache, runs the detector, and captures a burst of
// stills into a per-event directory when motion fires outside the cooldown
// window.
type Service struct {
	cam     camera.FrameSource
	det     Detector
	events  EventStore
	log     *slog.Logger
	met     *metrics.Metrics
	opts    Options
	baseDir string

	mu             sync.Mutex
	lastDetection  time.Time
	detectionCount int
	running        bool

	done    chan struct{}
	stopped chan struct{}
}

// NewService creates the motion storage directory and returns an unstarted
// Service. events and met may be nil.
func NewService(cam camera.FrameSource, det Detector, events EventStore,
	baseDir string, opts Options, log *slog.Logger, met *metrics.Metrics) (*Service, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create motion dir: %w", err)
	}
	return &Service{
		cam:     cam,
		det:     det,
		events:  events,
		log:     log,
		met:     met,
		opts:    opts.withDefaults(),
		baseDir: baseDir,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Start launches the detection loop.
func (s *Service) Start() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	go s.run()
	s.log.Info("motion detection started",
		slog.Duration("check_interval", s.opts.CheckInterval))
}

// Stop halts the loop and releases the detector.
func (s *Service) Stop(ctx context.Context) error {
	close(s.done)
	select {
	case <-s.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.det.Close()
	s.log.Info("motion detection stopped")
	return nil
}

func (s *Service) run() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.check()
		}
	}
}

// check runs one detection pass and triggers a burst when warranted.
func (s *Service) check() {
	frame, ok := s.cam.GetFrame()
	if !ok {
		return
	}

	detected, err := s.det.Detect(frame.Data)
	if err != nil {
		s.log.Error("motion detection failed", slog.String("error", err.Error()))
		return
	}
	if !detected {
		return
	}

	s.mu.Lock()
	inCooldown := time.Since(s.lastDetection) < s.opts.Cooldown
	if !inCooldown {
		s.lastDetection = time.Now()
	}
	s.mu.Unlock()
	if inCooldown {
		return
	}

	s.captureBurst(frame)
}

// captureBurst writes the trigger frame plus a burst of follow-up frames
// into a fresh event directory and records the event.
func (s *Service) captureBurst(trigger camera.Frame) {
	started := trigger.Timestamp
	dir := filepath.Join(s.baseDir, started.Format("2006-01-02_15-04-05"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Error("create event dir failed", slog.String("error", err.Error()))
		return
	}

	if err := os.WriteFile(filepath.Join(dir, "trigger.jpg"), trigger.Data, 0o644); err != nil {
		s.log.Error("write trigger frame failed", slog.String("error", err.Error()))
	}

	interval := time.Second / time.Duration(s.opts.BurstFPS)
	captured := 0
	for i := 0; i < s.opts.BurstCount; i++ {
		frame, ok := s.cam.GetFrame()
		if ok {
			name := fmt.Sprintf("burst_%03d.jpg", i)
			if err := os.WriteFile(filepath.Join(dir, name), frame.Data, 0o644); err == nil {
				captured++
			}
		}
		if !s.sleep(interval) {
			break
		}
	}

	s.mu.Lock()
	s.detectionCount++
	s.mu.Unlock()
	if s.met != nil {
		s.met.IncMotionEvents()
	}

	if s.events != nil {
		ev := store.MotionEvent{
			ID:         uuid.NewString(),
			StartedAt:  started,
			FrameCount: captured,
			Dir:        dir,
		}
		if err := s.events.InsertMotionEvent(ev); err != nil {
			s.log.Warn("record motion event failed", slog.String("error", err.Error()))
		}
	}

	s.log.Info("motion burst captured",
		slog.String("dir", dir),
		slog.Int("frames", captured))
}

// RecentEvents lists recent bursts, newest first.
func (s *Service) RecentEvents(limit int) ([]store.MotionEvent, error) {
	if s.events == nil {
		return nil, nil
	}
	return s.events.RecentMotionEvents(limit)
}

// Stats returns a snapshot for the API layer.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Running:        s.running,
		DetectionCount: s.detectionCount,
		StoragePath:    s.baseDir,
	}
}

// sleep waits for d or until shutdown; it returns false on shutdown.
func (s *Service) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.done:
		return false
	}
}
