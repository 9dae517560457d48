package timelapse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"skywatch/internal/camera"
	"skywatch/internal/platform/metrics"
)

// SegmentRecorder logs successfully compiled segments to the capture index.
type SegmentRecorder interface {
	RecordSegment(date string, frameCount int, assetPath string) error
}

// Options tunes the timelapse producer.
type Options struct {
	// Interval between still captures. Default 60s.
	Interval time.Duration

	// CompileThreshold is the buffer length that triggers a flush. Default 20.
	CompileThreshold int

	// EncodeFPS is the playback frame rate of compiled segments. Default 24.
	EncodeFPS int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.CompileThreshold <= 0 {
		o.CompileThreshold = 20
	}
	if o.EncodeFPS <= 0 {
		o.EncodeFPS = 24
	}
	return o
}

// Stats is a read-only snapshot for the API layer.
type Stats struct {
	Running        bool   `json:"running"`
	CaptureCount   int    `json:"capture_count"`
	BufferedFrames int    `json:"buffered_frames"`
	ActiveDay      string `json:"active_day"`
	IntervalSec    int    `json:"interval_seconds"`
}

// Service polls the frame cache on a fixed interval, persists stills under
// the temp area, and drives the assembly pipeline: buffer → segment compile
// → daily append. Flushes fire on the compile threshold, on day rollover,
// and on shutdown.
type Service struct {
	cam    camera.FrameSource
	buf    Buffer
	asm    *Assembler
	runner Runner
	rec    SegmentRecorder
	log    *slog.Logger
	met    *metrics.Metrics
	opts   Options

	tempDir string

	mu           sync.Mutex
	activeDay    string
	captureCount int
	running      bool

	done    chan struct{}
	stopped chan struct{}
}

// NewService creates the temp directory and returns an unstarted Service.
// rec and met may be nil.
func NewService(cam camera.FrameSource, runner Runner, asm *Assembler, rec SegmentRecorder,
	tempDir string, opts Options, log *slog.Logger, met *metrics.Metrics) (*Service, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Service{
		cam:     cam,
		asm:     asm,
		runner:  runner,
		rec:     rec,
		log:     log,
		met:     met,
		opts:    opts.withDefaults(),
		tempDir: tempDir,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Start launches the capture loop.
func (s *Service) Start() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	go s.run()
	s.log.Info("timelapse service started",
		slog.Duration("interval", s.opts.Interval),
		slog.Int("compile_threshold", s.opts.CompileThreshold))
}

// Stop halts the loop and drains any pending buffer with a final flush so a
// clean shutdown never drops persisted frames. The buffer holds references
// to stills already on disk, so the drain needs no frame reads and the
// camera may be released afterwards.
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

	if s.buf.Len() > 0 {
		if err := s.flush(ctx); err != nil {
			return fmt.Errorf("drain on shutdown: %w", err)
		}
	}
	s.log.Info("timelapse service stopped")
	return nil
}

func (s *Service) run() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.capture(context.Background())
		}
	}
}

// capture persists one still and fires any due flush triggers.
func (s *Service) capture(ctx context.Context) {
	frame, ok := s.cam.GetFrame()
	if !ok {
		s.log.Warn("no frame available for timelapse")
		return
	}

	day := frame.Timestamp.Format(dateLayout)

	s.mu.Lock()
	prevDay := s.activeDay
	s.mu.Unlock()

	// Day rollover: the pending buffer belongs to the previous day and must
	// be flushed before this frame is associated with the new day's asset.
	if prevDay != "" && prevDay != day {
		s.log.Info("day rollover detected",
			slog.String("from", prevDay),
			slog.String("to", day))
		if err := s.flush(ctx); err != nil {
			s.log.Error("rollover flush failed", slog.String("error", err.Error()))
		}
	}

	name := frame.Timestamp.Format("2006-01-02_15-04-05.000") + ".jpg"
	path := filepath.Join(s.tempDir, name)
	if err := os.WriteFile(path, frame.Data, 0o644); err != nil {
		s.log.Error("write still failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}

	s.buf.Append(Entry{Path: path, CapturedAt: frame.Timestamp})

	s.mu.Lock()
	s.activeDay = day
	s.captureCount++
	s.mu.Unlock()

	if s.met != nil {
		s.met.SetBufferedFrames(s.buf.Len())
	}

	if s.buf.Len() >= s.opts.CompileThreshold {
		if err := s.flush(ctx); err != nil {
			s.log.Error("threshold flush failed", slog.String("error", err.Error()))
		}
	}
}

// flush compiles the buffered entries and appends each to the asset of its
// own capture date. Entries are grouped by date before compiling, so a buffer
// that survived a failed rollover flush still reaches the right day's video
// once the encoder recovers. On any failure the unprocessed entries go back
// into the buffer for the next trigger.
func (s *Service) flush(ctx context.Context) error {
	entries := s.buf.Take()
	for start := 0; start < len(entries); {
		date := entries[start].CapturedAt.Format(dateLayout)
		end := start + 1
		for end < len(entries) && entries[end].CapturedAt.Format(dateLayout) == date {
			end++
		}
		if err := s.flushGroup(ctx, date, entries[start:end]); err != nil {
			s.buf.Restore(entries[start:])
			return err
		}
		start = end
	}
	return nil
}

// flushGroup compiles one same-date run of entries into a segment and appends
// it to that date's asset. Stills are deleted only after both steps succeed.
func (s *Service) flushGroup(ctx context.Context, date string, entries []Entry) error {
	segPath := filepath.Join(s.tempDir,
		"segment-"+date+"-"+strconv.FormatInt(time.Now().UnixNano(), 10)+assetExt)

	if err := s.runner.CompileSegment(ctx, entries, s.opts.EncodeFPS, segPath); err != nil {
		if s.met != nil {
			s.met.IncEncoderFailures()
		}
		return fmt.Errorf("compile segment: %w", err)
	}

	if err := s.asm.AppendSegment(ctx, date, segPath); err != nil {
		os.Remove(segPath)
		if s.met != nil {
			s.met.IncEncoderFailures()
		}
		return err
	}

	for _, e := range entries {
		os.Remove(e.Path)
	}
	if s.met != nil {
		s.met.IncSegmentsCompiled()
		s.met.SetBufferedFrames(s.buf.Len())
	}
	if s.rec != nil {
		if err := s.rec.RecordSegment(date, len(entries), s.asm.AssetPath(date)); err != nil {
			s.log.Warn("record segment failed", slog.String("error", err.Error()))
		}
	}

	s.log.Info("segment flushed",
		slog.String("date", date),
		slog.Int("frames", len(entries)))
	return nil
}

// Stats returns a snapshot for the API layer.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Running:        s.running,
		CaptureCount:   s.captureCount,
		BufferedFrames: s.buf.Len(),
		ActiveDay:      s.activeDay,
		IntervalSec:    int(s.opts.Interval / time.Second),
	}
}

// AvailableDates lists dates with a daily asset, newest first, always
// including today.
func (s *Service) AvailableDates() []string {
	return s.asm.AvailableDates(time.Now().Format(dateLayout))
}

// VideoPath returns the daily asset path for date if it exists.
func (s *Service) VideoPath(date string) (string, bool) {
	return s.asm.VideoPath(date)
}
