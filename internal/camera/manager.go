package camera

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"skywatch/internal/platform/metrics"
)

// State describes the connection to the video source.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailing
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailing:
		return "failing"
	default:
		return "disconnected"
	}
}

// Options tunes the acquisition loop. Zero values select the defaults.
type Options struct {
	// ReconnectInterval is the fixed backoff after a failed connect or a
	// forced reconnect. Default 5s.
	ReconnectInterval time.Duration

	// CaptureInterval caps the capture cadence regardless of the source
	// frame rate. Default ~15 frames per second.
	CaptureInterval time.Duration

	// MaxReadFailures is the run of consecutive read failures that forces a
	// release + reconnect. Default 10.
	MaxReadFailures int
}

func (o Options) withDefaults() Options {
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = 5 * time.Second
	}
	if o.CaptureInterval <= 0 {
		o.CaptureInterval = time.Second / 15
	}
	if o.MaxReadFailures <= 0 {
		o.MaxReadFailures = 10
	}
	return o
}

// Manager runs the connection state machine on a dedicated OS thread and
// feeds the single-slot cache. Source I/O is blocking by nature and must
// never stall goroutines serving HTTP or the persistence services, so the
// loop is the only code that touches the Source.
type Manager struct {
	src  Source
	opts Options
	log  *slog.Logger
	met  *metrics.Metrics

	cache Cache
	seq   atomic.Uint64
	state atomic.Int32

	mu            sync.Mutex
	uri           string
	uriChanged    bool
	lastFrameTime time.Time

	done    chan struct{}
	stopped chan struct{}
	started bool
}

// NewManager returns an unstarted Manager. met may be nil (e.g. in tests).
func NewManager(src Source, uri string, opts Options, log *slog.Logger, met *metrics.Metrics) *Manager {
	return &Manager{
		src:     src,
		opts:    opts.withDefaults(),
		log:     log,
		met:     met,
		uri:     uri,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the acquisition loop. It may be called once.
func (m *Manager) Start() {
	if m.started {
		return
	}
	m.started = true
	go m.run()
	m.log.Info("acquisition loop started", slog.String("uri", m.currentURI()))
}

// Stop signals the loop to exit and waits for it to release the source
// handle, or until ctx expires.
func (m *Manager) Stop(ctx context.Context) error {
	close(m.done)
	select {
	case <-m.stopped:
		m.log.Info("acquisition loop stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetFrame returns an independent copy of the most recent frame, or false if
// none has been captured yet. Safe to call concurrently with the loop.
func (m *Manager) GetFrame() (Frame, bool) {
	return m.cache.Get()
}

// Stats returns a snapshot of the acquisition state.
func (m *Manager) Stats() Stats {
	st := State(m.state.Load())
	m.mu.Lock()
	uri := m.uri
	last := m.lastFrameTime
	m.mu.Unlock()
	return Stats{
		Connected:     st == StateConnected,
		State:         st.String(),
		SourceURI:     uri,
		FrameCount:    m.seq.Load(),
		LastFrameTime: last,
	}
}

// UpdateSourceURI swaps the source URI at runtime. The loop releases the
// current handle on its next iteration and reconnects with the new URI; no
// restart is needed.
func (m *Manager) UpdateSourceURI(uri string) {
	m.mu.Lock()
	m.uri = uri
	m.uriChanged = true
	m.mu.Unlock()
	m.log.Info("source uri updated", slog.String("uri", uri))
}

func (m *Manager) currentURI() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uri
}

// takeURIChange reports whether the URI changed since the last call and
// clears the flag.
func (m *Manager) takeURIChange() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.uriChanged
	m.uriChanged = false
	return changed
}

func (m *Manager) run() {
	// The loop performs blocking cgo/network I/O; pin it to its own thread
	// so the scheduler never runs unrelated work on a stalled thread.
	runtime.LockOSThread()
	defer close(m.stopped)
	defer func() {
		m.src.Close()
		m.setState(StateDisconnected)
	}()

	connected := false
	failures := 0

	for {
		select {
		case <-m.done:
			return
		default:
		}

		if m.takeURIChange() && connected {
			m.src.Close()
			connected = false
			m.setState(StateDisconnected)
		}

		if !connected {
			uri := m.currentURI()
			m.setState(StateConnecting)
			m.log.Info("connecting to source", slog.String("uri", uri))
			if err := m.src.Open(uri); err != nil {
				m.setState(StateFailing)
				m.log.Warn("connect failed",
					slog.String("uri", uri),
					slog.String("error", err.Error()))
				if !m.sleep(m.opts.ReconnectInterval) {
					return
				}
				continue
			}
			connected = true
			failures = 0
			m.setState(StateConnected)
			m.log.Info("source connected", slog.String("uri", uri))
		}

		start := time.Now()
		data, ok := m.src.Read()
		if ok {
			failures = 0
			seq := m.seq.Add(1)
			now := time.Now()
			m.cache.Set(Frame{Data: data, Seq: seq, Timestamp: now})
			m.mu.Lock()
			m.lastFrameTime = now
			m.mu.Unlock()
			if m.met != nil {
				m.met.IncFramesCaptured()
			}
		} else {
			failures++
			if failures >= m.opts.MaxReadFailures {
				m.log.Warn("read failed repeatedly, reconnecting",
					slog.Int("failures", failures))
				m.src.Close()
				connected = false
				failures = 0
				m.setState(StateFailing)
				if m.met != nil {
					m.met.IncReconnects()
				}
				if !m.sleep(m.opts.ReconnectInterval) {
					return
				}
				continue
			}
		}

		if d := m.opts.CaptureInterval - time.Since(start); d > 0 {
			if !m.sleep(d) {
				return
			}
		}
	}
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	if m.met != nil {
		m.met.SetCameraConnected(s == StateConnected)
	}
}

// sleep waits for d or until shutdown; it returns false on shutdown.
func (m *Manager) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-m.done:
		return false
	}
}
