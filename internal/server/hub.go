package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"skywatch/internal/camera"
)

// clientBuffer is the per-client frame backlog. A client that falls this far
// behind is dropped rather than allowed to stall the broadcast.
const clientBuffer = 4

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Frames are already public through the HTTP API; the socket carries
	// the same data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub polls the frame cache and fans new frames out to websocket clients.
// Each client gets a buffered channel; a full channel means the client is
// too slow and it is disconnected.
type Hub struct {
	cam      camera.FrameSource
	log      *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	clients map[chan []byte]struct{}

	done    chan struct{}
	stopped chan struct{}
}

// NewHub returns an unstarted Hub broadcasting at most fps frames per second.
func NewHub(cam camera.FrameSource, fps int, log *slog.Logger) *Hub {
	if fps <= 0 {
		fps = 10
	}
	return &Hub{
		cam:      cam,
		log:      log,
		interval: time.Second / time.Duration(fps),
		clients:  make(map[chan []byte]struct{}),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the broadcast pump.
func (h *Hub) Start() {
	go h.run()
}

// Stop halts the pump and disconnects all clients.
func (h *Hub) Stop(ctx context.Context) error {
	close(h.done)
	select {
	case <-h.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.mu.Lock()
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
	return nil
}

func (h *Hub) run() {
	defer close(h.stopped)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			frame, ok := h.cam.GetFrame()
			if !ok || frame.Seq == lastSeq {
				continue
			}
			lastSeq = frame.Seq
			h.broadcast(frame.Data)
		}
	}
}

// broadcast hands the frame to every client that has room for it and drops
// the ones that do not.
func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- data:
		default:
			delete(h.clients, ch)
			close(ch)
			h.log.Warn("dropping slow websocket client")
		}
	}
}

// subscribe registers a new client channel with the pump.
func (h *Hub) subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// unsubscribe removes ch unless the pump already dropped it.
func (h *Hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams frames until the client goes
// away or is dropped.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	ch := h.subscribe()
	defer h.unsubscribe(ch)
	h.log.Info("websocket client connected", slog.Int("clients", h.ClientCount()))

	// Reads only detect disconnects; clients never send payloads.
	readErr := make(chan struct{})
	go func() {
		defer close(readErr)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-readErr:
			return
		case <-h.done:
			return
		}
	}
}
