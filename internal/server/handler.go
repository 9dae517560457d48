package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"skywatch/internal/camera"
	"skywatch/internal/motion"
	"skywatch/internal/skytrack"
	"skywatch/internal/store"
	"skywatch/internal/timelapse"
)

// Camera is the handler's view of the capture manager.
type Camera interface {
	camera.FrameSource
	Stats() camera.Stats
	UpdateSourceURI(uri string)
}

// TimelapseService is the handler's view of the timelapse pipeline.
type TimelapseService interface {
	Stats() timelapse.Stats
	AvailableDates() []string
	VideoPath(date string) (string, bool)
}

// MotionService is the handler's view of the motion detector.
type MotionService interface {
	Stats() motion.Stats
	RecentEvents(limit int) ([]store.MotionEvent, error)
}

// SkyTracker is the handler's view of a solar or lunar tracker.
type SkyTracker interface {
	Stats() skytrack.Stats
	CompositePath() (string, bool)
	Reset() error
}

const dateLayout = "2006-01-02"

// Handler exposes the HTTP API using go-chi. Optional services (timelapse,
// motion, solar, lunar) may be nil when disabled; their routes then answer
// 404.
type Handler struct {
	cam        Camera
	hub        *Hub
	tl         TimelapseService
	mo         MotionService
	solar      SkyTracker
	lunar      SkyTracker
	storageDir string
	log        *slog.Logger
}

// NewHandler returns a Handler serving files under storageDir.
func NewHandler(cam Camera, hub *Hub, tl TimelapseService, mo MotionService,
	solar, lunar SkyTracker, storageDir string, log *slog.Logger) *Handler {
	return &Handler{
		cam:        cam,
		hub:        hub,
		tl:         tl,
		mo:         mo,
		solar:      solar,
		lunar:      lunar,
		storageDir: storageDir,
		log:        log,
	}
}

// Routes registers the API routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/snapshot", h.Snapshot)
		r.Get("/stream", h.Stream)
		r.Get("/live", h.hub.ServeWS)
		r.Get("/timelapse/dates", h.TimelapseDates)
		r.Get("/timelapse/video/{date}", h.TimelapseVideo)
		r.Get("/motion/events", h.MotionEvents)
		r.Get("/solar/composite", h.composite(h.solar))
		r.Delete("/solar/composite", h.compositeReset(h.solar))
		r.Get("/lunar/composite", h.composite(h.lunar))
		r.Delete("/lunar/composite", h.compositeReset(h.lunar))
		r.Get("/storage/*", h.StorageFile)
		r.Put("/settings/camera", h.UpdateCameraSettings)
	})
}

type statusResponse struct {
	Camera    camera.Stats     `json:"camera"`
	Timelapse *timelapse.Stats `json:"timelapse,omitempty"`
	Motion    *motion.Stats    `json:"motion,omitempty"`
	Solar     *skytrack.Stats  `json:"solar,omitempty"`
	Lunar     *skytrack.Stats  `json:"lunar,omitempty"`
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Camera: h.cam.Stats()}
	if h.tl != nil {
		s := h.tl.Stats()
		resp.Timelapse = &s
	}
	if h.mo != nil {
		s := h.mo.Stats()
		resp.Motion = &s
	}
	if h.solar != nil {
		s := h.solar.Stats()
		resp.Solar = &s
	}
	if h.lunar != nil {
		s := h.lunar.Stats()
		resp.Lunar = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

// Snapshot handles GET /api/snapshot. No frame yet means the camera is
// still connecting: 503, not an error.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	frame, ok := h.cam.GetFrame()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no frame available")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(frame.Data)
}

const streamBoundary = "skywatchframe"

// Stream handles GET /api/stream as an MJPEG multipart stream. Each client
// polls the frame cache independently; a stalled client only stalls itself.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			frame, ok := h.cam.GetFrame()
			if !ok || frame.Seq == lastSeq {
				continue
			}
			lastSeq = frame.Seq

			_, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
				streamBoundary, len(frame.Data))
			if err != nil {
				return
			}
			if _, err := w.Write(frame.Data); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// TimelapseDates handles GET /api/timelapse/dates.
func (h *Handler) TimelapseDates(w http.ResponseWriter, r *http.Request) {
	if h.tl == nil {
		writeError(w, http.StatusNotFound, "timelapse disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"dates": h.tl.AvailableDates()})
}

// TimelapseVideo handles GET /api/timelapse/video/{date}.
func (h *Handler) TimelapseVideo(w http.ResponseWriter, r *http.Request) {
	if h.tl == nil {
		writeError(w, http.StatusNotFound, "timelapse disabled")
		return
	}
	date := chi.URLParam(r, "date")
	if _, err := time.Parse(dateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	path, ok := h.tl.VideoPath(date)
	if !ok {
		writeError(w, http.StatusNotFound, "no video for date")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

// MotionEvents handles GET /api/motion/events?limit=N.
func (h *Handler) MotionEvents(w http.ResponseWriter, r *http.Request) {
	if h.mo == nil {
		writeError(w, http.StatusNotFound, "motion detection disabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	events, err := h.mo.RecentEvents(limit)
	if err != nil {
		h.log.Error("list motion events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []store.MotionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string][]store.MotionEvent{"events": events})
}

// composite serves a tracker's composite image, 404 until one exists.
func (h *Handler) composite(tr SkyTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tr == nil {
			writeError(w, http.StatusNotFound, "tracker disabled")
			return
		}
		path, ok := tr.CompositePath()
		if !ok {
			writeError(w, http.StatusNotFound, "no composite yet")
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		http.ServeFile(w, r, path)
	}
}

// compositeReset discards a tracker's composite.
func (h *Handler) compositeReset(tr SkyTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tr == nil {
			writeError(w, http.StatusNotFound, "tracker disabled")
			return
		}
		if err := tr.Reset(); err != nil {
			h.log.Error("composite reset failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// StorageFile handles GET /api/storage/* and refuses to escape the storage
// root.
func (h *Handler) StorageFile(w http.ResponseWriter, r *http.Request) {
	rel := chi.URLParam(r, "*")
	if rel == "" {
		writeError(w, http.StatusBadRequest, "missing path")
		return
	}

	full := filepath.Join(h.storageDir, filepath.Clean("/"+rel))
	root := filepath.Clean(h.storageDir)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	http.ServeFile(w, r, full)
}

type cameraSettings struct {
	SourceURI string `json:"source_uri"`
}

// UpdateCameraSettings handles PUT /api/settings/camera. The capture loop
// picks the new URI up without a restart.
func (h *Handler) UpdateCameraSettings(w http.ResponseWriter, r *http.Request) {
	var req cameraSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(req.SourceURI) == "" {
		writeError(w, http.StatusBadRequest, "source_uri is required")
		return
	}

	h.cam.UpdateSourceURI(req.SourceURI)
	h.log.Info("camera source updated", slog.String("source_uri", req.SourceURI))
	writeJSON(w, http.StatusOK, cameraSettings{SourceURI: req.SourceURI})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
