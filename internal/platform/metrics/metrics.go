package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the capture service.
type Metrics struct {
	registry              *prometheus.Registry
	requestsTotal         prometheus.Counter
	errorsTotal           prometheus.Counter
	framesCapturedTotal   prometheus.Counter
	reconnectsTotal       prometheus.Counter
	segmentsCompiledTotal prometheus.Counter
	encoderFailuresTotal  prometheus.Counter
	motionEventsTotal     prometheus.Counter
	cameraConnected       prometheus.Gauge
	bufferedFrames        prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skywatch_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skywatch_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		framesCapturedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skywatch_frames_captured_total",
			Help: "Total number of frames read from the video source",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skywatch_camera_reconnects_total",
			Help: "Total number of forced camera reconnects",
		}),
		segmentsCompiledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skywatch_segments_compiled_total",
			Help: "Total number of timelapse segments compiled and appended",
		}),
		encoderFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skywatch_encoder_failures_total",
			Help: "Total number of failed or timed-out encoder invocations",
		}),
		motionEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skywatch_motion_events_total",
			Help: "Total number of motion events that triggered a burst capture",
		}),
		cameraConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skywatch_camera_connected",
			Help: "1 if the camera source is currently connected, else 0",
		}),
		bufferedFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skywatch_buffered_frames",
			Help: "Number of still frames waiting to be compiled into a segment",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.framesCapturedTotal,
		m.reconnectsTotal,
		m.segmentsCompiledTotal,
		m.encoderFailuresTotal,
		m.motionEventsTotal,
		m.cameraConnected,
		m.bufferedFrames,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the HTTP error counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncFramesCaptured increments the captured-frame counter.
func (m *Metrics) IncFramesCaptured() {
	m.framesCapturedTotal.Inc()
}

// IncReconnects increments the forced-reconnect counter.
func (m *Metrics) IncReconnects() {
	m.reconnectsTotal.Inc()
}

// IncSegmentsCompiled increments the compiled-segment counter.
func (m *Metrics) IncSegmentsCompiled() {
	m.segmentsCompiledTotal.Inc()
}

// IncEncoderFailures increments the encoder-failure counter.
func (m *Metrics) IncEncoderFailures() {
	m.encoderFailuresTotal.Inc()
}

// IncMotionEvents increments the motion-event counter.
func (m *Metrics) IncMotionEvents() {
	m.motionEventsTotal.Inc()
}

// SetCameraConnected sets the camera-connected gauge.
func (m *Metrics) SetCameraConnected(connected bool) {
	if connected {
		m.cameraConnected.Set(1)
	} else {
		m.cameraConnected.Set(0)
	}
}

// SetBufferedFrames sets the pending-frame gauge.
func (m *Metrics) SetBufferedFrames(n int) {
	m.bufferedFrames.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. camera connectivity and buffer depth).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
