// Package metrics exposes Prometheus instrumentation for the assistant
// server: HTTP traffic, chat sessions, frame flow, tool calls, and
// memory flushes.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Chat session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec

	// Frame metrics
	FramesTotal     *prometheus.CounterVec
	AudioBytesTotal *prometheus.CounterVec
	TurnsTotal      *prometheus.CounterVec

	// Assistant metrics
	ToolCallsTotal     *prometheus.CounterVec
	MemoryFlushesTotal *prometheus.CounterVec
	UploadsTotal       *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered on a
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "lumen"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)

	sessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_sessions_active",
			Help:      "Number of active chat sessions",
		},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_sessions_total",
			Help:      "Total number of chat sessions",
		},
		[]string{"mode", "status"},
	)

	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_session_duration_seconds",
			Help:      "Chat session duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"mode"},
	)

	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total websocket frames by direction and kind",
		},
		[]string{"direction", "kind"},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total PCM audio bytes relayed",
		},
		[]string{"direction"},
	)

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total model turns by outcome",
		},
		[]string{"outcome"},
	)

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total tool calls made by the model",
		},
		[]string{"tool", "status"},
	)

	memoryFlushesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_flushes_total",
			Help:      "Total end-of-session memory flushes",
		},
		[]string{"status"},
	)

	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total file uploads",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		sessionsActive,
		sessionsTotal,
		sessionDuration,
		framesTotal,
		audioBytesTotal,
		turnsTotal,
		toolCallsTotal,
		memoryFlushesTotal,
		uploadsTotal,
	)

	return &Metrics{
		registry:           registry,
		RequestsTotal:      requestsTotal,
		RequestDuration:    requestDuration,
		SessionsActive:     sessionsActive,
		SessionsTotal:      sessionsTotal,
		SessionDuration:    sessionDuration,
		FramesTotal:        framesTotal,
		AudioBytesTotal:    audioBytesTotal,
		TurnsTotal:         turnsTotal,
		ToolCallsTotal:     toolCallsTotal,
		MemoryFlushesTotal: memoryFlushesTotal,
		UploadsTotal:       uploadsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(method, route, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordSessionStart records a chat session opening.
func (m *Metrics) RecordSessionStart() {
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a chat session closing.
func (m *Metrics) RecordSessionEnd(mode, status string, duration time.Duration) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(mode, status).Inc()
	m.SessionDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordFrame records one websocket frame.
func (m *Metrics) RecordFrame(direction, kind string) {
	m.FramesTotal.WithLabelValues(direction, kind).Inc()
}

// RecordAudioBytes records relayed PCM audio.
func (m *Metrics) RecordAudioBytes(direction string, bytes int) {
	if bytes > 0 {
		m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
	}
}

// RecordTurn records a finished model turn.
func (m *Metrics) RecordTurn(outcome string) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(tool string, ok bool) {
	m.ToolCallsTotal.WithLabelValues(tool, okStatus(ok)).Inc()
}

// RecordMemoryFlush records a session transcript flush attempt.
func (m *Metrics) RecordMemoryFlush(saved bool) {
	status := "saved"
	if !saved {
		status = "skipped"
	}
	m.MemoryFlushesTotal.WithLabelValues(status).Inc()
}

// RecordUpload records one file upload.
func (m *Metrics) RecordUpload(ok bool) {
	m.UploadsTotal.WithLabelValues(okStatus(ok)).Inc()
}

func okStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// ResponseWriter wraps http.ResponseWriter to capture status code and size.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	BytesWritten int
}

// NewResponseWriter creates a new ResponseWriter.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code.
func (rw *ResponseWriter) WriteHeader(code int) {
	rw.StatusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures bytes written.
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += n
	return n, err
}

// Flush implements http.Flusher.
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker for WebSocket upgrades.
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// StatusString returns the status code as a string.
func (rw *ResponseWriter) StatusString() string {
	return strconv.Itoa(rw.StatusCode)
}
