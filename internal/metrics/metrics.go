// Package metrics exposes Prometheus instrumentation for EmotiBot.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "emotibot"

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	replies          *prometheus.CounterVec
	llmDuration      *prometheus.HistogramVec
	llmErrors        *prometheus.CounterVec
	documents        *prometheus.CounterVec
	chunks           prometheus.Counter
	wsConnections    prometheus.Gauge
}

// New registers all collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   latencyBuckets,
		}, []string{"method", "route"}),
		requestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being served",
		}),
		replies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_replies_total",
			Help:      "Chat replies by the user's dominant emotion",
		}, []string{"emotion"}),
		llmDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM generation latency by provider",
			Buckets:   latencyBuckets,
		}, []string{"provider"}),
		llmErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_errors_total",
			Help:      "Failed LLM generations by provider",
		}, []string{"provider"}),
		documents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Documents added to memory by file type",
		}, []string{"type"}),
		chunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_chunks_stored_total",
			Help:      "Document chunks written to memory",
		}),
		wsConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open chat websocket connections",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.requestsInFlight.Add(delta)
}

func (m *Metrics) RecordReply(emotion string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(emotion).Inc()
}

func (m *Metrics) RecordLLM(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.llmDuration.WithLabelValues(provider).Observe(d.Seconds())
	if err != nil {
		m.llmErrors.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) RecordDocument(fileType string, chunks int) {
	if m == nil {
		return
	}
	if fileType == "" {
		fileType = "text"
	}
	m.documents.WithLabelValues(fileType).Inc()
	m.chunks.Add(float64(chunks))
}

func (m *Metrics) WebSocket(delta float64) {
	if m == nil {
		return
	}
	m.wsConnections.Add(delta)
}
