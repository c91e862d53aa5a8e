package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/resizeflow/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	transcodeTotal    *prometheus.CounterVec
	transcodeDuration *prometheus.HistogramVec
	activeTranscodes  prometheus.Gauge
	pixelsProcessed   *prometheus.CounterVec
	bytesSaved        *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resizeflow_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resizeflow_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resizeflow_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		transcodeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resizeflow_transcodes_total",
			Help: "Transcodes by outcome and format pair.",
		}, []string{"outcome", "source_format", "output_format"}),
		transcodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resizeflow_transcode_duration_seconds",
			Help:    "Time spent inside the transcode pipeline.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		activeTranscodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "resizeflow_active_transcodes",
			Help: "Transcodes currently holding a slot.",
		}),
		pixelsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resizeflow_pixels_processed_total",
			Help: "Source pixels decoded by successful transcodes.",
		}, []string{"subject"}),
		bytesSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resizeflow_bytes_saved_total",
			Help: "Input bytes minus output bytes for transcodes that shrank the payload.",
		}, []string{"subject"}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.transcodeTotal,
		m.transcodeDuration,
		m.activeTranscodes,
		m.pixelsProcessed,
		m.bytesSaved,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeSuccess(log domain.UsageLog, elapsed time.Duration) {
	m.transcodeTotal.WithLabelValues("ok", log.SourceFormat, log.OutputFormat).Inc()
	m.transcodeDuration.WithLabelValues("ok").Observe(elapsed.Seconds())
	m.pixelsProcessed.WithLabelValues(log.SubjectID).Add(float64(log.PixelsProcessed))
	// Counters cannot go down; grown payloads count as zero saved.
	if log.BytesSaved > 0 {
		m.bytesSaved.WithLabelValues(log.SubjectID).Add(float64(log.BytesSaved))
	}
}

func (m *metrics) observeFailure(err error, elapsed time.Duration) {
	kind := errorKind(err)
	m.transcodeTotal.WithLabelValues(kind, "", "").Inc()
	m.transcodeDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

func routeLabel(path string) string {
	switch path {
	case "/v1/transcode", "/v1/objects/transcode", "/v1/usage", "/healthz", "/metrics":
		return path
	default:
		return "unmatched"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
