package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	sweepDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Pipeline metrics
	DealMovesTotal    *prometheus.CounterVec
	StageEditsTotal   *prometheus.CounterVec
	DealsCreatedTotal *prometheus.CounterVec
	DealsDeletedTotal *prometheus.CounterVec
	StaleDeals        *prometheus.GaugeVec

	// Sweep metrics
	SweepRunsTotal     *prometheus.CounterVec
	SweepDuration      prometheus.Histogram
	SweepLastTimestamp prometheus.Gauge

	// Idempotency metrics
	IdempotencyRequestsTotal *prometheus.CounterVec

	// Template metrics
	TemplateReloadTotal *prometheus.CounterVec
	TemplatesLoaded     prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driveapipe_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "driveapipe_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "driveapipe_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "driveapipe_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Pipelines
		DealMovesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driveapipe_deal_moves_total",
			Help: "Total number of deal move requests by outcome.",
		}, []string{"pipeline_id", "result"}),
		StageEditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driveapipe_stage_edits_total",
			Help: "Total number of stage add, update and delete operations.",
		}, []string{"op"}),
		DealsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driveapipe_deals_created_total",
			Help: "Total number of deals created.",
		}, []string{"pipeline_id"}),
		DealsDeletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driveapipe_deals_deleted_total",
			Help: "Total number of deals deleted, including cascades from stage and pipeline deletes.",
		}, []string{"pipeline_id"}),
		StaleDeals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "driveapipe_stale_deals",
			Help: "Number of stale deals per pipeline at the last sweep.",
		}, []string{"pipeline_id"}),

		// Sweeps
		SweepRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driveapipe_stale_sweep_runs_total",
			Help: "Total number of stale deal sweeps.",
		}, []string{"status"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "driveapipe_stale_sweep_duration_seconds",
			Help:    "Stale deal sweep duration in seconds.",
			Buckets: sweepDurationBuckets,
		}),
		SweepLastTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driveapipe_stale_sweep_last_success_timestamp_seconds",
			Help: "Unix time of the last successful stale deal sweep.",
		}),

		// Idempotency
		IdempotencyRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driveapipe_idempotency_requests_total",
			Help: "Total number of requests carrying an idempotency key, by outcome.",
		}, []string{"outcome"}),

		// Templates
		TemplateReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driveapipe_template_reload_total",
			Help: "Total template reloads.",
		}, []string{"status"}),
		TemplatesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driveapipe_templates_loaded",
			Help: "Number of loaded pipeline templates.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Pipelines
		m.DealMovesTotal,
		m.StageEditsTotal,
		m.DealsCreatedTotal,
		m.DealsDeletedTotal,
		m.StaleDeals,
		// Sweeps
		m.SweepRunsTotal,
		m.SweepDuration,
		m.SweepLastTimestamp,
		// Idempotency
		m.IdempotencyRequestsTotal,
		// Templates
		m.TemplateReloadTotal,
		m.TemplatesLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordDealMove records a deal move. result is "moved", "noop" or a
// lowercased error code.
func (m *Metrics) RecordDealMove(pipelineID, result string) {
	m.DealMovesTotal.WithLabelValues(pipelineID, result).Inc()
}

// RecordStageEdit records a stage editor operation.
func (m *Metrics) RecordStageEdit(op string) {
	m.StageEditsTotal.WithLabelValues(op).Inc()
}

// RecordDealCreated records a new deal.
func (m *Metrics) RecordDealCreated(pipelineID string) {
	m.DealsCreatedTotal.WithLabelValues(pipelineID).Inc()
}

// RecordDealsDeleted records n deleted deals.
func (m *Metrics) RecordDealsDeleted(pipelineID string, n int) {
	m.DealsDeletedTotal.WithLabelValues(pipelineID).Add(float64(n))
}

// SetStaleDeals sets the stale deal gauge of a pipeline.
func (m *Metrics) SetStaleDeals(pipelineID string, n int) {
	m.StaleDeals.WithLabelValues(pipelineID).Set(float64(n))
}

// RecordSweep records one stale deal sweep.
func (m *Metrics) RecordSweep(duration time.Duration, err error) {
	m.SweepDuration.Observe(duration.Seconds())
	if err != nil {
		m.SweepRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.SweepRunsTotal.WithLabelValues("success").Inc()
	m.SweepLastTimestamp.SetToCurrentTime()
}

// RecordIdempotency records the outcome of an idempotency key lookup:
// "miss", "replay", "conflict" or "error".
func (m *Metrics) RecordIdempotency(outcome string) {
	m.IdempotencyRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordTemplateReload records a template reload.
func (m *Metrics) RecordTemplateReload(status string) {
	m.TemplateReloadTotal.WithLabelValues(status).Inc()
}

// SetTemplatesLoaded sets the number of loaded templates.
func (m *Metrics) SetTemplatesLoaded(count int) {
	m.TemplatesLoaded.Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint,
// serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// responseRecorder captures the status code and body size for the metrics and tracing middleware.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *responseRecorder) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
