package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoiceflow_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invoiceflow_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	invoicesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invoiceflow_invoices_created_total",
			Help: "Total invoices created",
		},
	)

	dispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoiceflow_dispatch_attempts_total",
			Help: "Total notification send attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	dispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoiceflow_dispatch_outcomes_total",
			Help: "Final dispatch outcomes by notification status",
		},
		[]string{"status"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invoiceflow_dispatch_duration_seconds",
			Help:    "Time from dispatch start to final outcome",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"channel"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoiceflow_webhook_events_total",
			Help: "Webhook events received by provider, type, and disposition",
		},
		[]string{"provider", "type", "disposition"},
	)

	documentsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invoiceflow_documents_generated_total",
			Help: "Invoice documents rendered",
		},
	)

	queueMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "invoiceflow_queue_messages_in_flight",
			Help: "Current dispatch jobs being processed from the queue",
		},
	)

	dedupHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invoiceflow_webhook_dedup_hits_total",
			Help: "Webhook events skipped as already processed",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "invoiceflow_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "invoiceflow_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordInvoiceCreated records an invoice creation
func RecordInvoiceCreated() {
	invoicesCreated.Inc()
}

// RecordDispatchAttempt records a single channel send attempt
func RecordDispatchAttempt(channel, result string) {
	dispatchAttempts.WithLabelValues(channel, result).Inc()
}

// RecordDispatchOutcome records the final notification status of a dispatch
func RecordDispatchOutcome(status string) {
	dispatchOutcomes.WithLabelValues(status).Inc()
}

// RecordDispatchDuration records time from dispatch start to final outcome
func RecordDispatchDuration(channel string, d time.Duration) {
	dispatchDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// RecordWebhookEvent records a webhook ingest and how it was handled
func RecordWebhookEvent(provider, eventType, disposition string) {
	webhookEvents.WithLabelValues(provider, eventType, disposition).Inc()
}

// RecordDocumentGenerated records a rendered invoice document
func RecordDocumentGenerated() {
	documentsGenerated.Inc()
}

// SetQueueMessagesInFlight sets the current in-flight dispatch job count
func SetQueueMessagesInFlight(count int) {
	queueMessagesInFlight.Set(float64(count))
}

// RecordDedupHit records a webhook event skipped by the dedup store
func RecordDedupHit() {
	dedupHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
