package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "notification_service"

// Metrics stores Prometheus collectors used by the API, the dispatcher, the pool and the sweeper.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec
	notificationsCreatedTotal *prometheus.CounterVec
	deliveryAttemptsTotal     *prometheus.CounterVec
	deliveryDuration          *prometheus.HistogramVec
	statusTransitionsTotal    *prometheus.CounterVec
	dispatchInflight          prometheus.Gauge
	poolSubmissionsTotal      *prometheus.CounterVec
	sweepClaimedTotal         *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_created_total",
				Help:      "Create requests by outcome: created or existing (idempotent replay).",
			},
			[]string{"outcome"},
		),
		deliveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "delivery_attempts_total",
				Help:      "Delivery attempts by channel and result.",
			},
			[]string{"channel", "result"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "delivery_duration_seconds",
				Help:      "Channel send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		statusTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "status_transitions_total",
				Help:      "Notification status transitions grouped by target status.",
			},
			[]string{"status"},
		),
		dispatchInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_inflight",
				Help:      "Dispatches currently running.",
			},
		),
		poolSubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "pool_submissions_total",
				Help:      "Worker pool submissions by mode: queued, spawned or caller_runs.",
			},
			[]string{"mode"},
		),
		sweepClaimedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sweep_claimed_total",
				Help:      "Notifications re-dispatched by the sweeper, by kind: retry or stale.",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsCreatedTotal,
		m.deliveryAttemptsTotal,
		m.deliveryDuration,
		m.statusTransitionsTotal,
		m.dispatchInflight,
		m.poolSubmissionsTotal,
		m.sweepClaimedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for scraping outside the HTTP handler.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncNotificationCreated(created bool) {
	if m == nil {
		return
	}
	outcome := "existing"
	if created {
		outcome = "created"
	}
	m.notificationsCreatedTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDeliveryAttempt(channel string, delivered bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "failed"
	if delivered {
		result = "delivered"
	}
	label := normalizeLabel(channel)
	m.deliveryAttemptsTotal.WithLabelValues(label, result).Inc()

	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveryDuration.WithLabelValues(label).Observe(seconds)
}

func (m *Metrics) IncStatusTransition(status string) {
	if m == nil {
		return
	}
	m.statusTransitionsTotal.WithLabelValues(strings.ToUpper(strings.TrimSpace(status))).Inc()
}

func (m *Metrics) IncDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Inc()
}

func (m *Metrics) DecDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Dec()
}

func (m *Metrics) IncPoolSubmission(mode string) {
	if m == nil {
		return
	}
	m.poolSubmissionsTotal.WithLabelValues(normalizeLabel(mode)).Inc()
}

func (m *Metrics) IncSweepClaimed(kind string) {
	if m == nil {
		return
	}
	m.sweepClaimedTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
