package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsLifecycleCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncNotificationCreated(true)
	metrics.IncNotificationCreated(false)
	metrics.IncNotificationCreated(false)
	metrics.ObserveDeliveryAttempt("EMAIL", true, 120*time.Millisecond)
	metrics.ObserveDeliveryAttempt("email", false, -time.Second)
	metrics.IncStatusTransition("retrying")
	metrics.IncDispatchInFlight()
	metrics.DecDispatchInFlight()
	metrics.IncPoolSubmission("caller_runs")
	metrics.IncSweepClaimed("retry")

	if got := testutil.ToFloat64(metrics.notificationsCreatedTotal.WithLabelValues("created")); got != 1 {
		t.Fatalf("notifications_created_total{created} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notificationsCreatedTotal.WithLabelValues("existing")); got != 2 {
		t.Fatalf("notifications_created_total{existing} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.deliveryAttemptsTotal.WithLabelValues("email", "delivered")); got != 1 {
		t.Fatalf("delivery_attempts_total{delivered} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.deliveryAttemptsTotal.WithLabelValues("email", "failed")); got != 1 {
		t.Fatalf("delivery_attempts_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.statusTransitionsTotal.WithLabelValues("RETRYING")); got != 1 {
		t.Fatalf("status_transitions_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.dispatchInflight); got != 0 {
		t.Fatalf("dispatch_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.poolSubmissionsTotal.WithLabelValues("caller_runs")); got != 1 {
		t.Fatalf("pool_submissions_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.sweepClaimedTotal.WithLabelValues("retry")); got != 1 {
		t.Fatalf("sweep_claimed_total = %v, want 1", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncNotificationCreated(true)
	metrics.ObserveDeliveryAttempt("email", true, time.Second)
	metrics.IncPoolSubmission("queued")
	metrics.IncSweepClaimed("stale")
	if metrics.Handler() == nil {
		t.Fatal("Handler() should fall back to the default handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/api/notifications/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/notifications/abc", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/api/notifications/:id", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
