package healthsrv

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/d1249/maildigest/internal/metrics"
)

func newTestApp(h *Handler) *fiber.App {
	app := fiber.New()
	h.Register(app)
	return app
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := New(nil, nil, nil, nil)
	app := newTestApp(h)

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestReadyzReportsNotConfiguredStoresAsHealthy(t *testing.T) {
	h := New(nil, nil, nil, nil)
	app := newTestApp(h)

	resp, err := app.Test(httptest.NewRequest("GET", "/readyz", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 when no optional store is configured, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"postgres":"not configured"`) {
		t.Fatalf("expected postgres reported not configured, got %s", body)
	}
}

func TestMetricsServesRegistryOutput(t *testing.T) {
	r := metrics.NewRegistry()
	r.IncCounter("messages_fetched_total", nil, 5)
	h := New(nil, nil, nil, r)
	app := newTestApp(h)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "messages_fetched_total 5") {
		t.Fatalf("expected metrics output to contain the counter, got %s", body)
	}
}

func TestMetricsWithNilRegistryServesEmptyBody(t *testing.T) {
	h := New(nil, nil, nil, nil)
	app := newTestApp(h)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Fatalf("expected empty body for a nil registry, got %q", body)
	}
}
