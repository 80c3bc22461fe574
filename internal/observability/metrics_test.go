package observability

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsTracksCalls(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.Start("GET /payment/vnpay-return")
	time.Sleep(1 * time.Millisecond)
	span.End(nil)

	span = metrics.Start("GET /payment/vnpay-return")
	span.End(errors.New("fail"))

	snap := metrics.Snapshot()
	stats := snap.Methods["GET /payment/vnpay-return"]
	if stats.Count != 2 {
		t.Fatalf("expected 2 calls, got %d", stats.Count)
	}
	if stats.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", stats.Errors)
	}
	if stats.InFlight != 0 {
		t.Fatalf("expected 0 inflight, got %d", stats.InFlight)
	}
	if snap.TotalRequests != 2 || snap.TotalErrors != 1 {
		t.Fatalf("unexpected totals: %+v", snap)
	}
}

func TestMetricsTracksRateLimitWait(t *testing.T) {
	metrics := NewMetrics()
	metrics.AddRateLimitWait(50 * time.Millisecond)
	metrics.AddRateLimitWait(25 * time.Millisecond)
	metrics.AddRateLimitWait(0)

	snap := metrics.Snapshot()
	if snap.RateLimitWaits != 2 {
		t.Fatalf("expected 2 waits, got %d", snap.RateLimitWaits)
	}
	if snap.RateLimitWaitMs != 75 {
		t.Fatalf("expected 75ms, got %d", snap.RateLimitWaitMs)
	}
}

func TestMetricsMarkShutdown(t *testing.T) {
	metrics := NewMetrics()
	metrics.MarkShutdown(5)
	snap := metrics.Snapshot()
	if snap.Lifecycle == nil {
		t.Fatalf("expected lifecycle snapshot")
	}
	if snap.Lifecycle.InFlightAtShutdown != 5 {
		t.Fatalf("expected inflight 5, got %d", snap.Lifecycle.InFlightAtShutdown)
	}
	if snap.Lifecycle.ShutdownAt.IsZero() {
		t.Fatalf("expected shutdown timestamp")
	}
}

func TestHandlerReturnsJSON(t *testing.T) {
	metrics := NewMetrics()
	span := metrics.Start("POST /api/orders/finalize")
	span.End(errors.New("fail"))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	Handler(metrics).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snap Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if snap.TotalErrors != 1 {
		t.Fatalf("expected total errors 1, got %d", snap.TotalErrors)
	}
	if len(snap.Methods) == 0 {
		t.Fatalf("expected methods in snapshot")
	}
}

func TestMetricsNilSafePaths(t *testing.T) {
	var m *Metrics
	span := m.Start("ignored") // nil-safe
	span.End(nil)              // should not panic

	m.MarkShutdown(10) // nil-safe
	m.RecordOutcome("success")
	m.RecordBackendSync("failed")
	m.RecordDuplicate()
	m.RecordDiscarded()
	if err := m.RegisterPrometheus(prometheus.NewRegistry()); err != nil {
		t.Fatalf("nil register: %v", err)
	}
}

func TestMetricsTracksReconcile(t *testing.T) {
	metrics := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := metrics.RegisterPrometheus(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	metrics.RecordOutcome("success")
	metrics.RecordOutcome("success")
	metrics.RecordOutcome("failed")
	metrics.RecordBackendSync("acknowledged")
	metrics.RecordBackendSync("failed")
	metrics.RecordDuplicate()
	metrics.RecordDiscarded()

	snap := metrics.Snapshot()
	if snap.Reconcile.Outcomes["success"] != 2 || snap.Reconcile.Outcomes["failed"] != 1 {
		t.Fatalf("unexpected outcomes: %+v", snap.Reconcile.Outcomes)
	}
	if snap.Reconcile.BackendSync["failed"] != 1 {
		t.Fatalf("unexpected backend sync: %+v", snap.Reconcile.BackendSync)
	}
	if snap.Reconcile.Duplicates != 1 || snap.Reconcile.Discarded != 1 {
		t.Fatalf("unexpected reconcile counters: %+v", snap.Reconcile)
	}

	if got := testutil.ToFloat64(metrics.prom.outcomes.WithLabelValues("success")); got != 2 {
		t.Fatalf("expected prometheus success=2, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.prom.duplicates); got != 1 {
		t.Fatalf("expected prometheus duplicates=1, got %v", got)
	}
}

func TestRegisterPrometheusTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := NewMetrics().RegisterPrometheus(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := NewMetrics().RegisterPrometheus(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestMuxServesPrometheus(t *testing.T) {
	metrics := NewMetrics()
	reg := prometheus.NewRegistry()
	if err := metrics.RegisterPrometheus(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	metrics.Start("GET /healthz").End(nil)

	srv := httptest.NewServer(NewMux(metrics, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics/prom")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `storefront_http_requests_total{route="GET /healthz",status="ok"} 1`) {
		t.Fatalf("expected request counter in exposition, got:\n%s", body)
	}
}
