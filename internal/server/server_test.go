package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/swimctl/swimctl/internal/ops"
	"github.com/swimctl/swimctl/internal/store"
)

type fakeHealth struct{ h store.Health }

func (f fakeHealth) Health(ctx context.Context) store.Health { return f.h }

type fakeService struct {
	state   string
	ok      bool
	message string
	actions []string
}

func (f *fakeService) State(ctx context.Context) string { return f.state }

func (f *fakeService) Do(ctx context.Context, action string) (bool, string, error) {
	f.actions = append(f.actions, action)
	return f.ok, f.message, nil
}

type fakeHost struct{ m ops.HostMetrics }

func (f fakeHost) Collect(ctx context.Context) ops.HostMetrics { return f.m }

func newTestServer(svc *fakeService, token string, perMinute int) *echo.Echo {
	ts := "2024-05-01T12:00:00Z"
	return New(Options{
		Health:           fakeHealth{h: store.Health{OK: true, RowCount: 7, LastTimestamp: &ts}},
		Service:          svc,
		Host:             fakeHost{m: ops.HostMetrics{Time: 1700000000, CPUPercent: 12.5, ServiceState: "active", SwimLogBytes: 4096}},
		ServiceName:      "swim-receiver.service",
		ControlToken:     token,
		ControlPerMinute: perMinute,
		Registry:         prometheus.NewRegistry(),
		Logger:           log.New(&bytes.Buffer{}, "", 0),
	})
}

func do(e *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := do(newTestServer(&fakeService{}, "", 0), "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	rec := do(newTestServer(&fakeService{state: "active"}, "", 0), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Service != "swim-receiver.service" || resp.State != "active" {
		t.Fatalf("unexpected status %+v", resp)
	}
}

func TestHostAndDB(t *testing.T) {
	e := newTestServer(&fakeService{}, "", 0)

	rec := do(e, "/host")
	var host map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &host); err != nil {
		t.Fatalf("decode host: %v", err)
	}
	for _, key := range []string{"time", "cpu_percent", "load1", "mem_percent", "mem_available_mb", "disk_percent", "disk_free_gb", "service_state", "swim_log_bytes"} {
		if _, ok := host[key]; !ok {
			t.Fatalf("host response missing %s: %s", key, rec.Body.String())
		}
	}

	rec = do(e, "/db")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var db map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &db); err != nil {
		t.Fatalf("decode db: %v", err)
	}
	if db["ok"] != true || db["rowcount"] != float64(7) || db["last_timestamp"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected db body %v", db)
	}
}

func TestDBFailureStillReturns200(t *testing.T) {
	e := New(Options{
		Health:   fakeHealth{h: store.Health{Error: "connection refused"}},
		Service:  &fakeService{},
		Host:     fakeHost{},
		Registry: prometheus.NewRegistry(),
		Logger:   log.New(&bytes.Buffer{}, "", 0),
	})
	rec := do(e, "/db")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok":false`) || !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestControlRequiresToken(t *testing.T) {
	svc := &fakeService{ok: true}
	e := newTestServer(svc, "s3cret", 0)
	for _, target := range []string{"/restart", "/restart?token=wrong", "/stop?token="} {
		rec := do(e, target)
		if rec.Code != http.StatusForbidden || rec.Body.String() != "forbidden" {
			t.Fatalf("%s: unexpected response %d %q", target, rec.Code, rec.Body.String())
		}
	}
	if len(svc.actions) != 0 {
		t.Fatalf("service should not be touched, got %v", svc.actions)
	}
}

func TestControlForbiddenWithoutConfiguredToken(t *testing.T) {
	svc := &fakeService{ok: true}
	rec := do(newTestServer(svc, "", 0), "/start?token=anything")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestControlRunsAction(t *testing.T) {
	svc := &fakeService{ok: true}
	rec := do(newTestServer(svc, "s3cret", 0), "/restart?token=s3cret")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var resp ControlResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.Action != "restart" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(svc.actions) != 1 || svc.actions[0] != "restart" {
		t.Fatalf("unexpected actions %v", svc.actions)
	}
}

func TestControlFailureIs500(t *testing.T) {
	svc := &fakeService{ok: false, message: "Access denied"}
	rec := do(newTestServer(svc, "s3cret", 0), "/stop?token=s3cret")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	var resp ControlResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OK || resp.Message != "Access denied" || resp.Action != "stop" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestControlRateLimited(t *testing.T) {
	svc := &fakeService{ok: true}
	e := newTestServer(svc, "s3cret", 2)
	for i := 0; i < 2; i++ {
		if rec := do(e, "/start?token=s3cret"); rec.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200 got %d", i, rec.Code)
		}
	}
	rec := do(e, "/start?token=s3cret")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", rec.Code)
	}
	if len(svc.actions) != 2 {
		t.Fatalf("expected 2 actions, got %v", svc.actions)
	}
}

func TestUnknownPath(t *testing.T) {
	rec := do(newTestServer(&fakeService{}, "", 0), "/azure")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"error":"not found"}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestServer(&fakeService{}, "", 0)
	_ = do(e, "/healthz")
	rec := do(e, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `swimctl_http_requests_total{code="200",route="/healthz"} 1`) {
		t.Fatalf("request counter missing:\n%s", rec.Body.String())
	}
}
