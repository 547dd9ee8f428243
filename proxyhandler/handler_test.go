package proxyhandler

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"prx/config"
	"prx/fabric"
)

// scriptedDialer fails for upstreams whose addr is in down, otherwise
// returns a 200 with a body naming the addr it served.
type scriptedDialer struct {
	down  map[string]bool
	calls int32
}

func (d *scriptedDialer) RoundTrip(req *http.Request, upstream config.Upstream) (*http.Response, error) {
	atomic.AddInt32(&d.calls, 1)
	if d.down[upstream.Addr] {
		return nil, fmt.Errorf("connection refused")
	}
	body := io.NopCloser(strings.NewReader("served-by:" + upstream.Addr))
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       body,
	}, nil
}

func supervisorFromTOML(t *testing.T, toml string) *fabric.Supervisor {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "Prx.toml")
	if err := os.WriteFile(path, []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	sup, err := fabric.NewSupervisor(path)
	if err != nil {
		t.Fatal(err)
	}
	return sup
}

func TestHealthAndReadyShortCircuit(t *testing.T) {
	sup := supervisorFromTOML(t, `
[server]
health_path = "/healthz"
ready_path = "/readyz"

[[route]]
name = "r"
path_prefix = "/"
is_default = true

  [[route.upstream]]
  addr = "10.0.0.1:9000"
`)
	h := &Handler{Supervisor: sup, Dialer: &scriptedDialer{}}

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest("GET", "/readyz", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready 200, got %d", rec.Code)
	}
}

func TestNoRouteReturns404(t *testing.T) {
	sup := supervisorFromTOML(t, `
[server]
health_path = "/healthz"
ready_path = "/readyz"

[[route]]
name = "r"
host = "api.example.com"
path_prefix = "/"

  [[route.upstream]]
  addr = "10.0.0.1:9000"
`)
	h := &Handler{Supervisor: sup, Dialer: &scriptedDialer{}}
	req := httptest.NewRequest("GET", "/whatever", nil)
	req.Host = "unrelated.com"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRetryFailsOverToSecondUpstream(t *testing.T) {
	sup := supervisorFromTOML(t, `
[server]
health_path = "/healthz"
ready_path = "/readyz"

[[route]]
name = "r"
path_prefix = "/"
is_default = true
max_retries = 1
retry_backoff_ms = 0

  [[route.upstream]]
  addr = "10.0.0.1:9000"

  [[route.upstream]]
  addr = "10.0.0.2:9000"
`)
	dialer := &scriptedDialer{down: map[string]bool{"10.0.0.1:9000": true}}
	h := &Handler{Supervisor: sup, Dialer: dialer}

	req := httptest.NewRequest("GET", "/x", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after failover, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "served-by:10.0.0.2:9000" {
		t.Fatalf("expected failover to second upstream, got %q", rec.Body.String())
	}
	if dialer.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", dialer.calls)
	}
}

func TestAllUpstreamsDownReturns502(t *testing.T) {
	sup := supervisorFromTOML(t, `
[server]
health_path = "/healthz"
ready_path = "/readyz"

[[route]]
name = "r"
path_prefix = "/"
is_default = true
max_retries = 1

  [[route.upstream]]
  addr = "10.0.0.1:9000"

  [[route.upstream]]
  addr = "10.0.0.2:9000"
`)
	dialer := &scriptedDialer{down: map[string]bool{"10.0.0.1:9000": true, "10.0.0.2:9000": true}}
	h := &Handler{Supervisor: sup, Dialer: dialer}

	req := httptest.NewRequest("GET", "/x", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if dialer.calls != 2 {
		t.Fatalf("expected attempts bounded by 1+max_retries=2, got %d", dialer.calls)
	}
}

func TestReadyReflectsOpenBreaker(t *testing.T) {
	sup := supervisorFromTOML(t, `
[server]
health_path = "/healthz"
ready_path = "/readyz"

[[route]]
name = "r"
path_prefix = "/"
is_default = true
max_retries = 0

  [route.circuit_breaker]
  enabled = true
  consecutive_failures = 1
  open_ms = 60000

  [[route.upstream]]
  addr = "10.0.0.1:9000"
`)
	dialer := &scriptedDialer{down: map[string]bool{"10.0.0.1:9000": true}}
	h := &Handler{Supervisor: sup, Dialer: dialer}

	req := httptest.NewRequest("GET", "/x", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on first failure, got %d", rec.Code)
	}

	readyReq := httptest.NewRequest("GET", "/readyz", nil)
	readyRec := httptest.NewRecorder()
	h.ServeHTTP(readyRec, readyReq)
	if readyRec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 once sole upstream's breaker is open, got %d", readyRec.Code)
	}
}
