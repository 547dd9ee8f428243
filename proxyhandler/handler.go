package proxyhandler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"prx/fabric"
	"prx/logging"
)

// ErrNoRoute is the classification behind a 404 no_route response:
// nothing matched and there was no default route.
var ErrNoRoute = errors.New("no_route")

// ErrNoUpstreamAvailable is the classification behind a 502
// no_upstream_available response: the eligible set was already empty
// on the very first attempt.
var ErrNoUpstreamAvailable = errors.New("no_upstream_available")

// Handler implements the front layer's short-circuits (health/ready)
// and the routing -> LB -> transport -> retry loop.
type Handler struct {
	Supervisor *fabric.Supervisor
	Dialer     Dialer
	AccessLog  bool
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f := h.Supervisor.Current()
	cfg := f.Config()

	switch r.URL.Path {
	case cfg.Server.HealthPath:
		h.serveHealth(w)
		return
	case cfg.Server.ReadyPath:
		h.serveReady(w, f)
		return
	}

	h.proxy(w, r, f)
}

// serveHealth is a pure liveness probe: it must never touch the
// fabric.
func (h *Handler) serveHealth(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) serveReady(w http.ResponseWriter, f *fabric.RuntimeFabric) {
	if f.AllRoutesAvailable() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not_ready"))
}

func (h *Handler) proxy(w http.ResponseWriter, r *http.Request, f *fabric.RuntimeFabric) {
	rs, ok := f.Match(r.Host, r.URL.Path)
	if !ok {
		http.Error(w, ErrNoRoute.Error(), http.StatusNotFound)
		return
	}

	key := r.URL.Path
	var tried []int
	var lastErr error

	maxAttempts := 1 + rs.Route.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		idx, ok := rs.LB.Pick(tried, key)
		if !ok {
			if attempt == 0 {
				lastErr = ErrNoUpstreamAvailable
			}
			break
		}

		if attempt > 0 && rs.Route.RetryBackoffMs > 0 {
			time.Sleep(time.Duration(rs.Route.RetryBackoffMs) * time.Millisecond)
		}

		upstream, cell := rs.UpstreamAt(idx)

		outReq := r.Clone(r.Context())
		outReq.Host = upstream.SNI
		outReq.Header.Set("Host", upstream.SNI)

		resp, err := h.Dialer.RoundTrip(outReq, upstream)
		if err != nil {
			cell.OnFailure()
			tried = append(tried, idx)
			lastErr = err
			logging.L().Warn("upstream attempt failed",
				zap.String("route", rs.Route.Name),
				zap.String("addr", upstream.Addr),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		cell.OnSuccess()
		h.writeResponse(w, resp)
		return
	}

	h.writeFailure(w, lastErr)
}

func (h *Handler) writeResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	dst := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoUpstreamAvailable):
		http.Error(w, ErrNoUpstreamAvailable.Error(), http.StatusBadGateway)
	case err == nil:
		http.Error(w, "no_upstream_available", http.StatusBadGateway)
	default:
		http.Error(w, "upstream request failed", http.StatusBadGateway)
	}
}
