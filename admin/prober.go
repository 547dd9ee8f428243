package admin

import (
	"context"
	"net"
	"sync"
	"time"

	"prx/config"
)

// UpstreamHealth is one upstream's probe result.
type UpstreamHealth struct {
	Addr      string  `json:"addr"`
	TimeoutMs int     `json:"timeout_ms"`
	Healthy   bool    `json:"healthy"`
	LatencyMs *int64  `json:"latency_ms,omitempty"`
	Error     *string `json:"error,omitempty"`
}

// RouteHealth is one route's aggregate probe result.
type RouteHealth struct {
	RouteIndex         int              `json:"route_index"`
	Name               string           `json:"name"`
	Host               *string          `json:"host"`
	PathPrefix         string           `json:"path_prefix"`
	Healthy            bool             `json:"healthy"`
	ReachableUpstreams int              `json:"reachable_upstreams"`
	TotalUpstreams     int              `json:"total_upstreams"`
	Upstreams          []UpstreamHealth `json:"upstreams"`
}

// HealthReport is the full GET/POST /web/health/routes response body.
type HealthReport struct {
	CheckedAtEpochMs int64         `json:"checked_at_epoch_ms"`
	TimeoutMs        int           `json:"timeout_ms"`
	InstanceID       string        `json:"instance_id,omitempty"`
	Routes           []RouteHealth `json:"routes"`
}

// Prober probes a candidate config's upstreams and reports reachability.
type Prober interface {
	Probe(ctx context.Context, cfg *config.Config, timeoutMs int) HealthReport
}

// TCPProber probes upstreams with a plain TCP connect attempt, which
// is sufficient to answer "is anything listening" without speaking
// the upstream's application protocol.
type TCPProber struct {
	Now func() time.Time
}

func (p TCPProber) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p TCPProber) Probe(ctx context.Context, cfg *config.Config, timeoutMs int) HealthReport {
	checkedAt := p.now()
	timeout := time.Duration(timeoutMs) * time.Millisecond

	routes := make([]RouteHealth, len(cfg.Routes))
	var wg sync.WaitGroup

	for i, r := range cfg.Routes {
		rh := RouteHealth{
			RouteIndex:     r.Index(),
			Name:           r.Name,
			Host:           r.Host,
			PathPrefix:     r.PathPrefix,
			TotalUpstreams: len(r.Upstreams),
			Upstreams:      make([]UpstreamHealth, len(r.Upstreams)),
		}
		routes[i] = rh

		for j, u := range r.Upstreams {
			wg.Add(1)
			go func(routeIdx, upIdx int, upstream config.Upstream) {
				defer wg.Done()
				routes[routeIdx].Upstreams[upIdx] = probeOne(ctx, upstream, timeout, timeoutMs)
			}(i, j, u)
		}
	}

	wg.Wait()

	for i := range routes {
		reachable := 0
		for _, uh := range routes[i].Upstreams {
			if uh.Healthy {
				reachable++
			}
		}
		routes[i].ReachableUpstreams = reachable
		routes[i].Healthy = reachable == routes[i].TotalUpstreams
	}

	return HealthReport{
		CheckedAtEpochMs: checkedAt.UnixMilli(),
		TimeoutMs:        timeoutMs,
		Routes:           routes,
	}
}

func probeOne(ctx context.Context, u config.Upstream, timeout time.Duration, timeoutMs int) UpstreamHealth {
	start := time.Now()
	d := net.Dialer{Timeout: timeout}

	conn, err := d.DialContext(ctx, "tcp", u.Addr)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		msg := err.Error()
		return UpstreamHealth{Addr: u.Addr, TimeoutMs: timeoutMs, Healthy: false, Error: &msg}
	}
	_ = conn.Close()
	return UpstreamHealth{Addr: u.Addr, TimeoutMs: timeoutMs, Healthy: true, LatencyMs: &latency}
}
