// Package fabric assembles the immutable RuntimeFabric: a compiled
// Router plus, per route, a load-balancer engine and one breaker cell
// per upstream. Building a fabric never mutates any other fabric, so
// the Reload Supervisor (reload.go) can publish a freshly built one
// atomically without ever exposing a half-updated state to request
// handlers.
package fabric

import (
	"fmt"

	"prx/breaker"
	"prx/config"
	"prx/loadbalancer"
	"prx/router"
)

// RouteState is everything the request handler needs to serve one
// route: the route's own config (for retry/backoff/name), its LB
// engine, and one breaker cell per upstream (indices line up with
// Route.Upstreams).
type RouteState struct {
	Route    config.Route
	LB       *loadbalancer.Engine
	Breakers []*breaker.Cell
}

// UpstreamAt returns the upstream config and its breaker cell for the
// given index, as chosen by the route's LB engine.
func (rs *RouteState) UpstreamAt(idx int) (config.Upstream, *breaker.Cell) {
	return rs.Route.Upstreams[idx], rs.Breakers[idx]
}

// Available reports whether at least one of the route's upstreams has
// a non-open breaker.
func (rs *RouteState) Available() bool {
	for _, b := range rs.Breakers {
		if !b.IsOpen() {
			return true
		}
	}
	return false
}

// RuntimeFabric is the opaque, immutable bundle that serves live
// traffic between two reloads. Build a new one per reload; never
// mutate one in place.
type RuntimeFabric struct {
	cfg    *config.Config
	router *router.Router
	routes []*RouteState // indexed by declaration order (config.Route.Index())
}

// Config returns the Config this fabric was built from, e.g. for the
// admin API's GET /web/config.
func (f *RuntimeFabric) Config() *config.Config { return f.cfg }

// Match routes an inbound (host, path) to a RouteState, mirroring
// router.Router.Match's contract: ok is false only on "no match, no
// default".
func (f *RuntimeFabric) Match(host, path string) (*RouteState, bool) {
	ref, ok := f.router.Match(host, path)
	if !ok {
		return nil, false
	}
	return ref.(*RouteState), true
}

// AllRoutesAvailable implements the fabric-wide readiness conjunction:
// ready iff every route has at least one non-open upstream breaker.
func (f *RuntimeFabric) AllRoutesAvailable() bool {
	for _, rs := range f.routes {
		if !rs.Available() {
			return false
		}
	}
	return true
}

// RouteSnapshot is a read-only view of one route's current breaker
// state.
type RouteSnapshot struct {
	RouteIndex int
	Name       string
	Host       *string
	PathPrefix string
	Upstreams  []config.Upstream
	Open       []bool // parallel to Upstreams
}

// Routes returns a stable snapshot of every route's declared
// upstreams and current breaker state, in declaration order.
func (f *RuntimeFabric) Routes() []RouteSnapshot {
	out := make([]RouteSnapshot, len(f.routes))
	for i, rs := range f.routes {
		open := make([]bool, len(rs.Breakers))
		for j, b := range rs.Breakers {
			open[j] = b.IsOpen()
		}
		out[i] = RouteSnapshot{
			RouteIndex: rs.Route.Index(),
			Name:       rs.Route.Name,
			Host:       rs.Route.Host,
			PathPrefix: rs.Route.PathPrefix,
			Upstreams:  rs.Route.Upstreams,
			Open:       open,
		}
	}
	return out
}

// Build compiles a validated Config into a RuntimeFabric. Callers
// must run config.Validate first; Build does not re-validate, it only
// normalizes (idempotently) so fields like SNI defaults are filled.
func Build(cfg *config.Config) (*RuntimeFabric, error) {
	config.Normalize(cfg)

	f := &RuntimeFabric{cfg: cfg}
	var routerRoutes []router.Route

	for _, r := range cfg.Routes {
		rs := &RouteState{Route: r}

		policy := breaker.Policy{
			Enabled:             r.CircuitBreaker.Enabled,
			ConsecutiveFailures: r.CircuitBreaker.ConsecutiveFailures,
			OpenMs:              r.CircuitBreaker.OpenMs,
		}
		rs.Breakers = make([]*breaker.Cell, len(r.Upstreams))
		lbUpstreams := make([]loadbalancer.Upstream, len(r.Upstreams))
		for i, u := range r.Upstreams {
			cell := breaker.NewCell(policy)
			rs.Breakers[i] = cell
			lbUpstreams[i] = loadbalancer.Upstream{Weight: u.Weight, Breaker: cell}
		}
		rs.LB = loadbalancer.New(loadbalancer.Strategy(r.LB), lbUpstreams)

		f.routes = append(f.routes, rs)
		routerRoutes = append(routerRoutes, router.Route{
			Ref:        rs,
			Host:       r.Host,
			PathPrefix: r.PathPrefix,
			IsDefault:  r.IsDefault,
			DeclIndex:  r.Index(),
		})
	}

	f.router = router.Compile(routerRoutes)

	if len(f.routes) == 0 {
		return nil, fmt.Errorf("fabric: config has no routes")
	}
	return f, nil
}
