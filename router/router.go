// Package router implements prx's host/path matcher: it compiles a
// Config's routes into a deterministically ordered list of matchers
// and, for each inbound (host, path), picks the most specific match
// or falls back to the single optional default route.
package router

import (
	"sort"
	"strings"
)

// hostKind tags how a matcher's host pattern should be compared
// against an inbound Host header.
type hostKind int

const (
	hostAny hostKind = iota // no host restriction: matches everything
	hostExact
	hostWildcard // "*.suffix"
)

// Route is the router's opaque handle to whatever a caller's route
// representation is; Compile only needs the fields that affect
// matching and never needs to know about upstreams, LB policy, etc.
type Route struct {
	// Ref is returned verbatim by Match so callers can recover their
	// own route object (e.g. *config.Route or a fabric-internal
	// route handle) without the router needing to know its type.
	Ref interface{}

	Host       *string
	PathPrefix string
	IsDefault  bool
	// DeclIndex is the route's original declaration position, used
	// as the final, stable tie-break in ordering.
	DeclIndex int
}

type matcher struct {
	ref        interface{}
	kind       hostKind
	host       string // lowercased; exact host or wildcard suffix
	pathPrefix string
	declIndex  int
}

// Router is the compiled, immutable matcher list plus the optional
// default route. Build a new Router on every fabric rebuild; Router
// itself is safe for concurrent read-only use.
type Router struct {
	matchers []matcher
	fallback *matcher
}

// Compile builds a Router from an ordered list of Routes, ordering
// matchers by specificity:
//  1. host specificity: exact > wildcard > any
//  2. longer path_prefix wins
//  3. original declaration index (stable)
func Compile(routes []Route) *Router {
	r := &Router{}

	for _, rt := range routes {
		m := matcher{
			ref:        rt.Ref,
			pathPrefix: rt.PathPrefix,
			declIndex:  rt.DeclIndex,
		}
		switch {
		case rt.Host == nil:
			m.kind = hostAny
		case strings.HasPrefix(*rt.Host, "*."):
			m.kind = hostWildcard
			m.host = strings.ToLower(strings.TrimPrefix(*rt.Host, "*."))
		default:
			m.kind = hostExact
			m.host = strings.ToLower(*rt.Host)
		}

		if rt.IsDefault && r.fallback == nil {
			fb := m
			r.fallback = &fb
		}

		r.matchers = append(r.matchers, m)
	}

	sort.SliceStable(r.matchers, func(i, j int) bool {
		a, b := r.matchers[i], r.matchers[j]
		if a.kind != b.kind {
			// hostExact(1) > hostWildcard(2) > hostAny(0) in
			// specificity, but hostKind's numeric values are
			// declared any/exact/wildcard, so compare by an
			// explicit specificity rank rather than raw enum order.
			return specificity(a.kind) > specificity(b.kind)
		}
		if len(a.pathPrefix) != len(b.pathPrefix) {
			return len(a.pathPrefix) > len(b.pathPrefix)
		}
		return a.declIndex < b.declIndex
	})

	return r
}

func specificity(k hostKind) int {
	switch k {
	case hostExact:
		return 2
	case hostWildcard:
		return 1
	default:
		return 0
	}
}

// normalizeHost lowercases the host and strips any :port suffix.
func normalizeHost(host string) string {
	host = strings.ToLower(host)
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		// Guard against bracketed IPv6 literals without a port, which
		// contain colons but no port suffix: the last ':' is taken as
		// a port separator only when it comes after the last ']' (or
		// there is no ']'). An unbracketed IPv6 literal is cut at its
		// last ':'; net/http passes IPv6 literals in Host with
		// brackets.
		if j := strings.LastIndexByte(host, ']'); j < i {
			host = host[:i]
		}
	}
	return host
}

func (m matcher) hostMatches(host string) bool {
	switch m.kind {
	case hostAny:
		return true
	case hostExact:
		return host == m.host
	case hostWildcard:
		return host == m.host || strings.HasSuffix(host, "."+m.host)
	default:
		return false
	}
}

// Match returns the ref of the most specific matching route for
// (host, path), or the default route's ref if nothing else matched
// and the default's own host pattern also matches host, or
// (nil, false) if neither applies. The default route is not a
// host-agnostic catch-all: its host pattern (if any) still has to
// match, same as any other route's.
func (rt *Router) Match(host, path string) (interface{}, bool) {
	host = normalizeHost(host)

	for _, m := range rt.matchers {
		if m.hostMatches(host) && strings.HasPrefix(path, m.pathPrefix) {
			return m.ref, true
		}
	}

	if rt.fallback != nil && rt.fallback.hostMatches(host) {
		return rt.fallback.ref, true
	}
	return nil, false
}
