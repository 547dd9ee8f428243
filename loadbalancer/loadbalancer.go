// Package loadbalancer implements prx's per-route upstream selection:
// round-robin, random, and weighted-hash strategies over a route's
// upstream set, skipping already-tried and open-circuit upstreams.
package loadbalancer

import (
	"math/rand"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// BreakerView is the minimal read used to decide eligibility; the
// fabric wires breaker.Cell.IsOpen into this.
type BreakerView interface {
	IsOpen() bool
}

// Upstream is one selectable candidate: its weight (used only by the
// hash strategy) and a view of its breaker. Its index is its position
// in the slice passed to New.
type Upstream struct {
	Weight  int
	Breaker BreakerView
}

// Strategy names a selection algorithm.
type Strategy string

const (
	RoundRobin Strategy = "round_robin"
	Random     Strategy = "random"
	Hash       Strategy = "hash"
)

// Engine is one route's load balancer: it holds the route's upstream
// list and any strategy-specific state (e.g. the round-robin
// counter). One Engine is built per route per fabric build and lives
// for that fabric's lifetime.
type Engine struct {
	strategy  Strategy
	upstreams []Upstream
	counter   uint64 // round_robin cursor; atomically incremented
}

// New builds a selection engine for a route's upstream set.
func New(strategy Strategy, upstreams []Upstream) *Engine {
	if strategy == "" {
		strategy = RoundRobin
	}
	return &Engine{strategy: strategy, upstreams: upstreams}
}

// eligible returns the indices of upstreams that are not in tried and
// whose breaker is currently closed.
func (e *Engine) eligible(tried []int) []int {
	skip := make(map[int]struct{}, len(tried))
	for _, t := range tried {
		skip[t] = struct{}{}
	}

	var out []int
	for i, u := range e.upstreams {
		if _, done := skip[i]; done {
			continue
		}
		if u.Breaker != nil && u.Breaker.IsOpen() {
			continue
		}
		out = append(out, i)
	}
	return out
}

// Pick returns the next upstream index to try given the set already
// attempted on this request, or (0, false) if the eligible set is
// empty. key is used only by the hash strategy.
func (e *Engine) Pick(tried []int, key string) (int, bool) {
	eligible := e.eligible(tried)
	if len(eligible) == 0 {
		return 0, false
	}

	switch e.strategy {
	case Random:
		return eligible[rand.Intn(len(eligible))], true

	case Hash:
		return e.pickWeightedHash(eligible, key), true

	default: // RoundRobin
		n := atomic.AddUint64(&e.counter, 1) - 1
		idx := int(n % uint64(len(eligible)))
		return eligible[idx], true
	}
}

// pickWeightedHash computes a 64-bit hash of key and maps it onto a
// weighted slice layout over the eligible set: each eligible upstream
// i occupies a contiguous slice of size weight_i within the total
// eligible weight, in original declaration order.
func (e *Engine) pickWeightedHash(eligible []int, key string) int {
	totalWeight := 0
	for _, idx := range eligible {
		totalWeight += effectiveWeight(e.upstreams[idx].Weight)
	}
	if totalWeight <= 0 {
		return eligible[0]
	}

	h := xxhash.Sum64String(key)
	target := int(h % uint64(totalWeight))

	cursor := 0
	for _, idx := range eligible {
		cursor += effectiveWeight(e.upstreams[idx].Weight)
		if target < cursor {
			return idx
		}
	}
	// unreachable given the modulo above, but keep Pick total.
	return eligible[len(eligible)-1]
}

func effectiveWeight(w int) int {
	if w <= 0 {
		return 1
	}
	return w
}
