// Package breaker implements a passive, per-(route, upstream) circuit
// breaker cell. Each Cell is a tiny lock-free state machine: Closed
// with a failure count, or Open until a deadline. State fits in a
// single uint64 so reads and writes are single atomic operations on
// the request hot path.
package breaker

import (
	"sync/atomic"
	"time"
)

// state bit layout: bit 63 is the open flag; the low 63 bits hold
// either the consecutive failure count (closed) or the absolute
// deadline as wall-clock Unix milliseconds (open).
const openFlag uint64 = 1 << 63

// Policy configures a Cell's trip/reset thresholds. A disabled policy
// makes every Cell on it a permanent no-op closed state.
type Policy struct {
	Enabled             bool
	ConsecutiveFailures int
	OpenMs              int
}

// Cell is one breaker state machine. The zero value is a valid,
// permanently-closed cell (matching a disabled policy).
type Cell struct {
	policy Policy
	state  uint64 // packed; see openFlag
	now    func() time.Time
}

// NewCell creates a breaker cell for the given policy. All cells
// start Closed with a zero failure count.
func NewCell(policy Policy) *Cell {
	return &Cell{policy: policy, now: time.Now}
}

// nowMs returns the current wall-clock time as Unix milliseconds; open
// deadlines are stored on the same scale. It is not a monotonic
// reading: a step of the system clock shifts every open window by the
// same amount.
func (c *Cell) nowMs() int64 {
	return c.now().UnixMilli()
}

// OnSuccess forces the cell back to Closed{0}. A no-op if the policy
// is disabled.
func (c *Cell) OnSuccess() {
	if !c.policy.Enabled {
		return
	}
	atomic.StoreUint64(&c.state, 0)
}

// OnFailure increments the failure count; once it reaches
// ConsecutiveFailures the cell opens for OpenMs and the count resets
// to zero. A no-op if the policy is disabled.
func (c *Cell) OnFailure() {
	if !c.policy.Enabled {
		return
	}
	for {
		old := atomic.LoadUint64(&c.state)
		// An in-progress Open window is not affected by a failure;
		// it will naturally decay to Closed{0} on the next read past
		// its deadline.
		if old&openFlag != 0 {
			return
		}

		count := int(old) + 1
		var next uint64
		if count >= c.policy.ConsecutiveFailures {
			deadline := c.nowMs() + int64(c.policy.OpenMs)
			next = openFlag | uint64(deadline)
		} else {
			next = uint64(count)
		}

		if atomic.CompareAndSwapUint64(&c.state, old, next) {
			return
		}
	}
}

// IsOpen reports whether the cell is currently open, lazily
// half-opening (resetting to Closed{0}) a cell whose deadline has
// passed. This is the read the load balancer uses to build its
// eligible set, and the read the readiness signal uses.
func (c *Cell) IsOpen() bool {
	for {
		old := atomic.LoadUint64(&c.state)
		if old&openFlag == 0 {
			return false
		}
		deadline := int64(old &^ openFlag)
		if c.nowMs() < deadline {
			return true
		}
		// deadline has passed: lazily half-open by resetting to
		// Closed{0}; a concurrent winner of the CAS race is fine,
		// either way the cell ends up closed.
		if atomic.CompareAndSwapUint64(&c.state, old, 0) {
			return false
		}
	}
}
