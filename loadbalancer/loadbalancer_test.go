package loadbalancer

import "testing"

type fakeBreaker struct{ open bool }

func (f *fakeBreaker) IsOpen() bool { return f.open }

func upstreams(weights ...int) []Upstream {
	us := make([]Upstream, len(weights))
	for i, w := range weights {
		us[i] = Upstream{Weight: w, Breaker: &fakeBreaker{}}
	}
	return us
}

func TestRoundRobinCyclesAndSkipsTried(t *testing.T) {
	e := New(RoundRobin, upstreams(1, 1, 1))
	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		idx, ok := e.Pick(nil, "")
		if !ok {
			t.Fatal("expected a pick")
		}
		seen[idx] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected round robin to eventually hit all upstreams, saw %v", seen)
	}

	idx, ok := e.Pick([]int{0, 1, 2}, "")
	if ok {
		t.Fatalf("expected no eligible upstream when all tried, got %d", idx)
	}
}

func TestRoundRobinSkipsOpenBreaker(t *testing.T) {
	us := upstreams(1, 1, 1)
	us[1].Breaker.(*fakeBreaker).open = true
	e := New(RoundRobin, us)
	for i := 0; i < 10; i++ {
		idx, ok := e.Pick(nil, "")
		if !ok {
			t.Fatal("expected pick")
		}
		if idx == 1 {
			t.Fatal("should never pick an open-breaker upstream")
		}
	}
}

func TestRandomPicksOnlyEligible(t *testing.T) {
	us := upstreams(1, 1)
	us[0].Breaker.(*fakeBreaker).open = true
	e := New(Random, us)
	for i := 0; i < 20; i++ {
		idx, ok := e.Pick(nil, "")
		if !ok || idx != 1 {
			t.Fatalf("expected only upstream 1 eligible, got %d, %v", idx, ok)
		}
	}
}

func TestHashIsDeterministicPerKey(t *testing.T) {
	e := New(Hash, upstreams(1, 1, 1))
	first, _ := e.Pick(nil, "/v1/widgets")
	for i := 0; i < 10; i++ {
		idx, _ := e.Pick(nil, "/v1/widgets")
		if idx != first {
			t.Fatalf("expected same key to hash to same upstream, got %d vs %d", idx, first)
		}
	}
}

func TestHashHonorsWeights(t *testing.T) {
	// heavily weight upstream 0; across many distinct keys it should
	// be picked much more often than a weight-1 peer.
	e := New(Hash, upstreams(99, 1))
	counts := map[int]int{}
	for i := 0; i < 2000; i++ {
		key := string(rune('a' + i%26))
		key += string(rune('A' + (i/26)%26))
		idx, _ := e.Pick(nil, key)
		counts[idx]++
	}
	if counts[0] < counts[1]*5 {
		t.Fatalf("expected weighted hash to favor upstream 0, got counts %v", counts)
	}
}

func TestEmptyEligibleSetReturnsFalse(t *testing.T) {
	us := upstreams(1)
	us[0].Breaker.(*fakeBreaker).open = true
	e := New(RoundRobin, us)
	if _, ok := e.Pick(nil, ""); ok {
		t.Fatal("expected no eligible upstream")
	}
}

func TestNoUpstreamAppearsTwiceAcrossTriedGrowth(t *testing.T) {
	e := New(RoundRobin, upstreams(1, 1, 1))
	var tried []int
	for i := 0; i < 3; i++ {
		idx, ok := e.Pick(tried, "")
		if !ok {
			t.Fatalf("expected pick at attempt %d", i)
		}
		for _, t2 := range tried {
			if t2 == idx {
				t.Fatalf("upstream %d picked twice", idx)
			}
		}
		tried = append(tried, idx)
	}
	if _, ok := e.Pick(tried, ""); ok {
		t.Fatal("expected exhaustion after trying every upstream")
	}
}
