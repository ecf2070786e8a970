package event

import (
	"fmt"
	"sync"
)

// IDAllocator hands out process-unique, monotonically increasing ids.
// It is owned by a Loop and created fresh with it, so test runs never
// share counter state.
type IDAllocator struct {
	mu     sync.Mutex
	counts map[string]int
	seq    int
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{counts: make(map[string]int)}
}

// NextID returns the next id for the given base name, e.g. "counter_3".
func (a *IDAllocator) NextID(base string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[base]++
	return fmt.Sprintf("%s_%d", base, a.counts[base])
}

// nextSeq returns a monotonic ordinal, used as the deterministic
// tie-break for reaction dispatch order.
func (a *IDAllocator) nextSeq() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return a.seq
}

// Reset restarts all counters.
func (a *IDAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts = make(map[string]int)
	a.seq = 0
}
