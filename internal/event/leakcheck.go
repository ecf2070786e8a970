package event

import (
	"sort"
	"sync"
)

// leakRegistry tracks undisposed components. Disposal is explicit in this
// runtime (no finalizer magic), so tests assert the registry is empty at
// teardown to catch ownership bugs.
type leakRegistry struct {
	mu   sync.Mutex
	live map[*Component]string
}

func newLeakRegistry() *leakRegistry {
	return &leakRegistry{live: make(map[*Component]string)}
}

func (r *leakRegistry) add(c *Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[c] = c.ID()
}

func (r *leakRegistry) remove(c *Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, c)
}

// Undisposed returns the ids of components created on this loop that have
// not been disposed, sorted for stable test output.
func (l *Loop) Undisposed() []string {
	l.leaks.mu.Lock()
	defer l.leaks.mu.Unlock()
	out := make([]string, 0, len(l.leaks.live))
	for _, id := range l.leaks.live {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
