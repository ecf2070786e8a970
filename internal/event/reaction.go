package event

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// reconnectPrefix labels the internal subscriptions a reaction holds on
// intermediate path properties; an event under such a label triggers
// re-resolution of that connection instead of an invocation.
const reconnectPrefix = "reconnect_"

type subscription struct {
	comp  *Component
	typ   string
	label string
}

// Reaction is a subscription that re-runs in response to events. Explicit
// reactions resolve declared connection strings into concrete
// (component, type, label) subscriptions; implicit reactions track
// whatever properties they read during their last invocation, forming a
// self-adjusting dataflow graph.
type Reaction struct {
	seq   int
	name  string
	loop  *Loop
	owner *Component
	fn    BoundReactionFunc

	conns        []connection
	subs         [][]subscription
	implicitSubs []subscription

	disposed bool
}

func newReaction(loop *Loop, owner *Component, name string, fn BoundReactionFunc, connectionStrings []string) (*Reaction, error) {
	r := &Reaction{
		seq:   loop.ids.nextSeq(),
		name:  name,
		loop:  loop,
		owner: owner,
		fn:    fn,
	}
	for _, raw := range connectionStrings {
		conn, err := parseConnection(raw)
		if err != nil {
			return nil, err
		}
		if conn.label == "" {
			conn.label = name
		}
		r.conns = append(r.conns, conn)
	}
	r.subs = make([][]subscription, len(r.conns))
	for i := range r.conns {
		if err := r.resolve(i); err != nil {
			r.Dispose()
			return nil, err
		}
	}
	if !r.explicit() {
		// Seed the dependency set with one eager invocation.
		loop.invokeTracked(r, nil)
	}
	return r, nil
}

// Name returns the reaction's name, which doubles as its default label.
func (r *Reaction) Name() string { return r.name }

func (r *Reaction) explicit() bool { return len(r.conns) > 0 }

func (r *Reaction) isDisposed() bool { return r.disposed }

func (r *Reaction) invoke(events []Event) {
	r.fn(r.owner, events)
}

// resolve walks connection i's path from the owning component and
// subscribes to every leaf, plus reconnect watchers on each intermediate
// property so container changes re-resolve the tail.
func (r *Reaction) resolve(i int) error {
	conn := r.conns[i]
	r.unsubscribe(i)
	if r.owner == nil {
		return fmt.Errorf("%w: %q: free-standing reaction cannot resolve paths", ErrUnresolvableConnection, conn.raw)
	}
	comps := []*Component{r.owner}
	var subs []subscription
	keep := func(s subscription) {
		subs = append(subs, s)
		r.subs[i] = subs
	}
	for _, seg := range conn.segments {
		var next []*Component
		for _, comp := range comps {
			lbl := reconnectPrefix + strconv.Itoa(i)
			comp.registerReaction(seg.name, lbl, r, true)
			keep(subscription{comp: comp, typ: seg.name, label: lbl})
			v, ok := comp.Lookup(seg.name)
			if !ok {
				return fmt.Errorf("%w: %q: %s has no property %q",
					ErrUnresolvableConnection, conn.raw, comp.class.name, seg.name)
			}
			if seg.wildcard {
				list, ok := v.([]any)
				if !ok {
					return fmt.Errorf("%w: %q: %s.%s is not a container",
						ErrUnresolvableConnection, conn.raw, comp.class.name, seg.name)
				}
				for _, el := range list {
					if sub, ok := el.(*Component); ok && sub != nil {
						next = append(next, sub)
					}
				}
			} else {
				sub, ok := v.(*Component)
				if !ok {
					return fmt.Errorf("%w: %q: %s.%s is not component-valued",
						ErrUnresolvableConnection, conn.raw, comp.class.name, seg.name)
				}
				if sub != nil {
					next = append(next, sub)
				}
			}
		}
		comps = next
	}
	for _, comp := range comps {
		comp.registerReaction(conn.typ, conn.label, r, conn.force)
		keep(subscription{comp: comp, typ: conn.typ, label: conn.label})
	}
	return nil
}

// reconnect re-resolves one connection after an intermediate property
// changed. Transiently broken paths are logged, not fatal; they heal on
// the next container change.
func (r *Reaction) reconnect(label string) {
	if r.disposed {
		return
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(label, reconnectPrefix))
	if err != nil || idx < 0 || idx >= len(r.conns) {
		return
	}
	if err := r.resolve(idx); err != nil {
		log.Warn().Err(err).Str("reaction", r.name).Msg("reconnect failed")
	}
}

func (r *Reaction) unsubscribe(i int) {
	for _, sub := range r.subs[i] {
		if !sub.comp.Disposed() {
			sub.comp.disconnect(sub.typ, sub.label, r)
		}
	}
	r.subs[i] = nil
}

// filterEvents keeps only the events matching this explicit reaction's
// current leaf subscriptions.
func (r *Reaction) filterEvents(events []Event) []Event {
	out := events[:0]
	for _, ev := range events {
		if r.matches(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Reaction) matches(ev Event) bool {
	for _, subs := range r.subs {
		for _, sub := range subs {
			if sub.comp == ev.Source && sub.typ == ev.Type &&
				!strings.HasPrefix(sub.label, reconnectPrefix) {
				return true
			}
		}
	}
	return false
}

// updateImplicitConnections replaces the dependency set with the
// properties read during the most recent invocation: stale dependencies
// drop, new ones attach.
func (r *Reaction) updateImplicitConnections(reads []propAccess) {
	for _, sub := range r.implicitSubs {
		if !sub.comp.Disposed() {
			sub.comp.disconnect(sub.typ, sub.label, r)
		}
	}
	r.implicitSubs = nil
	if r.disposed {
		return
	}
	for _, pa := range reads {
		if pa.comp.Disposed() {
			continue
		}
		pa.comp.registerReaction(pa.name, r.name, r, true)
		r.implicitSubs = append(r.implicitSubs, subscription{comp: pa.comp, typ: pa.name, label: r.name})
	}
}

// clearComponentRefs drops every subscription held on a component that is
// disposing; the component clears its own registry side.
func (r *Reaction) clearComponentRefs(c *Component) {
	for i, subs := range r.subs {
		kept := subs[:0]
		for _, sub := range subs {
			if sub.comp != c {
				kept = append(kept, sub)
			}
		}
		r.subs[i] = kept
	}
	kept := r.implicitSubs[:0]
	for _, sub := range r.implicitSubs {
		if sub.comp != c {
			kept = append(kept, sub)
		}
	}
	r.implicitSubs = kept
}

// Dispose detaches the reaction from every component it subscribes to.
// Idempotent; queued invocations check the flag and no-op.
func (r *Reaction) Dispose() {
	if r.disposed {
		return
	}
	r.disposed = true
	for i := range r.subs {
		r.unsubscribe(i)
	}
	stale := r.implicitSubs
	r.implicitSubs = nil
	for _, sub := range stale {
		if !sub.comp.Disposed() {
			sub.comp.disconnect(sub.typ, sub.label, r)
		}
	}
}
