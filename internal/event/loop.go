package event

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

type actionInvocation struct {
	comp *Component
	name string
	fn   ActionFunc
	args []any
}

// pendingReaction is one scheduled reaction invocation: the reaction, a
// representative event used for enqueue-time consolidation (nil once the
// accumulated batch became heterogeneous), and the batch itself.
type pendingReaction struct {
	r      *Reaction
	rep    *Event
	events []Event
}

type propAccess struct {
	comp *Component
	name string
}

// Loop is the cooperative scheduler. One iteration drains three phases in
// order: plain callbacks, action invocations, reaction invocations. Work
// enqueued during an iteration runs in the next one; there is no re-entrant
// draining.
//
// The queues may be fed from any goroutine (e.g. timers), guarded by a
// single lock. Draining is single-threaded: a second concurrent Iter fails
// fast with ErrLoopBusy.
type Loop struct {
	mu        sync.Mutex
	callLater func(func())
	scheduled bool
	draining  atomic.Bool

	ids   *IDAllocator
	leaks *leakRegistry

	pendingCalls     []func()
	pendingActions   []actionInvocation
	pendingReactions []*pendingReaction
	pendingImplicit  map[int]struct{}

	// Single-thread execution state, only touched by the draining
	// goroutine (or during synchronous construction).
	processingAction bool
	activeStack      []*Component
	recording        bool
	accessOrder      []propAccess
	accessSeen       map[*Component]map[string]bool
}

func NewLoop() *Loop {
	return &Loop{
		ids:             NewIDAllocator(),
		leaks:           newLeakRegistry(),
		pendingImplicit: make(map[int]struct{}),
	}
}

// IDs exposes the loop's id allocator.
func (l *Loop) IDs() *IDAllocator { return l.ids }

// Integrate supplies the host's "schedule a callback" primitive so the
// loop can piggyback on an existing event loop instead of being driven by
// manual Iter calls. An initial iteration is scheduled right away.
func (l *Loop) Integrate(callLater func(func())) {
	l.mu.Lock()
	l.callLater = callLater
	l.scheduled = true
	l.mu.Unlock()
	callLater(l.iterLogged)
}

// CallLater queues a plain callback for the next iteration.
func (l *Loop) CallLater(f func()) {
	l.mu.Lock()
	l.pendingCalls = append(l.pendingCalls, f)
	l.mu.Unlock()
	l.wake()
}

// AddActionInvocation queues one action call. Each queued action runs to
// completion before the next starts.
func (l *Loop) AddActionInvocation(c *Component, name string, fn ActionFunc, args []any) {
	l.mu.Lock()
	l.pendingActions = append(l.pendingActions, actionInvocation{comp: c, name: name, fn: fn, args: args})
	l.mu.Unlock()
	l.wake()
}

// AddReactionEvent queues ev for r, consolidating at enqueue time:
// contiguous same-reaction tail entries merge into one invocation with an
// accumulated batch, and implicit reactions collapse to at most one
// invocation per iteration regardless of how many watched properties
// changed.
func (l *Loop) AddReactionEvent(r *Reaction, ev Event) {
	l.mu.Lock()
	if r.explicit() {
		i := len(l.pendingReactions)
		for i > 0 {
			i--
			pr := l.pendingReactions[i]
			if pr.r == r {
				pr.events = append(pr.events, ev)
				if pr.rep == nil || pr.rep.Source != ev.Source || pr.rep.Type != ev.Type {
					pr.rep = nil
				}
				l.mu.Unlock()
				l.wake()
				return
			}
			// Stop at the first entry that does not match this event;
			// consolidating past it would reorder dispatch.
			if pr.rep == nil || pr.rep.Source != ev.Source || pr.rep.Type != ev.Type {
				break
			}
		}
	} else {
		if _, queued := l.pendingImplicit[r.seq]; queued {
			l.mu.Unlock()
			return
		}
		l.pendingImplicit[r.seq] = struct{}{}
	}
	pr := &pendingReaction{r: r, rep: &ev}
	if r.explicit() {
		pr.events = []Event{ev}
	}
	l.pendingReactions = append(l.pendingReactions, pr)
	l.mu.Unlock()
	l.wake()
}

func (l *Loop) wake() {
	l.mu.Lock()
	if l.scheduled || l.callLater == nil {
		l.mu.Unlock()
		return
	}
	l.scheduled = true
	cb := l.callLater
	l.mu.Unlock()
	cb(l.iterLogged)
}

func (l *Loop) iterLogged() {
	if err := l.Iter(); err != nil {
		log.Warn().Err(err).Msg("loop iteration rejected")
	}
}

// Iter runs one iteration: callbacks, then actions, then reactions.
// Errors and panics inside queued work are caught and logged; one bad
// entry never aborts its siblings.
func (l *Loop) Iter() error {
	if !l.draining.CompareAndSwap(false, true) {
		return ErrLoopBusy
	}
	defer l.draining.Store(false)

	l.mu.Lock()
	l.scheduled = false
	calls := l.pendingCalls
	l.pendingCalls = nil
	actions := l.pendingActions
	l.pendingActions = nil
	l.mu.Unlock()

	for _, f := range calls {
		l.runCall(f)
	}
	for i := range actions {
		l.runAction(&actions[i])
	}

	// Reactions queued by the actions above; reactions themselves may
	// enqueue more work, which lands in the next iteration.
	l.mu.Lock()
	reactions := l.pendingReactions
	l.pendingReactions = nil
	l.pendingImplicit = make(map[int]struct{})
	l.mu.Unlock()

	for _, pr := range reactions {
		l.runReaction(pr)
	}
	return nil
}

func (l *Loop) runCall(f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Msg("queued callback panicked")
		}
	}()
	f()
}

func (l *Loop) runAction(a *actionInvocation) {
	defer func() {
		l.processingAction = false
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("action", a.name).Msg("action panicked")
		}
	}()
	l.processingAction = true
	if err := a.fn(a.comp, a.args...); err != nil {
		logger := log.Error().Err(err).Str("action", a.name)
		if a.comp != nil {
			logger = logger.Str("component", a.comp.ID())
		}
		logger.Msg("action failed")
	}
}

func (l *Loop) runReaction(pr *pendingReaction) {
	r := pr.r
	if r.isDisposed() {
		return
	}
	events := pr.events
	if r.explicit() {
		events = r.filterEvents(events)
		if len(events) == 0 {
			return
		}
	}
	l.invokeTracked(r, events)
}

// invokeTracked runs the reaction with property-read recording enabled
// and, for implicit reactions, replaces the dependency set with whatever
// was read during this invocation.
func (l *Loop) invokeTracked(r *Reaction, events []Event) {
	l.beginAccessRecording()
	defer func() {
		pairs := l.endAccessRecording()
		if p := recover(); p != nil {
			log.Error().Any("panic", p).Str("reaction", r.name).Msg("reaction panicked")
		}
		if !r.explicit() {
			r.updateImplicitConnections(pairs)
		}
	}()
	r.invoke(events)
}

func (l *Loop) beginAccessRecording() {
	l.recording = true
	l.accessOrder = nil
	l.accessSeen = make(map[*Component]map[string]bool)
}

func (l *Loop) endAccessRecording() []propAccess {
	pairs := l.accessOrder
	l.recording = false
	l.accessOrder = nil
	l.accessSeen = nil
	return pairs
}

// registerPropAccess records a property read during a reaction invocation.
func (l *Loop) registerPropAccess(c *Component, name string) {
	if !l.recording {
		return
	}
	seen := l.accessSeen[c]
	if seen == nil {
		seen = make(map[string]bool)
		l.accessSeen[c] = seen
	}
	if seen[name] {
		return
	}
	seen[name] = true
	l.accessOrder = append(l.accessOrder, propAccess{comp: c, name: name})
}

// CanMutate reports whether an action invocation is currently being
// processed, i.e. whether property mutation is legal right now.
func (l *Loop) CanMutate() bool { return l.processingAction }

func (l *Loop) pushActive(c *Component) {
	l.activeStack = append(l.activeStack, c)
}

func (l *Loop) popActive() {
	if n := len(l.activeStack); n > 0 {
		l.activeStack = l.activeStack[:n-1]
	}
}

// ActiveComponent returns the innermost component currently running its
// init hook, or nil.
func (l *Loop) ActiveComponent() *Component {
	if n := len(l.activeStack); n > 0 {
		return l.activeStack[n-1]
	}
	return nil
}

// ActiveComponents returns the current active-component stack, outermost
// first.
func (l *Loop) ActiveComponents() []*Component {
	out := make([]*Component, len(l.activeStack))
	copy(out, l.activeStack)
	return out
}

// WithActive runs fn with the given components pushed onto the active
// stack, outermost first, restoring the stack afterwards. Used when
// reconstructing an instantiation context that originated elsewhere.
func (l *Loop) WithActive(comps []*Component, fn func()) {
	for _, c := range comps {
		l.pushActive(c)
	}
	defer func() {
		for range comps {
			l.popActive()
		}
	}()
	fn()
}

// scheduleActiveCheck arms the advisory re-entrancy diagnostic: by the
// next iteration every active context should have exited. Best effort,
// never load-bearing.
func (l *Loop) scheduleActiveCheck() {
	l.CallLater(func() {
		if n := len(l.activeStack); n > 0 {
			log.Warn().Int("depth", n).Str("component", l.activeStack[n-1].ID()).
				Msg("active component context still open; nested construction may have corrupted dependency tracking")
		}
	})
}
