package event

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

type handlerEntry struct {
	label string
	r     *Reaction
}

// Config carries per-instance construction options. The hooks are how the
// mirroring layer intercepts the kernel without the kernel knowing about
// process boundaries.
type Config struct {
	// ID overrides the allocator-assigned id (used when binding to a
	// remotely assigned identity).
	ID string
	// Values are explicit constructor values for settable properties,
	// applied after declared defaults, in name order.
	Values map[string]any
	// SilentInit stores defaults without emitting and ignores Values.
	// Mirror instances use this: they never produce state themselves but
	// wait for the authoritative echo.
	SilentInit bool
	// SkipInitHook suppresses the class init hook (mirror instances).
	SkipInitHook bool

	// EmitHook observes every emitted event after local dispatch.
	EmitHook func(Event)
	// HandlersChangedHook observes changes to the set of event types that
	// currently have subscribers.
	HandlersChangedHook func(types []string)
	// InvokeHook, when set, replaces local action execution entirely
	// (mirror instances forward instead of executing).
	InvokeHook func(name string, args []any) error
	// DisposeHook runs once, after internal disposal completed.
	DisposeHook func()
}

// Component is the base reactive object: validated property storage, an
// ordered subscriber registry per event type, and a lifecycle from New to
// Dispose. All mutation goes through the action pipeline.
type Component struct {
	loop  *Loop
	class *Class
	id    string

	values   map[string]any
	handlers map[string][]handlerEntry

	// pendingEvents captures events emitted before reactions are wired so
	// late subscribers still see the initial property-set events. Nil once
	// retired on the first iteration after construction.
	pendingEvents map[string][]Event

	ownReactions []*Reaction

	disposed       bool
	initializing   bool
	applyingRemote bool

	emitHook            func(Event)
	handlersChangedHook func([]string)
	invokeHook          func(string, []any) error
	disposeHook         func()
}

// New constructs a component of the given class on the given loop.
// Lifecycle: defaults, then explicit values (both in name order), then the
// init hook with the component marked active, then reaction resolution
// with implicit reactions force-invoked once. Events emitted along the way
// are captured and replayed to reactions attached before the next
// iteration.
func New(loop *Loop, class *Class, cfg Config) (*Component, error) {
	if loop == nil || class == nil {
		return nil, fmt.Errorf("event: component needs a loop and a class")
	}
	id := cfg.ID
	if id == "" {
		id = loop.ids.NextID(strings.ToLower(class.name))
	}
	c := &Component{
		loop:                loop,
		class:               class,
		id:                  id,
		values:              make(map[string]any, len(class.props)),
		handlers:            make(map[string][]handlerEntry),
		pendingEvents:       make(map[string][]Event),
		emitHook:            cfg.EmitHook,
		handlersChangedHook: cfg.HandlersChangedHook,
		invokeHook:          cfg.InvokeHook,
		disposeHook:         cfg.DisposeHook,
	}
	for name := range class.emitters {
		c.handlers[name] = nil
	}
	for _, p := range class.props {
		c.handlers[p.Name] = nil
	}

	c.initializing = true
	defer func() { c.initializing = false }()

	// Pass 1: declared defaults, sorted declaration order.
	for _, p := range class.props {
		v, err := p.defaultValue()
		if err != nil {
			return nil, fmt.Errorf("default for %s.%s: %w", class.name, p.Name, err)
		}
		c.values[p.Name] = v
		if !cfg.SilentInit {
			c.emitEvent(Event{
				Type: p.Name, Source: c, Mutation: MutationSet,
				OldValue: v, NewValue: v,
			})
		}
	}

	// Pass 2: explicit constructor values, name order.
	if !cfg.SilentInit && len(cfg.Values) > 0 {
		names := make([]string, 0, len(cfg.Values))
		for name := range cfg.Values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p, ok := class.propIndex[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s has no property %q", ErrUnknownPropertyOrEvent, class.name, name)
			}
			if !p.Settable {
				return nil, fmt.Errorf("%w: %s.%s is not settable", ErrUnknownPropertyOrEvent, class.name, name)
			}
			if err := c.mutateSet(name, cfg.Values[name], true); err != nil {
				return nil, err
			}
		}
	}

	if class.init != nil && !cfg.SkipInitHook {
		loop.pushActive(c)
		class.init(c)
		loop.popActive()
		loop.scheduleActiveCheck()
	}

	// Resolve declared reactions; implicit ones run once now to seed
	// their dependency set.
	for _, spec := range class.reactions {
		if _, err := c.attachReaction(spec.name, spec.fn, spec.connections); err != nil {
			return nil, err
		}
	}

	loop.CallLater(c.retireCaptureBuffer)
	loop.leaks.add(c)
	return c, nil
}

func (c *Component) retireCaptureBuffer() {
	c.pendingEvents = nil
}

// ID returns the process-unique component id.
func (c *Component) ID() string { return c.id }

// Class returns the shared class declaration.
func (c *Component) Class() *Class { return c.class }

// Loop returns the scheduler this component lives on.
func (c *Component) Loop() *Loop { return c.loop }

// Disposed reports whether Dispose has run. The flag is monotonic.
func (c *Component) Disposed() bool { return c.disposed }

// Lookup returns the current validated value of a property. Reads during
// a reaction invocation are recorded for implicit dependency tracking.
func (c *Component) Lookup(name string) (any, bool) {
	if _, ok := c.class.propIndex[name]; !ok {
		return nil, false
	}
	c.loop.registerPropAccess(c, name)
	return c.values[name], true
}

// Get is Lookup for names known to exist; a typo is a programmer error
// and panics with an ErrUnknownPropertyOrEvent-wrapped error.
func (c *Component) Get(name string) any {
	v, ok := c.Lookup(name)
	if !ok {
		panic(fmt.Errorf("%w: %s has no property %q", ErrUnknownPropertyOrEvent, c.class.name, name))
	}
	return v
}

// GetBool returns a bool property.
func (c *Component) GetBool(name string) bool { b, _ := c.Get(name).(bool); return b }

// GetInt returns an int property.
func (c *Component) GetInt(name string) int { n, _ := c.Get(name).(int); return n }

// GetFloat returns a float property.
func (c *Component) GetFloat(name string) float64 { f, _ := c.Get(name).(float64); return f }

// GetString returns a string property.
func (c *Component) GetString(name string) string { s, _ := c.Get(name).(string); return s }

// GetList returns a list property.
func (c *Component) GetList(name string) []any { l, _ := c.Get(name).([]any); return l }

// Invoke queues the named action for the next iteration and returns
// immediately. On mirror instances the call is forwarded across the
// process boundary instead.
func (c *Component) Invoke(name string, args ...any) error {
	if c.disposed {
		return fmt.Errorf("%w: %s", ErrDisposed, c.id)
	}
	if c.invokeHook != nil {
		return c.invokeHook(name, args)
	}
	spec, ok := c.class.actions[name]
	if !ok {
		return fmt.Errorf("%w: %s has no action %q", ErrUnknownPropertyOrEvent, c.class.name, name)
	}
	c.loop.AddActionInvocation(c, name, spec.fn, args)
	return nil
}

// Set invokes the synthesized setter action for a settable property.
func (c *Component) Set(name string, value any) error {
	return c.Invoke("set_"+name, value)
}

// Fire runs the named emitter and emits the event it produces; a nil
// attribute map suppresses the emit.
func (c *Component) Fire(name string, args ...any) error {
	spec, ok := c.class.emitters[name]
	if !ok {
		return fmt.Errorf("%w: %s has no emitter %q", ErrUnknownPropertyOrEvent, c.class.name, name)
	}
	if info := spec.fn(c, args...); info != nil {
		_, err := c.Emit(name, info)
		return err
	}
	return nil
}

// Emit generates an event of the given type and dispatches it to all
// subscribed reactions. The type must not include a label.
func (c *Component) Emit(typ string, info map[string]any) (Event, error) {
	if strings.Contains(typ, ":") {
		return Event{}, fmt.Errorf("%w: emit type %q must not include a label", ErrUnknownPropertyOrEvent, typ)
	}
	ev := Event{Type: typ, Source: c, Info: info}
	c.emitEvent(ev)
	return ev, nil
}

// emitEvent appends to the capture buffer and dispatches. The mirror hook
// runs after local dispatch so forwarding never observes half-dispatched
// state.
func (c *Component) emitEvent(ev Event) {
	if c.pendingEvents != nil {
		c.pendingEvents[ev.Type] = append(c.pendingEvents[ev.Type], ev)
	}
	entries := c.handlers[ev.Type]
	if len(entries) > 0 {
		// Reconnects mutate the registry mid-dispatch; iterate a copy.
		snapshot := make([]handlerEntry, len(entries))
		copy(snapshot, entries)
		for _, e := range snapshot {
			if strings.HasPrefix(e.label, reconnectPrefix) {
				e.r.reconnect(e.label)
				continue
			}
			c.loop.AddReactionEvent(e.r, ev)
		}
	}
	if c.emitHook != nil {
		c.emitHook(ev)
	}
}

// registerReaction subscribes r to an event type under a label. Unknown
// event types are a likely typo and are warned about unless force (the
// "!" prefix) was given. Buffered construction-time events are replayed to
// the new subscriber.
func (c *Component) registerReaction(typ, label string, r *Reaction, force bool) {
	entries, known := c.handlers[typ]
	if !known && !force {
		log.Warn().Str("component", c.id).Str("type", typ).
			Msgf("event type %q does not exist; use \"!%s\" to suppress this warning", typ, typ)
	}
	for _, e := range entries {
		if e.label == label && e.r == r {
			return
		}
	}
	entries = append(entries, handlerEntry{label: label, r: r})
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].label != entries[j].label {
			return entries[i].label < entries[j].label
		}
		return entries[i].r.seq < entries[j].r.seq
	})
	c.handlers[typ] = entries
	c.handlersChanged()

	if c.pendingEvents != nil && !strings.HasPrefix(label, reconnectPrefix) {
		for _, ev := range c.pendingEvents[typ] {
			c.loop.AddReactionEvent(r, ev)
		}
	}
}

// disconnect removes subscriptions for a type. Empty label or nil
// reaction act as wildcards.
func (c *Component) disconnect(typ, label string, r *Reaction) {
	entries := c.handlers[typ]
	kept := entries[:0]
	for _, e := range entries {
		if (label == "" || label == e.label) && (r == nil || r == e.r) {
			continue
		}
		kept = append(kept, e)
	}
	c.handlers[typ] = kept
	c.handlersChanged()
}

func (c *Component) handlersChanged() {
	if c.handlersChangedHook != nil {
		c.handlersChangedHook(c.SubscribedTypes())
	}
}

// EventTypes returns all known event types: properties, emitters, and
// anything subscribers registered for. Sorted.
func (c *Component) EventTypes() []string {
	types := make([]string, 0, len(c.handlers))
	for typ := range c.handlers {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}

// SubscribedTypes returns the event types that currently have at least
// one real (non-reconnect) subscriber. Sorted.
func (c *Component) SubscribedTypes() []string {
	var types []string
	for typ, entries := range c.handlers {
		for _, e := range entries {
			if !strings.HasPrefix(e.label, reconnectPrefix) {
				types = append(types, typ)
				break
			}
		}
	}
	sort.Strings(types)
	return types
}

// HandlersFor returns the reactions subscribed to a type, in dispatch
// order.
func (c *Component) HandlersFor(typ string) []*Reaction {
	entries := c.handlers[typ]
	out := make([]*Reaction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.r)
	}
	return out
}

// React attaches an explicit reaction to this component. The connection
// strings are resolved now; an unresolvable path is a configuration error.
func (c *Component) React(name string, fn func(events []Event), connections ...string) (*Reaction, error) {
	if len(connections) == 0 {
		return nil, fmt.Errorf("%w: explicit reaction %q needs connection strings", ErrUnresolvableConnection, name)
	}
	return c.attachReaction(name, func(_ *Component, events []Event) { fn(events) }, connections)
}

// ReactAuto attaches an implicit reaction: it is invoked once now to seed
// its dependency set and re-runs whenever a property it read changes.
func (c *Component) ReactAuto(name string, fn func(events []Event)) (*Reaction, error) {
	return c.attachReaction(name, func(_ *Component, events []Event) { fn(events) }, nil)
}

func (c *Component) attachReaction(name string, fn BoundReactionFunc, connections []string) (*Reaction, error) {
	r, err := newReaction(c.loop, c, name, fn, connections)
	if err != nil {
		return nil, err
	}
	c.ownReactions = append(c.ownReactions, r)
	return r, nil
}

// Dispose tears the component down: every subscription it is a source of
// is unregistered, every subscription it holds elsewhere is detached, and
// its own reactions are disposed. Idempotent; already-queued invocations
// referencing this component no-op against the disposed flag.
func (c *Component) Dispose() {
	if c.disposed {
		return
	}
	c.disposed = true
	log.Debug().Str("component", c.id).Msg("disposing component")
	for typ, entries := range c.handlers {
		for _, e := range entries {
			e.r.clearComponentRefs(c)
		}
		c.handlers[typ] = nil
	}
	for _, r := range c.ownReactions {
		r.Dispose()
	}
	c.ownReactions = nil
	c.pendingEvents = nil
	c.loop.leaks.remove(c)
	if c.disposeHook != nil {
		c.disposeHook()
	}
}
