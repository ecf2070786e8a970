package event

import (
	"errors"
	"testing"

	"github.com/loomkit/loom/internal/testutil/testlog"
)

func TestNewEmitsInitialState(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, counterClass, Config{Values: map[string]any{"count": 3}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// A reaction attached after construction but before the next
	// iteration still sees the buffered initial events.
	var events []Event
	if _, err := c.React("watch", func(evs []Event) {
		events = append(events, evs...)
	}, "count"); err != nil {
		t.Fatalf("React: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	// One event for the default, one for the constructor value.
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].OldValue != 0 || events[0].NewValue != 0 {
		t.Fatalf("default event = %+v", events[0])
	}
	if events[1].OldValue != 0 || events[1].NewValue != 3 {
		t.Fatalf("value event = %+v", events[1])
	}
	if c.GetInt("count") != 3 {
		t.Fatalf("count = %d, want 3", c.GetInt("count"))
	}
}

func TestCaptureBufferRetires(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, counterClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	// After the first iteration the buffer is gone: late subscribers see
	// only new events.
	var events []Event
	if _, err := c.React("late", func(evs []Event) {
		events = append(events, evs...)
	}, "count"); err != nil {
		t.Fatalf("React: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("late subscriber replayed %d buffered events", len(events))
	}
}

func TestConstructorValueValidation(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	if _, err := New(loop, counterClass, Config{Values: map[string]any{"count": "abc"}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad constructor value: err = %v, want ErrValidation", err)
	}
	if _, err := New(loop, counterClass, Config{Values: map[string]any{"nope": 1}}); !errors.Is(err, ErrUnknownPropertyOrEvent) {
		t.Fatalf("unknown constructor value: err = %v", err)
	}

	roClass := NewClass("eventtest", "Fixed").
		Prop(Property{Name: "v", Kind: PropInt}).
		MustBuild()
	if _, err := New(loop, roClass, Config{Values: map[string]any{"v": 1}}); !errors.Is(err, ErrUnknownPropertyOrEvent) {
		t.Fatalf("non-settable constructor value: err = %v", err)
	}
}

func TestSynthesizedSetter(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, counterClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	if !counterClass.HasAction("set_count") {
		t.Fatalf("settable property did not synthesize a setter action")
	}
	if err := c.Set("count", "8"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}
	// Coerced through the property validator.
	if c.GetInt("count") != 8 {
		t.Fatalf("count = %d, want 8", c.GetInt("count"))
	}
}

func TestInvokeUnknownAction(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, counterClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Invoke("frobnicate"); !errors.Is(err, ErrUnknownPropertyOrEvent) {
		t.Fatalf("unknown action: err = %v", err)
	}
}

func TestEmitterSuppression(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	gateClass := NewClass("eventtest", "Gate").
		Emitter("passed", func(c *Component, args ...any) map[string]any {
			if len(args) == 1 && args[0] == false {
				return nil
			}
			return map[string]any{"who": args[0]}
		}).
		MustBuild()
	c, err := New(loop, gateClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	var events []Event
	if _, err := c.React("watch", func(evs []Event) {
		events = append(events, evs...)
	}, "passed"); err != nil {
		t.Fatalf("React: %v", err)
	}

	if err := c.Fire("passed", false); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if err := c.Fire("passed", "alice"); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (nil info suppresses)", len(events))
	}
	if events[0].Info["who"] != "alice" {
		t.Fatalf("info = %v", events[0].Info)
	}
}

func TestEmitRejectsLabeledType(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, counterClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Emit("foo:bar", nil); !errors.Is(err, ErrUnknownPropertyOrEvent) {
		t.Fatalf("labeled emit type: err = %v", err)
	}
}

func TestEventTypesAndSubscriptions(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, counterClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	types := c.EventTypes()
	if len(types) != 1 || types[0] != "count" {
		t.Fatalf("EventTypes = %v", types)
	}
	if got := c.SubscribedTypes(); len(got) != 0 {
		t.Fatalf("SubscribedTypes = %v, want empty", got)
	}

	r, err := c.React("watch", func([]Event) {}, "count")
	if err != nil {
		t.Fatalf("React: %v", err)
	}
	if got := c.SubscribedTypes(); len(got) != 1 || got[0] != "count" {
		t.Fatalf("SubscribedTypes = %v, want [count]", got)
	}
	if got := c.HandlersFor("count"); len(got) != 1 || got[0] != r {
		t.Fatalf("HandlersFor = %v", got)
	}

	r.Dispose()
	if got := c.SubscribedTypes(); len(got) != 0 {
		t.Fatalf("SubscribedTypes after dispose = %v", got)
	}
}

func TestDisposeIsIdempotentAndFinal(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, counterClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	var runs int
	if _, err := c.React("watch", func([]Event) { runs++ }, "count"); err != nil {
		t.Fatalf("React: %v", err)
	}

	// Queue work, then dispose before the iteration: the queued
	// invocation no-ops against the disposed flag.
	if err := c.Invoke("increment"); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	c.Dispose()
	c.Dispose()
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if runs != 0 {
		t.Fatalf("reaction ran %d times after dispose", runs)
	}
	if !c.Disposed() {
		t.Fatalf("Disposed() = false")
	}
	if err := c.Invoke("increment"); !errors.Is(err, ErrDisposed) {
		t.Fatalf("Invoke after dispose: err = %v", err)
	}
}

func TestDisposeHookRunsOnce(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	var hooks int
	c, err := New(loop, counterClass, Config{DisposeHook: func() { hooks++ }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Dispose()
	c.Dispose()
	if hooks != 1 {
		t.Fatalf("dispose hook ran %d times, want 1", hooks)
	}
}

func TestInitHookRunsWithActiveContext(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	var sawActive *Component
	initClass := NewClass("eventtest", "Nest").
		Init(func(c *Component) {
			sawActive = c.Loop().ActiveComponent()
		}).
		MustBuild()
	c, err := New(loop, initClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if sawActive != c {
		t.Fatalf("init hook did not see its component active")
	}
	if loop.ActiveComponent() != nil {
		t.Fatalf("active context leaked past construction")
	}
	if _, err := New(loop, initClass, Config{SkipInitHook: true}); err != nil {
		t.Fatalf("New: %v", err)
	}
	if sawActive != c {
		t.Fatalf("SkipInitHook still ran the init hook")
	}
}
