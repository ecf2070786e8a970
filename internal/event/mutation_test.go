package event

import (
	"errors"
	"testing"

	"github.com/loomkit/loom/internal/testutil/testlog"
)

// mutClass runs arbitrary mutation closures through the action pipeline.
var mutClass = NewClass("eventtest", "Basket").
	Prop(Property{Name: "items", Kind: PropList, Settable: true}).
	Prop(Property{Name: "count", Kind: PropInt, Settable: true}).
	Prop(Property{Name: "grid", Kind: PropNumArray}).
	Action("apply", func(c *Component, args ...any) error {
		return args[0].(func(*Component) error)(c)
	}).
	MustBuild()

func applySync(t *testing.T, c *Component, fn func(*Component) error) {
	t.Helper()
	var got error
	if err := c.Invoke("apply", func(c *Component) error {
		got = fn(c)
		return nil
	}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if err := c.Loop().Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if got != nil {
		t.Fatalf("mutation failed: %v", got)
	}
}

func applyExpectErr(t *testing.T, c *Component, want error, fn func(*Component) error) {
	t.Helper()
	var got error
	if err := c.Invoke("apply", func(c *Component) error {
		got = fn(c)
		return nil
	}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if err := c.Loop().Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if !errors.Is(got, want) {
		t.Fatalf("mutation error = %v, want %v", got, want)
	}
}

func TestMutateOutsideActionRejected(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, mutClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if err := c.Mutate("count", 3); !errors.Is(err, ErrIllegalMutation) {
		t.Fatalf("Mutate outside action: err = %v, want ErrIllegalMutation", err)
	}
	if err := c.MutateInsert("items", 0, []any{1}); !errors.Is(err, ErrIllegalMutation) {
		t.Fatalf("MutateInsert outside action: err = %v", err)
	}
}

func TestMutateSetSameValueEmitsNothing(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, mutClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	var events []Event
	if _, err := c.React("watch", func(evs []Event) {
		events = append(events, evs...)
	}, "count"); err != nil {
		t.Fatalf("React: %v", err)
	}

	applySync(t, c, func(c *Component) error { return c.Mutate("count", 0) })
	if len(events) != 0 {
		t.Fatalf("setting a property to its current value emitted %d events", len(events))
	}

	applySync(t, c, func(c *Component) error { return c.Mutate("count", 5) })
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Mutation != MutationSet || ev.OldValue != 0 || ev.NewValue != 5 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestMutateSetCrossTypeNeverEqual(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	anyClass := NewClass("eventtest", "Holder").
		Prop(Property{Name: "v", Kind: PropAny, Default: 0}).
		Action("apply", func(c *Component, args ...any) error {
			return args[0].(func(*Component) error)(c)
		}).
		MustBuild()
	c, err := New(loop, anyClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	var events []Event
	if _, err := c.React("watch", func(evs []Event) {
		events = append(events, evs...)
	}, "v"); err != nil {
		t.Fatalf("React: %v", err)
	}

	// 0 (int) to false (bool) is a change even though both are "zero".
	applySync(t, c, func(c *Component) error { return c.Mutate("v", false) })
	if len(events) != 1 {
		t.Fatalf("cross-type set suppressed, got %d events", len(events))
	}
}

func TestSequenceMutations(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, mutClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	check := func(want ...any) {
		t.Helper()
		got := c.GetList("items")
		if len(got) != len(want) {
			t.Fatalf("items = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("items = %v, want %v", got, want)
			}
		}
	}

	applySync(t, c, func(c *Component) error { return c.MutateInsert("items", 0, []any{5, 6}) })
	applySync(t, c, func(c *Component) error { return c.MutateInsert("items", 0, []any{1, 2}) })
	applySync(t, c, func(c *Component) error { return c.MutateInsert("items", 2, []any{3, 4}) })
	applySync(t, c, func(c *Component) error { return c.MutateInsert("items", 6, []any{7, 8}) })
	check(1, 2, 3, 4, 5, 6, 7, 8)

	applySync(t, c, func(c *Component) error { return c.MutateReplace("items", 3, []any{44, 55, 66}) })
	check(1, 2, 3, 44, 55, 66, 7, 8)

	applySync(t, c, func(c *Component) error { return c.MutateRemove("items", 3, 3) })
	check(1, 2, 3, 7, 8)
}

func TestSequenceMutationAlwaysEmits(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, mutClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	var events []Event
	if _, err := c.React("watch", func(evs []Event) {
		events = append(events, evs...)
	}, "items"); err != nil {
		t.Fatalf("React: %v", err)
	}

	// Empty insert is still a mutation event; partial mutations never
	// take the equality short-circuit.
	applySync(t, c, func(c *Component) error { return c.MutateInsert("items", 0, nil) })
	if len(events) != 1 {
		t.Fatalf("empty insert emitted %d events, want 1", len(events))
	}
	if events[0].Mutation != MutationInsert || events[0].Index != 0 {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestSequenceMutationIndexContract(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, mutClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	applyExpectErr(t, c, ErrIndex, func(c *Component) error {
		return c.MutateInsert("items", -1, []any{1})
	})
	applyExpectErr(t, c, ErrIndex, func(c *Component) error {
		return c.MutateInsert("items", 1, []any{1})
	})
	applyExpectErr(t, c, ErrIndex, func(c *Component) error {
		return c.MutateRemove("items", -2, 1)
	})
	// Remove past the end clamps instead of failing.
	applySync(t, c, func(c *Component) error { return c.MutateInsert("items", 0, []any{1, 2}) })
	applySync(t, c, func(c *Component) error { return c.MutateRemove("items", 1, 100) })
	if got := c.GetList("items"); len(got) != 1 || got[0] != 1 {
		t.Fatalf("items = %v, want [1]", got)
	}
}

func TestNumArrayRegionReplace(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, mutClass, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	grid := NewNumArray(3, 3)
	applySync(t, c, func(c *Component) error { return c.Mutate("grid", grid) })

	region := &NumArray{Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}}
	applySync(t, c, func(c *Component) error { return c.MutateRegion("grid", []int{1, 1}, region) })

	got := c.Get("grid").(*NumArray)
	want := []float64{0, 0, 0, 0, 1, 2, 0, 3, 4}
	for i, v := range want {
		if got.Data[i] != v {
			t.Fatalf("grid data = %v, want %v", got.Data, want)
		}
	}

	// Out-of-bounds region and in-place resize both fail loudly.
	applyExpectErr(t, c, ErrIndex, func(c *Component) error {
		return c.MutateRegion("grid", []int{2, 2}, region)
	})
	applyExpectErr(t, c, ErrNotImplemented, func(c *Component) error {
		return c.MutateInsert("grid", 0, []any{1.0})
	})
}

func TestApplyRemoteEventSkipsValidation(t *testing.T) {
	testlog.Start(t)

	loop := NewLoop()
	c, err := New(loop, mutClass, Config{SilentInit: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}

	var events []Event
	if _, err := c.React("watch", func(evs []Event) {
		events = append(events, evs...)
	}, "count"); err != nil {
		t.Fatalf("React: %v", err)
	}

	// Echoes apply outside the action pipeline and without validation.
	if err := c.ApplyRemoteEvent(Event{Type: "count", Mutation: MutationSet, NewValue: 7}); err != nil {
		t.Fatalf("ApplyRemoteEvent: %v", err)
	}
	if err := loop.Iter(); err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if c.GetInt("count") != 7 {
		t.Fatalf("count = %d, want 7", c.GetInt("count"))
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
}
