package event

import (
	"fmt"
	"reflect"
)

// canMutate: properties change only as a side effect of actions, during
// construction, or when applying an already-validated remote echo.
func (c *Component) canMutate() bool {
	return c.initializing || c.applyingRemote || c.loop.CanMutate()
}

func (c *Component) mutationProp(name string) (*Property, error) {
	p, ok := c.class.propIndex[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no property %q", ErrUnknownPropertyOrEvent, c.class.name, name)
	}
	if !c.canMutate() {
		return nil, fmt.Errorf("%w: %s.%s", ErrIllegalMutation, c.class.name, name)
	}
	return p, nil
}

// Mutate performs a "set" mutation: validate, compare, then store+emit or
// no-op. Equality is strict same-type-and-equal, never cross-type, with
// elementwise comparison for numeric buffers; setting a property to its
// current value emits nothing.
func (c *Component) Mutate(name string, value any) error {
	return c.mutateSet(name, value, true)
}

func (c *Component) mutateSet(name string, value any, validate bool) error {
	p, err := c.mutationProp(name)
	if err != nil {
		return err
	}
	if validate {
		if value, err = p.Validate(value); err != nil {
			return err
		}
	}
	old := c.values[name]
	if sameTypeEqual(old, value) {
		return nil
	}
	c.values[name] = value
	c.emitEvent(Event{
		Type: name, Source: c, Mutation: MutationSet,
		OldValue: old, NewValue: value,
	})
	return nil
}

// MutateInsert inserts objects into a sequence property at index. Partial
// mutations bypass whole-value validation and always emit.
func (c *Component) MutateInsert(name string, index int, objects []any) error {
	p, err := c.mutationProp(name)
	if err != nil {
		return err
	}
	seq, err := c.sequenceValue(p, index)
	if err != nil {
		return err
	}
	if index > len(seq) {
		return fmt.Errorf("%w: insert at %d past end of %s.%s (len %d)",
			ErrIndex, index, c.class.name, name, len(seq))
	}
	out := make([]any, 0, len(seq)+len(objects))
	out = append(out, seq[:index]...)
	out = append(out, objects...)
	out = append(out, seq[index:]...)
	c.values[name] = out
	c.emitPartial(name, MutationInsert, index, append([]any(nil), objects...), out)
	return nil
}

// MutateRemove removes count elements from a sequence property starting at
// index. The count is clamped to the available tail.
func (c *Component) MutateRemove(name string, index, count int) error {
	p, err := c.mutationProp(name)
	if err != nil {
		return err
	}
	seq, err := c.sequenceValue(p, index)
	if err != nil {
		return err
	}
	if index > len(seq) {
		index = len(seq)
	}
	if count < 0 || index+count > len(seq) {
		count = len(seq) - index
	}
	removed := append([]any(nil), seq[index:index+count]...)
	out := make([]any, 0, len(seq)-count)
	out = append(out, seq[:index]...)
	out = append(out, seq[index+count:]...)
	c.values[name] = out
	c.emitPartial(name, MutationRemove, index, removed, out)
	return nil
}

// MutateReplace overwrites elements of a sequence property starting at
// index, growing the sequence if the objects overrun its end. Numeric
// buffers do not take this path; see MutateRegion.
func (c *Component) MutateReplace(name string, index int, objects []any) error {
	p, err := c.mutationProp(name)
	if err != nil {
		return err
	}
	seq, err := c.sequenceValue(p, index)
	if err != nil {
		return err
	}
	n := index + len(objects)
	if n < len(seq) {
		n = len(seq)
	}
	out := make([]any, n)
	copy(out, seq)
	copy(out[index:], objects)
	c.values[name] = out
	c.emitPartial(name, MutationReplace, index, append([]any(nil), objects...), out)
	return nil
}

// MutateRegion replaces a region of a numeric-buffer property at a
// multi-dimensional offset. In-place resize of numeric buffers is
// unsupported, which is why insert/remove have no buffer variant.
func (c *Component) MutateRegion(name string, index []int, values *NumArray) error {
	p, err := c.mutationProp(name)
	if err != nil {
		return err
	}
	buf, ok := c.values[name].(*NumArray)
	if !ok || buf == nil {
		return fmt.Errorf("%w: %s.%s is not a numeric buffer", ErrValidation, c.class.name, p.Name)
	}
	if err := buf.replaceRegion(index, values); err != nil {
		return err
	}
	c.emitEvent(Event{
		Type: name, Source: c, Mutation: MutationReplace,
		NewValue: buf, Objects: []any{values}, Index: flatIndex(buf.Shape, index, make([]int, len(index))),
	})
	return nil
}

// sequenceValue fetches the stored sequence for a partial mutation and
// enforces the shared index contract (negative is always an error).
func (c *Component) sequenceValue(p *Property, index int) ([]any, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: negative index %d on %s.%s", ErrIndex, index, c.class.name, p.Name)
	}
	switch v := c.values[p.Name].(type) {
	case []any:
		return v, nil
	case *NumArray:
		return nil, fmt.Errorf("%w: in-place resize of numeric buffer %s.%s", ErrNotImplemented, c.class.name, p.Name)
	}
	return nil, fmt.Errorf("%w: %s.%s is not sequence-valued", ErrValidation, c.class.name, p.Name)
}

func (c *Component) emitPartial(name string, kind MutationKind, index int, objects []any, newValue []any) {
	c.emitEvent(Event{
		Type: name, Source: c, Mutation: kind,
		Objects: objects, Index: index, NewValue: newValue,
	})
}

// ApplyRemoteEvent applies an event echoed from the authoritative side.
// Property events are applied as mutations without re-validation (the
// authoritative side already validated); other events are re-emitted
// locally.
func (c *Component) ApplyRemoteEvent(ev Event) error {
	if !ev.IsProperty() {
		ev.Source = c
		c.emitEvent(ev)
		return nil
	}
	c.applyingRemote = true
	defer func() { c.applyingRemote = false }()
	switch ev.Mutation {
	case MutationSet:
		return c.mutateSet(ev.Type, ev.NewValue, false)
	case MutationInsert:
		return c.MutateInsert(ev.Type, ev.Index, ev.Objects)
	case MutationRemove:
		return c.MutateRemove(ev.Type, ev.Index, len(ev.Objects))
	case MutationReplace:
		if buf, ok := c.values[ev.Type].(*NumArray); ok && buf != nil {
			if len(ev.Objects) == 1 {
				if region, ok := ev.Objects[0].(*NumArray); ok {
					return c.MutateRegion(ev.Type, offsetFromFlat(buf.Shape, ev.Index), region)
				}
			}
			return fmt.Errorf("%w: malformed buffer replace echo for %s.%s", ErrValidation, c.class.name, ev.Type)
		}
		return c.MutateReplace(ev.Type, ev.Index, ev.Objects)
	}
	return fmt.Errorf("%w: unknown mutation kind %q", ErrNotImplemented, ev.Mutation)
}

// offsetFromFlat inverts flatIndex for region echo application.
func offsetFromFlat(shape []int, flat int) []int {
	out := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] > 0 {
			out[i] = flat % shape[i]
			flat /= shape[i]
		}
	}
	return out
}

// sameTypeEqual implements the strict comparison used by set mutations:
// values are equal only when they have the identical dynamic type and
// equal contents. This deliberately rejects cross-type aliasing (0 vs
// false) that would suppress legitimate emits.
func sameTypeEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	na, aok := a.(*NumArray)
	nb, bok := b.(*NumArray)
	if aok || bok {
		return aok && bok && na.Equal(nb)
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}
