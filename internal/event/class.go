package event

import (
	"fmt"
	"sort"
)

// ActionFunc is the body of an action. Actions are the only sanctioned way
// to mutate properties; they run to completion on the loop, never
// interleaved. A returned error is logged by the loop, not propagated.
type ActionFunc func(c *Component, args ...any) error

// BoundReactionFunc is the body of a class-declared reaction. Explicit
// reactions receive the batch of events matching their connections;
// implicit reactions receive whatever batch triggered them and are
// expected to re-read the properties they care about.
type BoundReactionFunc func(c *Component, events []Event)

// EmitterFunc turns emitter-call arguments into the event attribute map.
// Returning nil suppresses the emit.
type EmitterFunc func(c *Component, args ...any) map[string]any

// InitFunc runs after property initialization with the component marked
// active, so nested declarations self-register against it.
type InitFunc func(c *Component)

type actionSpec struct {
	name string
	fn   ActionFunc
}

type reactionSpec struct {
	name        string
	fn          BoundReactionFunc
	connections []string // empty means implicit/auto-tracking
}

type emitterSpec struct {
	name string
	fn   EmitterFunc
}

// Class is the finalized declaration summary for a component type:
// sorted property, action, reaction and emitter descriptors. It replaces
// runtime reflection over attributes with an explicit build step; one
// Class is shared by all its instances.
type Class struct {
	module string
	name   string

	props     []*Property
	propIndex map[string]*Property
	actions   map[string]*actionSpec
	reactions []*reactionSpec
	emitters  map[string]*emitterSpec
	init      InitFunc
}

// ClassBuilder accumulates declarations for one component type.
// Declarations may arrive in any order; Build sorts them by name so
// initialization and dispatch are deterministic.
type ClassBuilder struct {
	class *Class
	err   error
}

// NewClass starts a class definition. Module and name address the class
// across the process boundary (INSTANTIATE carries both).
func NewClass(module, name string) *ClassBuilder {
	return &ClassBuilder{class: &Class{
		module:    module,
		name:      name,
		propIndex: make(map[string]*Property),
		actions:   make(map[string]*actionSpec),
		emitters:  make(map[string]*emitterSpec),
	}}
}

func (b *ClassBuilder) fail(format string, args ...any) *ClassBuilder {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
	return b
}

// Prop declares a property. Settable properties synthesize a public
// "set_<name>" action wrapping the mutator.
func (b *ClassBuilder) Prop(p Property) *ClassBuilder {
	if p.Name == "" {
		return b.fail("class %s: property with empty name", b.class.name)
	}
	if _, dup := b.class.propIndex[p.Name]; dup {
		return b.fail("class %s: duplicate property %q", b.class.name, p.Name)
	}
	cp := p
	b.class.props = append(b.class.props, &cp)
	b.class.propIndex[p.Name] = &cp
	return b
}

// Action declares a named action.
func (b *ClassBuilder) Action(name string, fn ActionFunc) *ClassBuilder {
	if name == "" || fn == nil {
		return b.fail("class %s: action needs a name and a body", b.class.name)
	}
	if _, dup := b.class.actions[name]; dup {
		return b.fail("class %s: duplicate action %q", b.class.name, name)
	}
	b.class.actions[name] = &actionSpec{name: name, fn: fn}
	return b
}

// Reaction declares an explicit reaction bound to one or more connection
// strings. Resolution happens per instance at construction.
func (b *ClassBuilder) Reaction(name string, fn BoundReactionFunc, connections ...string) *ClassBuilder {
	if name == "" || fn == nil {
		return b.fail("class %s: reaction needs a name and a body", b.class.name)
	}
	if len(connections) == 0 {
		return b.fail("class %s: reaction %q needs connection strings; use AutoReaction", b.class.name, name)
	}
	b.class.reactions = append(b.class.reactions,
		&reactionSpec{name: name, fn: fn, connections: connections})
	return b
}

// AutoReaction declares an implicit reaction: no connection strings, it
// tracks whatever properties it reads and re-runs when any of them change.
func (b *ClassBuilder) AutoReaction(name string, fn BoundReactionFunc) *ClassBuilder {
	if name == "" || fn == nil {
		return b.fail("class %s: reaction needs a name and a body", b.class.name)
	}
	b.class.reactions = append(b.class.reactions, &reactionSpec{name: name, fn: fn})
	return b
}

// Emitter declares an ad-hoc event source.
func (b *ClassBuilder) Emitter(name string, fn EmitterFunc) *ClassBuilder {
	if name == "" || fn == nil {
		return b.fail("class %s: emitter needs a name and a body", b.class.name)
	}
	if _, dup := b.class.emitters[name]; dup {
		return b.fail("class %s: duplicate emitter %q", b.class.name, name)
	}
	b.class.emitters[name] = &emitterSpec{name: name, fn: fn}
	return b
}

// Init sets the user init hook.
func (b *ClassBuilder) Init(fn InitFunc) *ClassBuilder {
	b.class.init = fn
	return b
}

// Build finalizes the class: declarations are sorted by name and setter
// actions are synthesized for settable properties.
func (b *ClassBuilder) Build() (*Class, error) {
	if b.err != nil {
		return nil, b.err
	}
	c := b.class
	sort.Slice(c.props, func(i, j int) bool { return c.props[i].Name < c.props[j].Name })
	sort.Slice(c.reactions, func(i, j int) bool { return c.reactions[i].name < c.reactions[j].name })
	for _, p := range c.props {
		if !p.Settable {
			continue
		}
		name := "set_" + p.Name
		if _, taken := c.actions[name]; taken {
			return nil, fmt.Errorf("class %s: action %q collides with synthesized setter", c.name, name)
		}
		prop := p
		c.actions[name] = &actionSpec{name: name, fn: func(comp *Component, args ...any) error {
			if len(args) != 1 {
				return fmt.Errorf("%s takes exactly one argument, got %d", name, len(args))
			}
			return comp.Mutate(prop.Name, args[0])
		}}
	}
	return c, nil
}

// MustBuild is Build for class definitions known statically.
func (b *ClassBuilder) MustBuild() *Class {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}

// Module returns the module the class was declared in.
func (c *Class) Module() string { return c.module }

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Properties returns the sorted property descriptors.
func (c *Class) Properties() []*Property { return c.props }

// Property returns the descriptor for name.
func (c *Class) Property(name string) (*Property, bool) {
	p, ok := c.propIndex[name]
	return p, ok
}

// HasAction reports whether the class declares (or synthesized) an action.
func (c *Class) HasAction(name string) bool {
	_, ok := c.actions[name]
	return ok
}

// ActionNames returns the sorted action names, synthesized setters included.
func (c *Class) ActionNames() []string {
	names := make([]string, 0, len(c.actions))
	for name := range c.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
