package mirror

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/loomkit/loom/internal/event"
)

// ClassRegistry maps module-qualified class names to declarations, split
// by home: a home class is authoritative in this process, a remote class
// is authoritative on the peer and mirrored here. Both sides register the
// same classes with the homes flipped.
type ClassRegistry struct {
	mu      sync.Mutex
	entries map[string]registryEntry
}

type registryEntry struct {
	class *event.Class
	home  bool
}

func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{entries: make(map[string]registryEntry)}
}

func classKey(module, name string) string { return module + "." + name }

// RegisterHome registers a class whose instances are authoritative here.
func (r *ClassRegistry) RegisterHome(class *event.Class) {
	r.mu.Lock()
	r.entries[classKey(class.Module(), class.Name())] = registryEntry{class: class, home: true}
	r.mu.Unlock()
}

// RegisterRemote registers a class whose instances are authoritative on
// the peer; local instances are mirrors.
func (r *ClassRegistry) RegisterRemote(class *event.Class) {
	r.mu.Lock()
	r.entries[classKey(class.Module(), class.Name())] = registryEntry{class: class}
	r.mu.Unlock()
}

// Lookup returns the class and whether it is home here.
func (r *ClassRegistry) Lookup(module, name string) (*event.Class, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[classKey(module, name)]
	return e.class, e.home, ok
}

// Runtime dispatches received commands against one session. Commands are
// executed on the session's loop; Deliver is the goroutine-safe entry
// point for transports.
type Runtime struct {
	session *Session
	classes *ClassRegistry
}

func NewRuntime(session *Session, classes *ClassRegistry) *Runtime {
	return &Runtime{session: session, classes: classes}
}

// Session returns the session this runtime serves.
func (rt *Runtime) Session() *Session { return rt.session }

// Deliver schedules a received command for execution on the loop.
// Per-session arrival order is preserved; failures are logged, never
// propagated back to the transport.
func (rt *Runtime) Deliver(cmd Command) {
	rt.session.loop.CallLater(func() {
		if err := rt.HandleCommand(cmd); err != nil {
			log.Warn().Err(err).Str("session", rt.session.id).
				Str("command", cmd.Name).Str("id", cmd.ID).
				Msg("command rejected")
		}
	})
}

// HandleCommand executes one command synchronously. Must run on the loop
// goroutine.
func (rt *Runtime) HandleCommand(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	switch cmd.Name {
	case CmdInstantiate:
		return rt.handleInstantiate(cmd)
	case CmdInvoke:
		return rt.handleInvoke(cmd)
	case CmdDispose:
		return rt.handleDispose(cmd)
	}
	return fmt.Errorf("%w: %q", ErrInvalidCommand, cmd.Name)
}

// handleInstantiate creates the local half of a component the peer
// requested. A duplicate id is tolerated as a no-op so races between
// explicit instantiation and reference-triggered instantiation resolve
// to the first arrival.
func (rt *Runtime) handleInstantiate(cmd Command) error {
	if _, exists := rt.session.Component(cmd.ID); exists {
		log.Debug().Str("session", rt.session.id).Str("id", cmd.ID).
			Msg("duplicate INSTANTIATE ignored")
		return nil
	}
	class, home, ok := rt.classes.Lookup(cmd.Module, cmd.Class)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownClass, cmd.Module, cmd.Class)
	}
	mgr := rt.session.manager

	var actives []*event.Component
	for _, ref := range cmd.Parents {
		if c, ok := mgr.ResolveRef(ref).(compCarrier); ok && c.Comp() != nil {
			actives = append(actives, c.Comp())
		}
	}

	var err error
	rt.session.loop.WithActive(actives, func() {
		if home {
			values := make(map[string]any, len(cmd.Props))
			for name, v := range cmd.Props {
				values[name] = mgr.DecodeValue(v)
			}
			_, err = newAuthoritative(rt.session, class, event.Config{Values: values}, cmd.ID, cmd.HasMirror)
		} else {
			_, err = newMirrorFromRemote(rt.session, class, cmd)
		}
	})
	return err
}

// handleInvoke routes an INVOKE to its target. An unknown id is dropped
// silently: disposal on one side races in-flight invokes from the other,
// and losing them is the documented outcome.
func (rt *Runtime) handleInvoke(cmd Command) error {
	d, ok := rt.session.Component(cmd.ID)
	if !ok {
		log.Debug().Str("session", rt.session.id).Str("id", cmd.ID).
			Str("member", cmd.Member).Msg("INVOKE for unknown id dropped")
		return nil
	}
	mgr := rt.session.manager

	switch cmd.Member {
	case memberApplyEvent:
		m, ok := d.(*Mirror)
		if !ok {
			return fmt.Errorf("%w: %s on %s component", ErrInvalidCommand, cmd.Member, d.Role())
		}
		if len(cmd.Args) != 1 {
			return fmt.Errorf("%w: %s takes one argument", ErrInvalidCommand, cmd.Member)
		}
		return m.ApplyEvent(cmd.Args[0])

	case memberSetHasMirror:
		a, ok := d.(*Authoritative)
		if !ok {
			return fmt.Errorf("%w: %s on %s component", ErrInvalidCommand, cmd.Member, d.Role())
		}
		v := len(cmd.Args) == 1 && cmd.Args[0] == true
		a.setHasMirror(v)
		return nil

	case memberSetEventTypes:
		a, ok := d.(*Authoritative)
		if !ok {
			return fmt.Errorf("%w: %s on %s component", ErrInvalidCommand, cmd.Member, d.Role())
		}
		if len(cmd.Args) != 1 {
			return fmt.Errorf("%w: %s takes one argument", ErrInvalidCommand, cmd.Member)
		}
		raw, _ := cmd.Args[0].([]any)
		types := make([]string, 0, len(raw))
		for _, t := range raw {
			if s, ok := t.(string); ok {
				types = append(types, s)
			}
		}
		a.setTypesAtMirror(types)
		return nil

	case memberDispose:
		switch t := d.(type) {
		case *Authoritative:
			t.Dispose()
		case *Mirror:
			t.disposeFromRemote()
		}
		return nil

	default:
		// User action. Only the authoritative side executes; a mirror
		// receiving an action invoke would bounce it back forever.
		a, ok := d.(*Authoritative)
		if !ok {
			return fmt.Errorf("%w: action %q on %s component", ErrInvalidCommand, cmd.Member, d.Role())
		}
		args := make([]any, len(cmd.Args))
		for i, v := range cmd.Args {
			args[i] = mgr.DecodeValue(v)
		}
		return a.comp.Invoke(cmd.Member, args...)
	}
}

// handleDispose finalizes a disposal the peer initiated. Unconditional:
// by the time DISPOSE arrives the other half is already gone.
func (rt *Runtime) handleDispose(cmd Command) error {
	d, ok := rt.session.Component(cmd.ID)
	if !ok {
		return nil
	}
	switch t := d.(type) {
	case *Mirror:
		t.disposeFromRemote()
	case *Authoritative:
		t.Dispose()
	}
	return nil
}
