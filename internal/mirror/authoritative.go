package mirror

import (
	"github.com/rs/zerolog/log"

	"github.com/loomkit/loom/internal/event"
)

// Authoritative is the owning side of a distributed component. It wraps a
// live kernel component; every mutation happens here, and accepted events
// are forwarded to the mirror when one exists. Forwarding filters by
// interest: property events always cross (unless the property is local),
// other event types only when the mirror reported a subscription.
//
// All fields besides the session are touched only from the loop
// goroutine; the kernel's single-threaded contract covers them.
type Authoritative struct {
	session *Session
	class   *event.Class
	comp    *event.Component
	id      string

	hasMirror     bool
	typesAtMirror map[string]bool
}

// NewAuthoritative creates an authoritative component and eagerly
// instantiates its mirror on the peer with a full property snapshot.
func NewAuthoritative(s *Session, class *event.Class, values map[string]any) (*Authoritative, error) {
	return newAuthoritative(s, class, event.Config{Values: values}, "", false)
}

// newAuthoritative also serves remote-initiated instantiation, where the
// id was allocated by the peer and the mirror already exists (so initial
// emits must forward from the first mutation on).
func newAuthoritative(s *Session, class *event.Class, cfg event.Config, customID string, hasMirror bool) (*Authoritative, error) {
	a := &Authoritative{
		session:       s,
		class:         class,
		id:            customID,
		hasMirror:     hasMirror,
		typesAtMirror: make(map[string]bool),
	}
	if a.id == "" {
		a.id = s.allocID()
	}
	cfg.ID = a.id
	cfg.EmitHook = a.forwardEvent
	cfg.DisposeHook = a.onDisposed
	comp, err := event.New(s.loop, class, cfg)
	if err != nil {
		return nil, err
	}
	a.comp = comp
	s.register(a.id, a, comp)
	if !hasMirror {
		a.EnsureMirror()
	}
	return a, nil
}

func (a *Authoritative) SessionID() string { return a.session.id }
func (a *Authoritative) ID() string        { return a.id }
func (a *Authoritative) UID() string       { return a.session.id + "_" + a.id }
func (a *Authoritative) Role() Role        { return RoleAuthoritative }

// Comp returns the wrapped kernel component.
func (a *Authoritative) Comp() *event.Component { return a.comp }

// Dispose disposes the kernel component; the DISPOSE notification to the
// mirror rides on the disposal hook.
func (a *Authoritative) Dispose() { a.comp.Dispose() }

// EnsureMirror instantiates the mirror on the peer if it does not exist
// yet: an INSTANTIATE carrying a snapshot of all non-local properties and
// the active-component context. Idempotent; also triggered implicitly
// when a reference to this component crosses the wire.
func (a *Authoritative) EnsureMirror() {
	if a.hasMirror || a.comp == nil || a.comp.Disposed() {
		return
	}
	// Set before snapshotting: encoding a property that references
	// another authoritative component recurses through here.
	a.hasMirror = true

	mgr := a.session.manager
	props := make(map[string]any)
	for _, p := range a.class.Properties() {
		if p.Local {
			continue
		}
		props[p.Name] = mgr.EncodeValue(a.comp.Get(p.Name))
	}
	var parents []Ref
	for _, c := range a.session.loop.ActiveComponents() {
		if d, ok := mgr.DistributedFor(c); ok {
			parents = append(parents, Ref{SessionID: d.SessionID(), ID: d.ID()})
		}
	}
	a.session.SendCommand(Command{
		Name:    CmdInstantiate,
		ID:      a.id,
		Module:  a.class.Module(),
		Class:   a.class.Name(),
		Props:   props,
		Parents: parents,
	})
}

// forwardEvent runs as the kernel's emit hook, after local dispatch.
func (a *Authoritative) forwardEvent(ev event.Event) {
	if !a.hasMirror {
		return
	}
	if p, ok := a.class.Property(ev.Type); ok {
		if p.Local {
			return
		}
	} else if !a.typesAtMirror[ev.Type] {
		return
	}
	a.session.SendCommand(Command{
		Name:   CmdInvoke,
		ID:     a.id,
		Member: memberApplyEvent,
		Args:   []any{a.session.manager.EventToWire(ev)},
	})
}

// setHasMirror handles the mirror's lifecycle handshake; false means the
// mirror was disposed on its own and forwarding must stop.
func (a *Authoritative) setHasMirror(v bool) {
	a.hasMirror = v
	if !v {
		a.typesAtMirror = make(map[string]bool)
	}
}

// setTypesAtMirror replaces the mirror's subscribed-interest set.
func (a *Authoritative) setTypesAtMirror(types []string) {
	next := make(map[string]bool, len(types))
	for _, t := range types {
		next[t] = true
	}
	a.typesAtMirror = next
}

// onDisposed runs after kernel disposal. The DISPOSE is sent whether or
// not a mirror exists; the peer tolerates unknown ids.
func (a *Authoritative) onDisposed() {
	a.hasMirror = false
	a.session.unregister(a.id, a.comp)
	a.session.SendCommand(Command{Name: CmdDispose, ID: a.id})
	log.Debug().Str("uid", a.UID()).Msg("authoritative component disposed")
}
