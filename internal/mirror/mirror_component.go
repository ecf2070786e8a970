package mirror

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/loomkit/loom/internal/event"
)

// Mirror is the reflecting side of a distributed component. Its kernel
// component never produces state: construction is silent, the init hook
// is skipped, and every action call is forwarded to the authoritative
// side instead of executing. State arrives as _apply_event echoes and is
// applied without re-validation.
type Mirror struct {
	session *Session
	class   *event.Class
	comp    *event.Component
	id      string

	// ready gates sending: commands produced while the INSTANTIATE has
	// not gone out yet (reaction attach handshakes, eager invokes) are
	// buffered so the peer never sees an id before its creation.
	ready    bool
	preReady []Command

	remoteDisposed bool
}

// NewMirror creates a locally initiated mirror: the kernel shell is built
// here and an INSTANTIATE asks the peer to create the authoritative
// instance with the given property values. State shows up when the peer's
// initial events echo back.
func NewMirror(s *Session, class *event.Class, values map[string]any) (*Mirror, error) {
	m := &Mirror{session: s, class: class, id: s.allocID()}
	if err := m.build(); err != nil {
		return nil, err
	}
	mgr := s.manager
	props := make(map[string]any, len(values))
	for name, v := range values {
		props[name] = mgr.EncodeValue(v)
	}
	s.SendCommand(Command{
		Name:      CmdInstantiate,
		ID:        m.id,
		Module:    class.Module(),
		Class:     class.Name(),
		Props:     props,
		HasMirror: true,
	})
	m.markReady()
	return m, nil
}

// newMirrorFromRemote builds the mirror for an authoritative component
// the peer instantiated: the id is theirs and the property snapshot is
// applied as already-validated state.
func newMirrorFromRemote(s *Session, class *event.Class, cmd Command) (*Mirror, error) {
	m := &Mirror{session: s, class: class, id: cmd.ID}
	if err := m.build(); err != nil {
		return nil, err
	}
	mgr := s.manager
	names := make([]string, 0, len(cmd.Props))
	for name := range cmd.Props {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		err := m.comp.ApplyRemoteEvent(event.Event{
			Type:     name,
			Mutation: event.MutationSet,
			NewValue: mgr.DecodeValue(cmd.Props[name]),
		})
		if err != nil {
			log.Warn().Err(err).Str("uid", m.UID()).Str("property", name).
				Msg("failed to apply snapshot property")
		}
	}
	m.markReady()
	return m, nil
}

func (m *Mirror) build() error {
	comp, err := event.New(m.session.loop, m.class, event.Config{
		ID:                  m.id,
		SilentInit:          true,
		SkipInitHook:        true,
		InvokeHook:          m.forwardInvoke,
		HandlersChangedHook: m.subscriptionsChanged,
		DisposeHook:         m.onDisposed,
	})
	if err != nil {
		return err
	}
	m.comp = comp
	m.session.register(m.id, m, comp)
	return nil
}

// markReady flushes construction-time commands and reports the final
// subscribed-interest set to the authoritative side.
func (m *Mirror) markReady() {
	m.ready = true
	backlog := m.preReady
	m.preReady = nil
	for _, cmd := range backlog {
		m.session.SendCommand(cmd)
	}
	m.subscriptionsChanged(m.comp.SubscribedTypes())
}

func (m *Mirror) send(cmd Command) {
	if !m.ready {
		m.preReady = append(m.preReady, cmd)
		return
	}
	m.session.SendCommand(cmd)
}

func (m *Mirror) SessionID() string { return m.session.id }
func (m *Mirror) ID() string        { return m.id }
func (m *Mirror) UID() string       { return m.session.id + "_" + m.id }
func (m *Mirror) Role() Role        { return RoleMirror }

// Comp returns the wrapped kernel component. Reads and reaction
// attachment work as usual; mutation attempts fail in the kernel.
func (m *Mirror) Comp() *event.Component { return m.comp }

// forwardInvoke is the kernel's invoke hook: action calls cross the wire
// instead of executing. Unknown actions fail locally so typos surface on
// the calling side.
func (m *Mirror) forwardInvoke(name string, args []any) error {
	if !m.class.HasAction(name) {
		return fmt.Errorf("%w: %s has no action %q", event.ErrUnknownPropertyOrEvent, m.class.Name(), name)
	}
	mgr := m.session.manager
	enc := make([]any, len(args))
	for i, a := range args {
		enc[i] = mgr.EncodeValue(a)
	}
	m.send(Command{Name: CmdInvoke, ID: m.id, Member: name, Args: enc})
	return nil
}

// subscriptionsChanged reports the mirror's subscribed event types so the
// authoritative side forwards exactly what is being listened to.
func (m *Mirror) subscriptionsChanged(types []string) {
	if m.comp != nil && m.comp.Disposed() {
		return
	}
	list := make([]any, len(types))
	for i, t := range types {
		list[i] = t
	}
	m.send(Command{Name: CmdInvoke, ID: m.id, Member: memberSetEventTypes, Args: []any{list}})
}

// ApplyEvent applies one echoed event from the authoritative side.
func (m *Mirror) ApplyEvent(wire any) error {
	ev, err := m.session.manager.WireToEvent(wire)
	if err != nil {
		return err
	}
	return m.comp.ApplyRemoteEvent(ev)
}

// Dispose is the mirror-initiated disposal: the request is forwarded and
// the local component stays alive until the authoritative side confirms
// with a DISPOSE. Disposal is directional, never assumed.
func (m *Mirror) Dispose() {
	if m.comp.Disposed() {
		return
	}
	m.send(Command{Name: CmdInvoke, ID: m.id, Member: memberDispose})
}

// disposeFromRemote runs on DISPOSE receipt and tears down for real.
func (m *Mirror) disposeFromRemote() {
	m.remoteDisposed = true
	m.comp.Dispose()
}

// onDisposed runs after kernel disposal. A disposal that did not come
// from the peer (someone disposed the kernel component directly) tells
// the authoritative side to stop forwarding.
func (m *Mirror) onDisposed() {
	m.session.unregister(m.id, m.comp)
	if !m.remoteDisposed {
		m.send(Command{Name: CmdInvoke, ID: m.id, Member: memberSetHasMirror, Args: []any{false}})
	}
	log.Debug().Str("uid", m.UID()).Msg("mirror component disposed")
}
