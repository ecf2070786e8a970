package mirror

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/loomkit/loom/internal/event"
)

// Transport carries commands to the session's peer. Delivery is
// fire-and-forget; implementations must preserve send order.
type Transport interface {
	SendCommand(cmd Command) error
}

// Manager owns the sessions of one process and the component reference
// index used by the wire codec.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	def      *Session
	byComp   map[*event.Component]Distributed
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		byComp:   make(map[*event.Component]Distributed),
	}
}

// NewSession creates a session with a fresh unique id. The first session
// created becomes the default.
func (m *Manager) NewSession(loop *event.Loop) *Session {
	return m.addSession(loop, uuid.NewString(), "")
}

// BindSession creates the local counterpart of a session that originated
// on the peer. Both sides share the session id; the suffix keeps their
// independently allocated component ids disjoint.
func (m *Manager) BindSession(loop *event.Loop, id, suffix string) *Session {
	return m.addSession(loop, id, suffix)
}

func (m *Manager) addSession(loop *event.Loop, id, suffix string) *Session {
	s := &Session{
		id:      id,
		suffix:  suffix,
		loop:    loop,
		manager: m,
		outbox:  newCommandOutbox(0),
		comps:   make(map[string]Distributed),
	}
	m.mu.Lock()
	m.sessions[id] = s
	if m.def == nil {
		m.def = s
	}
	m.mu.Unlock()
	return s
}

// GetDefaultSession returns the first session created, or nil.
func (m *Manager) GetDefaultSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.def
}

// GetSessionByID looks a session up by id.
func (m *Manager) GetSessionByID(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) trackComp(c *event.Component, d Distributed) {
	m.mu.Lock()
	m.byComp[c] = d
	m.mu.Unlock()
}

func (m *Manager) untrackComp(c *event.Component) {
	m.mu.Lock()
	delete(m.byComp, c)
	m.mu.Unlock()
}

// DistributedFor returns the distributed wrapper of a kernel component,
// if it has one.
func (m *Manager) DistributedFor(c *event.Component) (Distributed, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byComp[c]
	return d, ok
}

// Session is one logical connection scope: it allocates component ids,
// keeps the id-to-component registry, and sends commands to its peer,
// buffering while no transport is attached.
type Session struct {
	id      string
	suffix  string
	loop    *event.Loop
	manager *Manager

	mu        sync.Mutex
	transport Transport
	closed    bool
	nextID    int

	outbox *commandOutbox
	comps  map[string]Distributed
}

// ID returns the session id, shared by both sides of the connection.
func (s *Session) ID() string { return s.id }

// Loop returns the scheduler this session's components live on.
func (s *Session) Loop() *event.Loop { return s.loop }

// Manager returns the owning manager.
func (s *Session) Manager() *Manager { return s.manager }

func (s *Session) allocID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return "c" + strconv.Itoa(s.nextID) + s.suffix
}

// register binds a distributed component to an id within this session.
func (s *Session) register(id string, d Distributed, c *event.Component) {
	s.mu.Lock()
	s.comps[id] = d
	s.mu.Unlock()
	if c != nil {
		s.manager.trackComp(c, d)
	}
}

func (s *Session) unregister(id string, c *event.Component) {
	s.mu.Lock()
	delete(s.comps, id)
	s.mu.Unlock()
	if c != nil {
		s.manager.untrackComp(c)
	}
}

// Component looks up a registered distributed component by id.
func (s *Session) Component(id string) (Distributed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.comps[id]
	return d, ok
}

// ComponentIDs returns the ids currently registered. For diagnostics.
func (s *Session) ComponentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.comps))
	for id := range s.comps {
		out = append(out, id)
	}
	return out
}

// SendCommand queues or sends one command to the peer. With no transport
// attached the command is buffered; once sending fails the transport is
// detached and buffering resumes, so order is never violated.
func (s *Session) SendCommand(cmd Command) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.Debug().Str("session", s.id).Str("command", cmd.Name).
			Msg("dropping command on closed session")
		return
	}
	t := s.transport
	s.mu.Unlock()

	if t == nil {
		s.outbox.push(cmd)
		return
	}
	if err := t.SendCommand(cmd); err != nil {
		log.Warn().Err(err).Str("session", s.id).Str("command", cmd.Name).
			Msg("transport send failed, buffering")
		s.DetachTransport()
		s.outbox.push(cmd)
	}
}

// AttachTransport connects the session to its peer and flushes the
// buffered backlog in order. A send failure mid-flush detaches again and
// requeues the remainder.
func (s *Session) AttachTransport(t Transport) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.id)
	}
	s.transport = t
	s.mu.Unlock()

	backlog := s.outbox.drain()
	for i, cmd := range backlog {
		if err := t.SendCommand(cmd); err != nil {
			s.DetachTransport()
			s.outbox.requeue(backlog[i:])
			return fmt.Errorf("flushing session %s backlog: %w", s.id, err)
		}
	}
	log.Debug().Str("session", s.id).Int("flushed", len(backlog)).
		Msg("transport attached")
	return nil
}

// DetachTransport returns the session to buffering mode.
func (s *Session) DetachTransport() {
	s.mu.Lock()
	s.transport = nil
	s.mu.Unlock()
}

// Live reports whether a transport is currently attached.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil && !s.closed
}

// Close permanently stops the session. Registered components stay valid
// locally; further commands are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.transport = nil
	s.mu.Unlock()
}
