package mirror

// Role is a distributed component's capability level.
type Role int

const (
	// RoleAuthoritative owns property storage and validation.
	RoleAuthoritative Role = iota
	// RoleMirror reflects authoritative state and forwards action calls.
	RoleMirror
	// RoleStub carries identity only.
	RoleStub
)

func (r Role) String() string {
	switch r {
	case RoleAuthoritative:
		return "authoritative"
	case RoleMirror:
		return "mirror"
	case RoleStub:
		return "stub"
	default:
		return "unknown"
	}
}

// Distributed is a component with cross-process identity. Authoritative
// and Mirror wrap a live kernel component; a Stub wraps nothing.
type Distributed interface {
	// SessionID returns the owning session's id.
	SessionID() string
	// ID returns the per-session component id.
	ID() string
	// UID returns the globally unique id (session id + component id).
	UID() string
	// Role returns the capability level.
	Role() Role
}

// Stub is the identity-only degradation of an unresolvable reference.
// It supports equality and logging, nothing else; there is no property
// access, no invocation, and disposing it is a no-op.
type Stub struct {
	sessionID string
	id        string
}

func NewStub(sessionID, id string) *Stub {
	return &Stub{sessionID: sessionID, id: id}
}

func (s *Stub) SessionID() string { return s.sessionID }
func (s *Stub) ID() string        { return s.id }
func (s *Stub) UID() string       { return s.sessionID + "_" + s.id }
func (s *Stub) Role() Role        { return RoleStub }

// Equal reports identity equality; two stubs for the same remote
// component compare equal regardless of where they were decoded.
func (s *Stub) Equal(other *Stub) bool {
	return s != nil && other != nil && s.sessionID == other.sessionID && s.id == other.id
}

func (s *Stub) String() string {
	return "stub(" + s.UID() + ")"
}
