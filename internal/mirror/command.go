package mirror

import (
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Command names. The protocol has exactly three: lifecycle hooks ride as
// INVOKE on reserved member names.
const (
	CmdInstantiate = "INSTANTIATE"
	CmdInvoke      = "INVOKE"
	CmdDispose     = "DISPOSE"
)

// Reserved INVOKE members. User actions never collide: the leading
// underscore is rejected by class declaration, and "dispose" is handled
// before action lookup.
const (
	memberApplyEvent    = "_apply_event"
	memberSetHasMirror  = "_set_has_mirror"
	memberSetEventTypes = "_set_event_types"
	memberDispose       = "dispose"
)

// Ref addresses a distributed component: session plus per-session id.
type Ref struct {
	SessionID string `msgpack:"session_id"`
	ID        string `msgpack:"id"`
}

func (r Ref) UID() string { return r.SessionID + "_" + r.ID }

// Command is the single wire shape for all three protocol messages.
// Values inside Args and Props are pre-encoded by the wire codec
// (references and numeric buffers become tagged maps).
type Command struct {
	Name   string `msgpack:"name"`
	ID     string `msgpack:"id,omitempty"`
	Module string `msgpack:"module,omitempty"`
	Class  string `msgpack:"class,omitempty"`
	Member string `msgpack:"member,omitempty"`

	Args  []any          `msgpack:"args,omitempty"`
	Props map[string]any `msgpack:"props,omitempty"`

	// Parents carries the active-component stack at creation time so the
	// receiving side can reconstruct the instantiation context.
	Parents []Ref `msgpack:"parents,omitempty"`

	// HasMirror tells a remotely instantiated authoritative component
	// that its mirror already exists, so initial emits must forward.
	HasMirror bool `msgpack:"has_mirror,omitempty"`
}

func (c Command) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: %s missing id", ErrInvalidCommand, c.Name)
	}
	switch c.Name {
	case CmdInstantiate:
		if strings.TrimSpace(c.Module) == "" {
			return fmt.Errorf("%w: INSTANTIATE missing module", ErrInvalidCommand)
		}
		if strings.TrimSpace(c.Class) == "" {
			return fmt.Errorf("%w: INSTANTIATE missing class", ErrInvalidCommand)
		}
	case CmdInvoke:
		if strings.TrimSpace(c.Member) == "" {
			return fmt.Errorf("%w: INVOKE missing member", ErrInvalidCommand)
		}
	case CmdDispose:
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, c.Name)
	}
	return nil
}

// EncodeCommand serializes a validated command to its msgpack wire form.
func EncodeCommand(cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return msgpack.Marshal(cmd)
}

// DecodeCommand parses and validates a wire-form command.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := msgpack.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	return cmd, nil
}
