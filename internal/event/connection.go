package event

import (
	"fmt"
	"strings"
)

// pathSegment is one hop of a dotted connection path: a component-valued
// property name, or a wildcard over a component-list property ("name*").
type pathSegment struct {
	name     string
	wildcard bool
}

// connection is a parsed connection string: `type[:label]` or a dotted
// path `a.b*.type:label`. A leading "!" suppresses the unknown-event-type
// warning for speculative hookups.
type connection struct {
	raw      string
	segments []pathSegment
	typ      string
	label    string
	force    bool
}

func parseConnection(raw string) (connection, error) {
	conn := connection{raw: raw}
	s := raw
	if strings.HasPrefix(s, "!") {
		conn.force = true
		s = s[1:]
	}
	base, label, hasLabel := strings.Cut(s, ":")
	if hasLabel {
		if label == "" || strings.Contains(label, ":") {
			return conn, fmt.Errorf("%w: malformed label in %q", ErrUnresolvableConnection, raw)
		}
		conn.label = label
	}
	parts := strings.Split(base, ".")
	for i, part := range parts {
		last := i == len(parts)-1
		if part == "" {
			return conn, fmt.Errorf("%w: empty segment in %q", ErrUnresolvableConnection, raw)
		}
		if last {
			if strings.HasSuffix(part, "*") {
				return conn, fmt.Errorf("%w: event type in %q cannot be a wildcard", ErrUnresolvableConnection, raw)
			}
			conn.typ = part
			break
		}
		seg := pathSegment{name: part}
		if strings.HasSuffix(part, "*") {
			seg.name = strings.TrimSuffix(part, "*")
			seg.wildcard = true
			if seg.name == "" {
				return conn, fmt.Errorf("%w: empty wildcard segment in %q", ErrUnresolvableConnection, raw)
			}
		}
		conn.segments = append(conn.segments, seg)
	}
	return conn, nil
}
