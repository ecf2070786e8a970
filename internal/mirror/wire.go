package mirror

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/loomkit/loom/internal/event"
)

// Tagged-map keys for values msgpack cannot carry natively. A component
// crosses the wire as its reference; a numeric buffer as shape plus data.
const (
	tagComponent = "@component"
	tagNumArray  = "@ndarray"
)

// Wire keys of a serialized event.
const (
	wireType     = "type"
	wireMutation = "mutation"
	wireOld      = "old"
	wireNew      = "new"
	wireObjects  = "objects"
	wireIndex    = "index"
	wireInfo     = "info"
)

type compCarrier interface {
	Comp() *event.Component
}

// EncodeValue rewrites a value into its wire form: live components become
// references, numeric buffers become tagged maps, containers recurse.
// Referencing an authoritative component forces its mirror into
// existence first, so the reference is resolvable on arrival.
func (m *Manager) EncodeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case *event.Component:
		if t == nil {
			return nil
		}
		d, ok := m.DistributedFor(t)
		if !ok {
			log.Warn().Str("component", t.ID()).
				Msg("component without distributed identity cannot cross the wire, sending nil")
			return nil
		}
		return m.EncodeValue(d)
	case Distributed:
		if a, ok := t.(*Authoritative); ok {
			a.EnsureMirror()
		}
		return map[string]any{tagComponent: []any{t.SessionID(), t.ID()}}
	case *event.NumArray:
		if t == nil {
			return nil
		}
		shape := make([]any, len(t.Shape))
		for i, d := range t.Shape {
			shape[i] = d
		}
		data := make([]any, len(t.Data))
		for i, f := range t.Data {
			data[i] = f
		}
		return map[string]any{tagNumArray: map[string]any{"shape": shape, "data": data}}
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = m.EncodeValue(el)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = m.EncodeValue(el)
		}
		return out
	default:
		return v
	}
}

// DecodeValue inverts EncodeValue on the receiving side. References
// resolve to the registered component, degrading to a stub when the
// session or id is unknown. Numbers are normalized to the kernel's int
// and float64.
func (m *Manager) DecodeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if raw, ok := t[tagComponent]; ok && len(t) == 1 {
			return m.decodeRef(raw)
		}
		if raw, ok := t[tagNumArray]; ok && len(t) == 1 {
			return decodeNumArray(raw)
		}
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = m.DecodeValue(el)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = m.DecodeValue(el)
		}
		return out
	default:
		return normalizeNumber(v)
	}
}

// ResolveRef resolves a reference against the local sessions. An unknown
// session or id yields an identity-only stub; the protocol keeps flowing
// and the gap is logged once here.
func (m *Manager) ResolveRef(ref Ref) Distributed {
	if s, ok := m.GetSessionByID(ref.SessionID); ok {
		if d, ok := s.Component(ref.ID); ok {
			return d
		}
	}
	log.Debug().Err(ErrRemoteResolution).Str("uid", ref.UID()).
		Msg("reference degraded to stub")
	return NewStub(ref.SessionID, ref.ID)
}

func (m *Manager) decodeRef(raw any) any {
	pair, ok := raw.([]any)
	if !ok || len(pair) != 2 {
		log.Warn().Msg("malformed component reference on wire")
		return nil
	}
	sid, _ := pair[0].(string)
	id, _ := pair[1].(string)
	d := m.ResolveRef(Ref{SessionID: sid, ID: id})
	// Live components are handed to the kernel as the kernel type; a stub
	// stays a stub, usable for identity only.
	if c, ok := d.(compCarrier); ok && c.Comp() != nil {
		return c.Comp()
	}
	return d
}

func decodeNumArray(raw any) any {
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	shapeRaw, _ := fields["shape"].([]any)
	dataRaw, _ := fields["data"].([]any)
	buf := &event.NumArray{
		Shape: make([]int, len(shapeRaw)),
		Data:  make([]float64, len(dataRaw)),
	}
	for i, d := range shapeRaw {
		n, _ := normalizeNumber(d).(int)
		buf.Shape[i] = n
	}
	for i, f := range dataRaw {
		switch v := normalizeNumber(f).(type) {
		case float64:
			buf.Data[i] = v
		case int:
			buf.Data[i] = float64(v)
		}
	}
	return buf
}

// normalizeNumber maps msgpack's width-specific decode types onto the
// kernel's canonical int and float64.
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint:
		if uint64(n) > math.MaxInt64 {
			return float64(n)
		}
		return int(n)
	case uint8:
		return int(n)
	case uint16:
		return int(n)
	case uint32:
		return int(n)
	case uint64:
		if n > math.MaxInt64 {
			return float64(n)
		}
		return int(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

// EventToWire serializes an event for an _apply_event invoke.
func (m *Manager) EventToWire(ev event.Event) map[string]any {
	w := map[string]any{wireType: ev.Type}
	if ev.IsProperty() {
		w[wireMutation] = string(ev.Mutation)
		w[wireIndex] = ev.Index
		w[wireOld] = m.EncodeValue(ev.OldValue)
		w[wireNew] = m.EncodeValue(ev.NewValue)
		if ev.Objects != nil {
			w[wireObjects] = m.EncodeValue(ev.Objects)
		}
	}
	if ev.Info != nil {
		w[wireInfo], _ = m.EncodeValue(ev.Info).(map[string]any)
	}
	return w
}

// WireToEvent rebuilds an event from its wire form. Source is left nil;
// the applying component fills it in.
func (m *Manager) WireToEvent(raw any) (event.Event, error) {
	fields, ok := raw.(map[string]any)
	if !ok {
		return event.Event{}, fmt.Errorf("%w: event payload is not a map", ErrInvalidCommand)
	}
	typ, _ := fields[wireType].(string)
	if typ == "" {
		return event.Event{}, fmt.Errorf("%w: event payload missing type", ErrInvalidCommand)
	}
	ev := event.Event{Type: typ}
	if mut, _ := fields[wireMutation].(string); mut != "" {
		ev.Mutation = event.MutationKind(mut)
		ev.OldValue = m.DecodeValue(fields[wireOld])
		ev.NewValue = m.DecodeValue(fields[wireNew])
		if idx, ok := normalizeNumber(fields[wireIndex]).(int); ok {
			ev.Index = idx
		}
		if objs, ok := m.DecodeValue(fields[wireObjects]).([]any); ok {
			ev.Objects = objs
		}
	}
	if info, ok := m.DecodeValue(fields[wireInfo]).(map[string]any); ok {
		ev.Info = info
	}
	return ev, nil
}
