package event

// MutationKind describes how a property's stored value changed.
type MutationKind string

const (
	MutationSet     MutationKind = "set"
	MutationInsert  MutationKind = "insert"
	MutationRemove  MutationKind = "remove"
	MutationReplace MutationKind = "replace"
)

// Event is one dispatched occurrence. The Type never carries a label;
// labels exist only on subscriptions.
//
// For property-change events Mutation is non-empty. A "set" mutation
// carries OldValue and NewValue; partial mutations (insert/remove/replace)
// carry Objects and Index, plus NewValue holding the container after the
// mutation was applied.
type Event struct {
	Type   string
	Source *Component
	Info   map[string]any

	Mutation MutationKind
	OldValue any
	NewValue any
	Objects  []any
	Index    int
}

// IsProperty reports whether the event represents a property mutation.
func (ev Event) IsProperty() bool {
	return ev.Mutation != ""
}
