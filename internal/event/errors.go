package event

import "errors"

var (
	// ErrValidation marks a value rejected by a property's type contract.
	ErrValidation = errors.New("event: validation failed")

	// ErrUnknownPropertyOrEvent marks a reference to a property, action or
	// event type that does not exist on the component.
	ErrUnknownPropertyOrEvent = errors.New("event: unknown property or event")

	// ErrIllegalMutation marks a property mutation attempted outside an
	// active action-processing phase.
	ErrIllegalMutation = errors.New("event: mutation outside action")

	// ErrUnresolvableConnection marks a reaction connection string whose
	// path cannot be walked from its owning component.
	ErrUnresolvableConnection = errors.New("event: unresolvable connection")

	// ErrIndex marks a partial mutation with a negative or out-of-range index.
	ErrIndex = errors.New("event: bad mutation index")

	// ErrNotImplemented marks an unsupported mutation, such as in-place
	// resize of a numeric buffer.
	ErrNotImplemented = errors.New("event: not implemented")

	// ErrDisposed marks an operation on a disposed component.
	ErrDisposed = errors.New("event: component disposed")

	// ErrLoopBusy marks a drain attempt while another drain is running.
	// The loop is single-threaded; concurrent Iter calls are a bug.
	ErrLoopBusy = errors.New("event: loop iteration already in progress")
)
