package mirror

import "errors"

var (
	// ErrInvalidCommand marks a command that fails wire validation.
	ErrInvalidCommand = errors.New("mirror: invalid command")

	// ErrUnknownClass marks an INSTANTIATE naming a class not registered
	// with the runtime.
	ErrUnknownClass = errors.New("mirror: unknown class")

	// ErrRemoteResolution marks a component reference that cannot be
	// resolved locally. Decoding degrades to a stub instead of failing.
	ErrRemoteResolution = errors.New("mirror: unresolvable component reference")

	// ErrSessionClosed marks an operation on a closed session.
	ErrSessionClosed = errors.New("mirror: session closed")
)
