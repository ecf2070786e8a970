// Package event owns the reactive component kernel.
//
// Ownership boundary:
// - property declaration, validation and the mutation pipeline
// - component lifecycle (construct, emit, dispose)
// - reactions, connection resolution and implicit dependency tracking
// - the cooperative scheduler (Loop)
//
// The kernel is single-threaded by contract: all component state is owned
// by the goroutine driving Loop.Iter. Other goroutines may only feed the
// loop through CallLater and the enqueue entry points.
package event
