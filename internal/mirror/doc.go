// Package mirror owns the cross-process synchronization layer.
//
// Ownership boundary:
// - session identity and component registration (id/uid allocation)
// - the INSTANTIATE / INVOKE / DISPOSE command protocol and its wire form
// - the Authoritative / Mirror / Stub distributed component variants
// - reference encode/decode with stub degradation
//
// For every distributed component exactly one side is authoritative: it
// owns property storage and validation. The mirror reflects state,
// forwards action calls, and never mutates properties itself. Forwarding
// is fire-and-forget; the protocol is asynchronous and eventually
// consistent, never request/response.
//
// The transport is out of scope: anything that can carry ordered commands
// per session satisfies the Transport interface.
package mirror
