// Package transport carries mirror commands between processes.
//
// Ownership boundary:
// - the in-process pipe used by tests and single-binary demos
// - the WebSocket transport (dial, upgrade, read loop)
// - reconnect backoff policy
//
// Transports preserve per-session send order and nothing else: no acks,
// no retries of individual commands. A dead connection detaches from the
// session, which buffers until a new transport attaches.
package transport
