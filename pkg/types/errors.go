package types

import "errors"

// Stable error kinds surfaced across package boundaries. Callers match
// with errors.Is; boundary layers translate to gRPC codes / HTTP status.
var (
	// ErrNotAuthenticated rejects a missing or invalid API key or
	// cluster secret. Always fails closed.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotFound marks an agent or execution not resolvable in scope.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a duplicate agent name on create.
	ErrConflict = errors.New("conflict")

	// ErrQueueFull marks a per-cluster enqueue bound being exceeded.
	ErrQueueFull = errors.New("queue full")

	// ErrReplaced closes a predecessor session after a successor
	// attached with the same cluster id.
	ErrReplaced = errors.New("session replaced")

	// ErrIdleTimeout force-detaches a session that made no progress.
	ErrIdleTimeout = errors.New("idle timeout")

	// ErrStreamIO marks a stream read or write failure; the in-flight
	// message is re-enqueued before the session detaches.
	ErrStreamIO = errors.New("stream io failure")

	// ErrInternal marks an unexpected invariant violation.
	ErrInternal = errors.New("internal error")
)
