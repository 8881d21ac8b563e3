package raft

import "errors"

var (
	// ErrMissingPersistentData is raised when a required C1 key is absent
	// without a defined default. Unrecoverable without operator action.
	ErrMissingPersistentData = errors.New("missing persistent data")

	// ErrSerialization is raised on C1/C4 decode failure. Unrecoverable
	// without operator action.
	ErrSerialization = errors.New("serialization error")

	// ErrInvalidTransition is raised when a disallowed mode transition is
	// attempted. It is a programming error.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrShutdown names a call made after Shutdown. No function in this
	// package returns it.
	ErrShutdown = errors.New("raft server is shutting down")

	// ErrNotLeader is returned by leader-only operations on a non-leader.
	ErrNotLeader = errors.New("not leader")

	// ErrLogNotFound is returned when a requested index is absent from the log.
	ErrLogNotFound = errors.New("log entry not found")

	// ErrStaleTerm marks an inbound message whose term is behind current_term.
	ErrStaleTerm = errors.New("stale term")

	// ErrDataDirRequired is returned when no durability_dir is configured.
	ErrDataDirRequired = errors.New("durability_dir is required")

	// ErrKeyNotFound names a missing metadata key. MetadataStore does not
	// return it: a missing current_term or voted_for reads as its default.
	ErrKeyNotFound = errors.New("key not found")

	// ErrTransportError wraps any failure to reach a peer over C4.
	ErrTransportError = errors.New("transport error")

	// ErrAborted names a transaction whose buffered deltas were dropped by
	// an abort before reaching the log. No function in this package returns
	// it: SafeToCommit reports only a bool, and an aborted transaction is
	// not tracked in the replication log.
	ErrAborted = errors.New("transaction aborted")
)
