package raft

import "context"

// Transport is C4: addressable request/response exchange for the four Raft
// message kinds. Implementations must support a blocking send with timeout,
// registering a server-side handler, and a reachability hint that never
// decides correctness.
type Transport interface {
	// RequestVote sends a RequestVote RPC to peer and blocks for a reply or
	// the context deadline.
	RequestVote(ctx context.Context, peer ServerID, req RequestVoteRequest) (RequestVoteResponse, error)

	// AppendEntries sends an AppendEntries RPC to peer and blocks for a
	// reply or the context deadline.
	AppendEntries(ctx context.Context, peer ServerID, req AppendEntriesRequest) (AppendEntriesResponse, error)

	// Reachable reports whether peer is currently known to be up. It is a
	// hint only and must never be used to decide correctness. The
	// replication loop does not consult it; its per-peer backoff is set
	// from failed AppendEntries calls.
	Reachable(peer ServerID) bool

	// RegisterHandler wires the server-side RPC handler that incoming
	// requests are dispatched to.
	RegisterHandler(handler RPCHandler)

	// Start begins serving incoming RPCs.
	Start() error

	// Stop tears down the RPC server and any outbound connections.
	Stop() error
}
