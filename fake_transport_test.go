package raft

import (
	"context"
	"sync"
)

// fakeNetwork wires a set of fakeTransports together in-process, letting
// tests drive a multi-node cluster deterministically without opening any
// sockets. It stands in for C4's grpc.ClientConn plumbing the way the
// teacher's mocks_grpc_test.go stands in for a live gRPC connection.
type fakeNetwork struct {
	mu        sync.Mutex
	nodes     map[ServerID]*fakeTransport
	partition map[ServerID]bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		nodes:     make(map[ServerID]*fakeTransport),
		partition: make(map[ServerID]bool),
	}
}

func (n *fakeNetwork) register(t *fakeTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nodes[t.id] = t
}

// SetPartitioned isolates or rejoins id: while partitioned, every RPC to or
// from id fails as if the peer were unreachable.
func (n *fakeNetwork) SetPartitioned(id ServerID, partitioned bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partition[id] = partitioned
}

func (n *fakeNetwork) isPartitioned(id ServerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.partition[id]
}

func (n *fakeNetwork) transportFor(id ServerID) *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nodes[id]
}

// fakeTransport implements Transport by dispatching directly into another
// node's registered RPCHandler, bypassing gRPC entirely.
type fakeTransport struct {
	id      ServerID
	network *fakeNetwork

	mu      sync.Mutex
	handler RPCHandler
}

func newFakeTransport(id ServerID, network *fakeNetwork) *fakeTransport {
	t := &fakeTransport{id: id, network: network}
	network.register(t)
	return t
}

func (t *fakeTransport) RegisterHandler(handler RPCHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

func (t *fakeTransport) Start() error { return nil }
func (t *fakeTransport) Stop() error  { return nil }

func (t *fakeTransport) Reachable(peer ServerID) bool {
	return !t.network.isPartitioned(t.id) && !t.network.isPartitioned(peer)
}

func (t *fakeTransport) RequestVote(ctx context.Context, peer ServerID, req RequestVoteRequest) (RequestVoteResponse, error) {
	target := t.network.transportFor(peer)
	if target == nil || !t.Reachable(peer) {
		return RequestVoteResponse{}, ErrTransportError
	}
	target.mu.Lock()
	handler := target.handler
	target.mu.Unlock()
	if handler == nil {
		return RequestVoteResponse{}, ErrTransportError
	}
	select {
	case <-ctx.Done():
		return RequestVoteResponse{}, ctx.Err()
	default:
	}
	return handler.HandleRequestVote(req), nil
}

func (t *fakeTransport) AppendEntries(ctx context.Context, peer ServerID, req AppendEntriesRequest) (AppendEntriesResponse, error) {
	target := t.network.transportFor(peer)
	if target == nil || !t.Reachable(peer) {
		return AppendEntriesResponse{}, ErrTransportError
	}
	target.mu.Lock()
	handler := target.handler
	target.mu.Unlock()
	if handler == nil {
		return AppendEntriesResponse{}, ErrTransportError
	}
	select {
	case <-ctx.Done():
		return AppendEntriesResponse{}, ctx.Err()
	default:
	}
	return handler.HandleAppendEntries(req), nil
}

// recordingApplier records every applied delta in order, for assertions on
// apply-order and apply-at-most-once.
type recordingApplier struct {
	mu      sync.Mutex
	applied []StateDelta
}

func (a *recordingApplier) Apply(delta StateDelta) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, delta)
	return nil
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied)
}
