package raft

// Supervisor is C7: it constructs C1 through C5, wires the reset callback
// and the applier together, and exposes the small public surface local
// callers (the graph engine's write path) actually need. Server already
// does the real work; Supervisor exists so callers never construct a
// Server directly and never see C1-C4's internals.
type Supervisor struct {
	server *Server
}

// NewSupervisor builds a Supervisor from options, a transport and an
// applier. resetCallback is invoked on every Leader->Follower transition so
// the external state machine can be returned to empty when it cannot skip
// indices; it may be nil when the applier can tolerate gaps on its own.
func NewSupervisor(options Options, transport Transport, applier Applier, resetCallback func()) (*Supervisor, error) {
	server, err := NewServer(options, transport, applier, resetCallback)
	if err != nil {
		return nil, err
	}
	return &Supervisor{server: server}, nil
}

// Start starts every C1-C5 collaborator and begins serving RPCs.
func (sv *Supervisor) Start() error {
	return sv.server.Start()
}

// Shutdown stops every collaborator. Idempotent.
func (sv *Supervisor) Shutdown() error {
	return sv.server.Shutdown()
}

// IsLeader reports whether this node currently believes itself leader.
func (sv *Supervisor) IsLeader() bool {
	return sv.server.IsLeader()
}

// Emplace buffers a StateDelta produced by a local writing transaction.
func (sv *Supervisor) Emplace(delta StateDelta) error {
	return sv.server.Emplace(delta)
}

// SafeToCommit blocks until tx_id is durably replicated and locally
// applied, or this node stops being leader.
func (sv *Supervisor) SafeToCommit(txID uint64) bool {
	return sv.server.SafeToCommit(txID)
}

// GarbageCollectReplicationLog drops replication-log bookkeeping for every
// transaction id <= upTo.
func (sv *Supervisor) GarbageCollectReplicationLog(upTo uint64) {
	sv.server.GarbageCollectReplicationLog(upTo)
}
