package raft

// RequestVoteRequest is sent by a candidate to solicit votes.
type RequestVoteRequest struct {
	Term         Term
	CandidateID  ServerID
	LastLogIndex uint64
	LastLogTerm  Term
}

// RequestVoteResponse carries the vote decision.
type RequestVoteResponse struct {
	Term        Term
	VoteGranted bool
}

// AppendEntriesRequest replicates zero or more entries and carries the
// leader's commit index.
type AppendEntriesRequest struct {
	Term         Term
	LeaderID     ServerID
	PrevLogIndex uint64
	PrevLogTerm  Term
	Entries      []LogEntry
	LeaderCommit uint64
}

// AppendEntriesResponse reports whether the consistency check passed.
type AppendEntriesResponse struct {
	Term    Term
	Success bool
}

// RPCHandler is implemented by the Raft server to process inbound
// RequestVote/AppendEntries calls delivered by a Transport's RPC server
// side. Handlers run under the server's coarse lock.
type RPCHandler interface {
	HandleRequestVote(req RequestVoteRequest) RequestVoteResponse
	HandleAppendEntries(req AppendEntriesRequest) AppendEntriesResponse
}
