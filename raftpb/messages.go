// Package raftpb holds the wire types exchanged between raft servers.
//
// The module's retrieval set does not include a protoc toolchain, so these
// types are hand-assembled instead of protoc-gen-go output: each message
// implements Marshal/Unmarshal directly against
// google.golang.org/protobuf/encoding/protowire using the same field
// numbering protoc would have picked. A protobuf parser for the same fields
// decodes the resulting bytes; unlike protoc-gen-go output, zero-valued
// scalar fields are still written.
package raftpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DeltaKind mirrors the StateDelta kinds recognized by the log-entry buffer.
type DeltaKind uint32

const (
	DeltaData DeltaKind = iota
	DeltaTransactionBegin
	DeltaTransactionCommit
	DeltaTransactionAbort
)

// StateDelta is the wire representation of one state-machine mutation record.
type StateDelta struct {
	Kind    DeltaKind
	TxID    uint64
	Payload []byte
}

func (d *StateDelta) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Kind))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, d.TxID)
	if len(d.Payload) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Payload)
	}
	return b
}

func (d *StateDelta) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("raftpb: StateDelta: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("raftpb: StateDelta.Kind: %w", protowire.ParseError(n))
			}
			d.Kind = DeltaKind(v)
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("raftpb: StateDelta.TxID: %w", protowire.ParseError(n))
			}
			d.TxID = v
			b = b[n:]
		case 3:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("raftpb: StateDelta.Payload: %w", protowire.ParseError(n))
			}
			d.Payload = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("raftpb: StateDelta: unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// LogEntry is the wire representation of one replicated log entry.
type LogEntry struct {
	Term   uint64
	Deltas []*StateDelta
}

func (e *LogEntry) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Term)
	for _, d := range e.Deltas {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Marshal())
	}
	return b
}

func (e *LogEntry) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("raftpb: LogEntry: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("raftpb: LogEntry.Term: %w", protowire.ParseError(n))
			}
			e.Term = v
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("raftpb: LogEntry.Deltas: %w", protowire.ParseError(n))
			}
			delta := &StateDelta{}
			if err := delta.Unmarshal(v); err != nil {
				return err
			}
			e.Deltas = append(e.Deltas, delta)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("raftpb: LogEntry: unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// RequestVoteRequest is sent by a candidate to solicit votes.
type RequestVoteRequest struct {
	Term         uint64
	CandidateID  uint32
	LastLogIndex uint64
	LastLogTerm  uint64
}

func (r *RequestVoteRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Term)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.CandidateID))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, r.LastLogIndex)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, r.LastLogTerm)
	return b
}

func (r *RequestVoteRequest) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("raftpb: RequestVoteRequest: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var v uint64
		switch num {
		case 1, 2, 3, 4:
			v, n = protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("raftpb: RequestVoteRequest field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case 1:
				r.Term = v
			case 2:
				r.CandidateID = uint32(v)
			case 3:
				r.LastLogIndex = v
			case 4:
				r.LastLogTerm = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("raftpb: RequestVoteRequest: unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// RequestVoteResponse carries the vote decision.
type RequestVoteResponse struct {
	Term        uint64
	VoteGranted bool
}

func (r *RequestVoteResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Term)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(r.VoteGranted))
	return b
}

func (r *RequestVoteResponse) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("raftpb: RequestVoteResponse: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("raftpb: RequestVoteResponse.Term: %w", protowire.ParseError(n))
			}
			r.Term = v
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("raftpb: RequestVoteResponse.VoteGranted: %w", protowire.ParseError(n))
			}
			r.VoteGranted = v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("raftpb: RequestVoteResponse: unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// AppendEntriesRequest replicates zero or more entries and carries the
// leader's commit index.
type AppendEntriesRequest struct {
	Term         uint64
	LeaderID     uint32
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []*LogEntry
	LeaderCommit uint64
}

func (r *AppendEntriesRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Term)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.LeaderID))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, r.PrevLogIndex)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, r.PrevLogTerm)
	for _, e := range r.Entries {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Marshal())
	}
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, r.LeaderCommit)
	return b
}

func (r *AppendEntriesRequest) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("raftpb: AppendEntriesRequest: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1, 2, 3, 4, 6:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("raftpb: AppendEntriesRequest field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case 1:
				r.Term = v
			case 2:
				r.LeaderID = uint32(v)
			case 3:
				r.PrevLogIndex = v
			case 4:
				r.PrevLogTerm = v
			case 6:
				r.LeaderCommit = v
			}
		case 5:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("raftpb: AppendEntriesRequest.Entries: %w", protowire.ParseError(n))
			}
			entry := &LogEntry{}
			if err := entry.Unmarshal(v); err != nil {
				return err
			}
			r.Entries = append(r.Entries, entry)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("raftpb: AppendEntriesRequest: unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// AppendEntriesResponse reports whether the consistency check passed.
type AppendEntriesResponse struct {
	Term    uint64
	Success bool
}

func (r *AppendEntriesResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Term)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, boolToVarint(r.Success))
	return b
}

func (r *AppendEntriesResponse) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("raftpb: AppendEntriesResponse: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("raftpb: AppendEntriesResponse.Term: %w", protowire.ParseError(n))
			}
			r.Term = v
			b = b[n:]
		case 2:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("raftpb: AppendEntriesResponse.Success: %w", protowire.ParseError(n))
			}
			r.Success = v != 0
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("raftpb: AppendEntriesResponse: unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func boolToVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
