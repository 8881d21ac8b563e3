package raft

import "time"

// AppendToLog implements logAppender for LogEntryBuffer: a committed
// transaction is appended to the Raft log as a single entry and the
// replication threads are woken to carry it to peers. The transaction
// starts out tracked in the replication log as replicated=false,
// safe=false (the zero value of txStatus); replicated is only set once
// commit_index advances past this entry's index, in
// advanceCommitIndexLocked, per §2/§4.2's "known committed by Raft
// (stored on a majority)" definition. Called with the buffer's lock NOT
// held (LogEntryBuffer.Emplace releases it before calling this).
func (s *Server) AppendToLog(txID uint64, deltas []StateDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != Leader {
		return ErrNotLeader
	}

	if _, err := s.appendEntryLocked(deltas); err != nil {
		return err
	}
	s.appendedAt[txID] = time.Now()
	s.replicationSignal.broadcast()
	return nil
}

// HandleAppendEntries implements RPCHandler's consistency check and log
// reconciliation from §4.5.
func (s *Server) HandleAppendEntries(req AppendEntriesRequest) AppendEntriesResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.incAppendEntriesReceived()

	if req.Term < s.currentTerm {
		return AppendEntriesResponse{Term: s.currentTerm, Success: false}
	}
	if req.Term > s.currentTerm {
		s.stepDownLocked(req.Term)
	} else if s.mode != Follower {
		_ = s.switchStateLocked(Follower)
	}

	leader := req.LeaderID
	s.leaderID = &leader
	s.resetElectionDeadlineLocked()

	if req.PrevLogIndex > 0 {
		if req.PrevLogIndex > s.lastLogIndex {
			return AppendEntriesResponse{Term: s.currentTerm, Success: false}
		}
		prevTerm := s.lastLogTermLocked(req.PrevLogIndex)
		if prevTerm != req.PrevLogTerm {
			return AppendEntriesResponse{Term: s.currentTerm, Success: false}
		}
	}

	if len(req.Entries) > 0 {
		insertAt := req.PrevLogIndex + 1
		conflictAt := insertAt
		conflictFound := false
		for i, e := range req.Entries {
			idx := insertAt + uint64(i)
			if idx > s.lastLogIndex {
				conflictAt = idx
				conflictFound = true
				break
			}
			existing, err := s.store.GetLogEntry(idx)
			if err != nil {
				s.fatal(err)
				return AppendEntriesResponse{Term: s.currentTerm, Success: false}
			}
			if existing.Term != e.Term {
				conflictAt = idx
				conflictFound = true
				break
			}
		}

		if conflictFound {
			if err := s.store.DeleteLogSuffix(conflictAt); err != nil {
				s.fatal(err)
				return AppendEntriesResponse{Term: s.currentTerm, Success: false}
			}
			newEntries := req.Entries[conflictAt-insertAt:]
			if err := s.store.AppendLogEntries(conflictAt, newEntries); err != nil {
				s.fatal(err)
				return AppendEntriesResponse{Term: s.currentTerm, Success: false}
			}
			s.lastLogIndex = conflictAt + uint64(len(newEntries)) - 1
		}
	}

	if req.LeaderCommit > s.commitIndex {
		newCommit := req.LeaderCommit
		if newCommit > s.lastLogIndex {
			newCommit = s.lastLogIndex
		}
		if newCommit > s.commitIndex {
			s.commitIndex = newCommit
			s.applySignal.broadcast()
		}
	}

	return AppendEntriesResponse{Term: s.currentTerm, Success: true}
}
