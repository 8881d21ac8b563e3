package raft

import (
	"fmt"
	"time"
)

// switchStateLocked enforces the Raft mode-transition graph. Follower,
// Candidate and Leader are the only modes; any other edge than the ones
// Raft actually uses (Follower<->Candidate, Candidate->Leader,
// Leader->Follower) is a programming error and refused, per §4.5
// "Disallowed transitions ... must be refused". Must be called with mu held.
func (s *Server) switchStateLocked(target Mode) error {
	current := s.mode
	if current == target {
		return nil
	}

	switch {
	case current == Follower && target == Candidate:
	case current == Candidate && target == Leader:
	case current == Candidate && target == Follower:
	case current == Leader && target == Follower:
	default:
		return fmt.Errorf("raft: %w: %s -> %s", ErrInvalidTransition, current, target)
	}

	s.mode = target
	s.notLeader.Store(target != Leader)

	if current == Leader && target != Leader {
		s.buffer.Disable()
		s.replicationLog.Reset()
		if s.resetCallback != nil {
			s.resetCallback()
		}
	}

	s.metrics.setNodeStateGauge(target)
	s.electionSignal.broadcast()
	s.replicationSignal.broadcast()

	s.logger.Info().
		Uint16("id", uint16(s.id)).
		Str("from", current.String()).
		Str("to", target.String()).
		Uint64("currentTerm", uint64(s.currentTerm)).
		Msg("raft mode transition")
	return nil
}

// stepDownLocked implements the "higher term observed" rule shared by the
// RequestVote handler, the AppendEntries handler and every peer-reply
// path: current_term <- term, voted_for <- none, transition to Follower.
// Must be called with mu held.
func (s *Server) stepDownLocked(newTerm Term) {
	s.currentTerm = newTerm
	s.votedFor = nil
	if err := s.store.SetCurrentTerm(newTerm); err != nil {
		s.fatal(fmt.Errorf("raft: %w: %v", ErrMissingPersistentData, err))
		return
	}
	if err := s.store.SetVotedFor(nil); err != nil {
		s.fatal(fmt.Errorf("raft: %w: %v", ErrMissingPersistentData, err))
		return
	}
	_ = s.switchStateLocked(Follower)
	s.resetElectionDeadlineLocked()
}

// resetElectionDeadlineLocked picks a fresh uniformly random deadline in
// [ElectionTimeoutMin, ElectionTimeoutMax) and wakes the election timer.
// Must be called with mu held.
func (s *Server) resetElectionDeadlineLocked() {
	span := int64(s.options.ElectionTimeoutMax - s.options.ElectionTimeoutMin)
	var jitter time.Duration
	if span > 0 {
		jitter = time.Duration(s.rng.Int63n(span))
	}
	s.electionDeadline = time.Now().Add(s.options.ElectionTimeoutMin + jitter)
	s.electionSignal.broadcast()
}

// lastLogTermLocked returns the term of the entry at index, or 0 for index 0.
// Must be called with mu held.
func (s *Server) lastLogTermLocked(index uint64) Term {
	if index == 0 {
		return 0
	}
	entry, err := s.store.GetLogEntry(index)
	if err != nil {
		s.fatal(fmt.Errorf("raft: %w: reading term of index %d: %v", ErrMissingPersistentData, index, err))
		return 0
	}
	return entry.Term
}

// appendEntryLocked appends one entry at last_log_index+1 in the current
// term and returns its index. The caller must already hold mu and have
// verified this server is Leader.
func (s *Server) appendEntryLocked(deltas []StateDelta) (uint64, error) {
	entry := LogEntry{Term: s.currentTerm, Deltas: deltas}
	idx := s.lastLogIndex + 1
	if err := s.store.AppendLogEntries(idx, []LogEntry{entry}); err != nil {
		return 0, err
	}
	s.lastLogIndex = idx
	s.advanceCommitIndexLocked()
	return idx, nil
}
