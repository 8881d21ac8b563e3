package raft

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// maxAppendEntries caps how many log entries a single AppendEntries RPC
// carries, bounding worst-case RPC size when a follower is far behind.
const maxAppendEntries = 64

// runNoOpIssuer appends a no-op entry (an entry with zero deltas) every
// time this server becomes leader, per §4.5's Leader entry behavior. The
// buffer is enabled in becomeLeaderLocked before this thread takes the
// lock, so a writer's entry can land in the log ahead of the no-op. This also
// gives a freshly elected leader with no writers a log entry to drive its
// commit-index advancement off of immediately.
func (s *Server) runNoOpIssuer() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if s.exiting {
			s.mu.Unlock()
			return
		}
		isLeader := s.mode == Leader
		wakeup := s.leaderSignal.wait()
		s.mu.Unlock()

		if !isLeader {
			select {
			case <-s.quitCtx.Done():
				return
			case <-wakeup:
			}
			continue
		}

		s.mu.Lock()
		if s.mode == Leader {
			if _, err := s.appendEntryLocked(nil); err != nil {
				s.fatal(err)
			} else {
				s.replicationSignal.broadcast()
			}
		}
		s.mu.Unlock()

		select {
		case <-s.quitCtx.Done():
			return
		case <-wakeup:
		}
	}
}

// runPeerThread is the per-peer replication thread from §5.2: while this
// server is leader, it periodically (or on demand) calls replicateToPeer,
// otherwise it idles until woken by a mode change.
func (s *Server) runPeerThread(peer ServerID) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if s.exiting {
			s.mu.Unlock()
			return
		}
		isLeader := s.mode == Leader
		modeWakeup := s.replicationSignal.wait()
		s.mu.Unlock()

		if !isLeader {
			select {
			case <-s.quitCtx.Done():
				return
			case <-modeWakeup:
			}
			continue
		}

		s.replicateToPeer(peer)

		timer := time.NewTimer(s.options.HeartbeatInterval)
		select {
		case <-s.quitCtx.Done():
			timer.Stop()
			return
		case <-modeWakeup:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// replicateToPeer sends one AppendEntries RPC to peer, carrying whatever
// entries peer is currently missing (capped at maxAppendEntries), and
// reacts to the reply per §4.5's leader-side rules.
func (s *Server) replicateToPeer(peer ServerID) {
	s.mu.Lock()
	if s.mode != Leader {
		s.mu.Unlock()
		return
	}
	if until, ok := s.backoffUntil[peer]; ok && time.Now().Before(until) {
		s.mu.Unlock()
		return
	}

	term := s.currentTerm
	next := s.nextIndex[peer]
	if next == 0 {
		next = 1
	}
	prevIndex := next - 1
	prevTerm := s.lastLogTermLocked(prevIndex)

	var entries []LogEntry
	if next <= s.lastLogIndex {
		last := s.lastLogIndex
		if last-next+1 > maxAppendEntries {
			last = next + maxAppendEntries - 1
		}
		suffix, err := s.store.GetLogSuffix(next)
		if err != nil {
			s.mu.Unlock()
			s.fatal(err)
			return
		}
		if uint64(len(suffix)) > last-next+1 {
			suffix = suffix[:last-next+1]
		}
		entries = suffix
	}
	leaderCommit := s.commitIndex
	s.metrics.incAppendEntriesSent()
	s.mu.Unlock()

	// roundID tags the log line of this one AppendEntries exchange with
	// peer; every call draws a fresh id, so it is not shared across peer
	// goroutines. It never crosses the wire.
	roundID := uuid.NewString()
	s.logger.Debug().
		Str("round", roundID).
		Uint16("peer", uint16(peer)).
		Uint64("prevLogIndex", prevIndex).
		Int("entries", len(entries)).
		Msg("sending AppendEntries")

	ctx, cancel := context.WithTimeout(s.quitCtx, s.options.ReplicateTimeout)
	defer cancel()
	resp, err := s.transport.AppendEntries(ctx, peer, AppendEntriesRequest{
		Term:         term,
		LeaderID:     s.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: leaderCommit,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Leader || s.currentTerm != term {
		return
	}

	if err != nil {
		s.backoffUntil[peer] = time.Now().Add(s.options.HeartbeatInterval)
		return
	}
	delete(s.backoffUntil, peer)

	if resp.Term > s.currentTerm {
		s.stepDownLocked(resp.Term)
		return
	}

	if !resp.Success {
		if s.nextIndex[peer] > 1 {
			s.nextIndex[peer]--
		}
		return
	}

	if len(entries) > 0 {
		matched := prevIndex + uint64(len(entries))
		if matched > s.matchIndex[peer] {
			s.matchIndex[peer] = matched
		}
		if matched+1 > s.nextIndex[peer] {
			s.nextIndex[peer] = matched + 1
		}
		s.advanceCommitIndexLocked()
	}
}

// advanceCommitIndexLocked implements §5.4.2: commit_index may only advance
// to an index that both (a) a majority of match_index values reach, and
// (b) whose entry's term equals current_term, never committing an entry
// from a prior term purely by counting replicas. Must be called with mu
// held.
func (s *Server) advanceCommitIndexLocked() {
	indices := make([]uint64, 0, len(s.peerIDs)+1)
	indices = append(indices, s.lastLogIndex)
	for _, p := range s.peerIDs {
		indices = append(indices, s.matchIndex[p])
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] > indices[j] })

	quorum := s.options.quorum()
	if quorum == 0 || quorum > uint64(len(indices)) {
		return
	}
	candidate := indices[quorum-1]
	if candidate <= s.commitIndex {
		return
	}

	entry, err := s.store.GetLogEntry(candidate)
	if err != nil {
		s.fatal(err)
		return
	}
	if entry.Term != s.currentTerm {
		return
	}

	previousCommit := s.commitIndex
	s.commitIndex = candidate
	s.markReplicatedLocked(previousCommit+1, candidate, entry)
	s.applySignal.broadcast()
}

// markReplicatedLocked marks every transaction committed in [from, to] as
// known committed by Raft (stored on a majority), per §2/§4.2's definition
// of the replicated bit. last is the already-fetched entry at index to,
// passed in to avoid re-reading it. Must be called with mu held.
func (s *Server) markReplicatedLocked(from, to uint64, last LogEntry) {
	for idx := from; idx <= to; idx++ {
		entry := last
		if idx != to {
			var err error
			entry, err = s.store.GetLogEntry(idx)
			if err != nil {
				s.fatal(err)
				return
			}
		}
		for _, delta := range entry.Deltas {
			if delta.Kind == DeltaTransactionCommit {
				s.replicationLog.SetReplicated(delta.TxID)
			}
		}
	}
}
