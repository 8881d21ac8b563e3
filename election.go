package raft

import (
	"context"
	"time"
)

// runElectionTimer is the election timer thread: it waits on the election
// deadline or a wakeup signal, and starts a new election whenever the
// deadline expires while this server is not Leader.
func (s *Server) runElectionTimer() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if s.exiting {
			s.mu.Unlock()
			return
		}
		mode := s.mode
		deadline := s.electionDeadline
		wakeup := s.electionSignal.wait()
		s.mu.Unlock()

		if mode == Leader {
			select {
			case <-s.quitCtx.Done():
				return
			case <-wakeup:
			}
			continue
		}

		wait := time.Until(deadline)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-s.quitCtx.Done():
			timer.Stop()
			return
		case <-wakeup:
			timer.Stop()
		case <-timer.C:
			s.onElectionTimeout()
		}
	}
}

func (s *Server) onElectionTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exiting || s.mode == Leader || time.Now().Before(s.electionDeadline) {
		return
	}
	s.startElectionLocked()
}

// startElectionLocked is the Candidate mode's entry behavior from §4.5:
// increment current_term, vote for self, reset the election deadline and
// send RequestVote to every peer. Must be called with mu held.
func (s *Server) startElectionLocked() {
	if err := s.switchStateLocked(Candidate); err != nil {
		s.fatal(err)
		return
	}

	s.currentTerm++
	self := s.id
	s.votedFor = &self
	if err := s.store.SetCurrentTerm(s.currentTerm); err != nil {
		s.fatal(err)
		return
	}
	if err := s.store.SetVotedFor(s.votedFor); err != nil {
		s.fatal(err)
		return
	}
	s.resetElectionDeadlineLocked()

	s.metrics.incElectionsStarted()
	s.grantedVotes = map[ServerID]bool{s.id: true}
	term := s.currentTerm
	lastIndex := s.lastLogIndex
	lastTerm := s.lastLogTermLocked(lastIndex)
	quorum := s.options.quorum()
	peers := append([]ServerID(nil), s.peerIDs...)

	s.logger.Info().
		Uint16("id", uint16(s.id)).
		Uint64("term", uint64(term)).
		Int("peers", len(peers)).
		Msg("starting election campaign")

	if uint64(len(s.grantedVotes)) >= quorum {
		s.becomeLeaderLocked()
		return
	}

	for _, p := range peers {
		p := p
		s.wg.Add(1)
		go s.sendRequestVote(p, term, lastIndex, lastTerm, quorum)
	}
}

// sendRequestVote sends one RequestVote RPC, unlocked, and processes the
// reply under the lock. A transport failure is never propagated to the
// caller; it simply fails to record a vote.
func (s *Server) sendRequestVote(peer ServerID, term Term, lastIndex uint64, lastTerm Term, quorum uint64) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(s.quitCtx, s.options.ReplicateTimeout)
	defer cancel()

	resp, err := s.transport.RequestVote(ctx, peer, RequestVoteRequest{
		Term:         term,
		CandidateID:  s.id,
		LastLogIndex: lastIndex,
		LastLogTerm:  lastTerm,
	})
	if err != nil {
		s.logger.Warn().Err(err).Uint16("peer", uint16(peer)).Msg("RequestVote transport failure")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != Candidate || s.currentTerm != term {
		return
	}
	if resp.Term > s.currentTerm {
		s.stepDownLocked(resp.Term)
		return
	}
	if !resp.VoteGranted {
		return
	}
	s.grantedVotes[peer] = true
	if uint64(len(s.grantedVotes)) >= quorum {
		s.becomeLeaderLocked()
	}
}

// becomeLeaderLocked is the Leader mode's entry behavior from §4.5: reset
// per-peer volatile state, enable the log-entry buffer and wake the no-op
// issuer thread. Must be called with mu held.
func (s *Server) becomeLeaderLocked() {
	if err := s.switchStateLocked(Leader); err != nil {
		s.fatal(err)
		return
	}

	s.nextIndex = make(map[ServerID]uint64, len(s.peerIDs))
	s.matchIndex = make(map[ServerID]uint64, len(s.peerIDs))
	s.backoffUntil = make(map[ServerID]time.Time, len(s.peerIDs))
	for _, p := range s.peerIDs {
		s.nextIndex[p] = s.lastLogIndex + 1
		s.matchIndex[p] = 0
	}
	self := s.id
	s.leaderID = &self

	s.buffer.Enable()
	s.leaderSignal.broadcast()
	s.replicationSignal.broadcast()

	s.logger.Info().
		Uint16("id", uint16(s.id)).
		Uint64("term", uint64(s.currentTerm)).
		Msg("elected leader")
}

// HandleRequestVote implements RPCHandler's vote-granting rules from §4.5.
func (s *Server) HandleRequestVote(req RequestVoteRequest) RequestVoteResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Term < s.currentTerm {
		return RequestVoteResponse{Term: s.currentTerm, VoteGranted: false}
	}
	if req.Term > s.currentTerm {
		s.stepDownLocked(req.Term)
	}

	if s.votedFor != nil && *s.votedFor != req.CandidateID {
		return RequestVoteResponse{Term: s.currentTerm, VoteGranted: false}
	}

	myLastIndex := s.lastLogIndex
	myLastTerm := s.lastLogTermLocked(myLastIndex)
	candidateUpToDate := req.LastLogTerm > myLastTerm ||
		(req.LastLogTerm == myLastTerm && req.LastLogIndex >= myLastIndex)
	if !candidateUpToDate {
		return RequestVoteResponse{Term: s.currentTerm, VoteGranted: false}
	}

	candidate := req.CandidateID
	s.votedFor = &candidate
	if err := s.store.SetVotedFor(s.votedFor); err != nil {
		s.fatal(err)
		return RequestVoteResponse{Term: s.currentTerm, VoteGranted: false}
	}
	s.resetElectionDeadlineLocked()
	return RequestVoteResponse{Term: s.currentTerm, VoteGranted: true}
}
