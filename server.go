package raft

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Server is C5: the Raft state machine owning the election timer,
// heartbeat/replication per peer, commit-index advancement, term updates
// and leader no-op insertion. All mutable state lives on the instance;
// there are no process-wide singletons.
type Server struct {
	id      ServerID
	options Options
	peerIDs []ServerID

	store          *MetadataStore
	replicationLog *ReplicationLog
	buffer         *LogEntryBuffer
	transport      Transport
	applier        Applier
	metrics        *metrics
	logger         *zerolog.Logger

	// resetCallback is invoked on Leader->Follower transitions to return a
	// state machine that cannot skip indices to empty, per §4.5 Recovery.
	resetCallback func()

	rng *rand.Rand

	mu sync.Mutex

	currentTerm Term
	votedFor    *ServerID
	mode        Mode
	leaderID    *ServerID

	commitIndex  uint64
	lastApplied  uint64
	lastLogIndex uint64

	electionDeadline time.Time

	nextIndex    map[ServerID]uint64
	matchIndex   map[ServerID]uint64
	backoffUntil map[ServerID]time.Time

	grantedVotes map[ServerID]bool

	// notLeader mirrors "mode != Leader || exiting" without needing s.mu,
	// so SafeToCommit's wait can observe a step-down/shutdown while
	// ReplicationLog's own lock is held, instead of acquiring s.mu
	// nested under ReplicationLog's mu (see waitSafeOrSignal: that
	// ordering, mirrored by every other s.mu->r.mu path in this package,
	// would deadlock against a writer blocked in SafeToCommit).
	notLeader atomic.Bool

	// appendedAt records when a leader-local transaction's entry was
	// appended, so the apply loop can observe commit latency once it
	// becomes safe to commit. Entries only ever added here are removed by
	// the apply loop once observed.
	appendedAt map[uint64]time.Time

	electionSignal     *signal
	replicationSignal  *signal
	leaderSignal       *signal
	applySignal        *signal

	quitCtx    context.Context
	quitCancel context.CancelFunc
	wg         sync.WaitGroup

	started bool
	exiting bool
}

// NewServer constructs C5 along with its owned collaborators (C1's
// MetadataStore, C2's ReplicationLog, C3's LogEntryBuffer) and wires the
// supplied transport (C4) and applier (C6). resetCallback may be nil.
func NewServer(options Options, transport Transport, applier Applier, resetCallback func()) (*Server, error) {
	if err := options.applyDefaults(); err != nil {
		return nil, err
	}
	store, err := NewMetadataStore(options.DataDir)
	if err != nil {
		return nil, err
	}

	var peerIDs []ServerID
	for _, p := range options.Peers {
		peerIDs = append(peerIDs, p.ID)
	}

	s := &Server{
		id:                options.ID,
		options:           options,
		peerIDs:           peerIDs,
		store:             store,
		replicationLog:    NewReplicationLog(),
		transport:         transport,
		applier:           applier,
		logger:            options.Logger,
		resetCallback:     resetCallback,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(options.ID))),
		appendedAt:        make(map[uint64]time.Time),
		electionSignal:    newSignal(),
		replicationSignal: newSignal(),
		leaderSignal:      newSignal(),
		applySignal:       newSignal(),
	}
	s.buffer = NewLogEntryBuffer(s)
	s.metrics = newMetrics(fmt.Sprintf("%d", options.ID), options.MetricsNamespacePrefix)
	s.notLeader.Store(true)
	return s, nil
}

// Start recovers persisted state, starts every background goroutine and
// begins serving RPCs. Per §4.5 Recovery, committed entries are never
// re-applied eagerly at startup; the apply loop re-drives apply from
// last_applied as commit_index advances afterwards.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}

	term, err := s.store.CurrentTerm()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("raft: recovering current_term: %w", err)
	}
	votedFor, err := s.store.VotedFor()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("raft: recovering voted_for: %w", err)
	}
	lastIndex, err := s.store.LastLogIndex()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("raft: recovering last log index: %w", err)
	}

	s.currentTerm = term
	s.votedFor = votedFor
	s.lastLogIndex = lastIndex
	s.commitIndex = 0
	s.lastApplied = 0
	s.mode = Follower
	s.exiting = false
	s.notLeader.Store(true)
	s.quitCtx, s.quitCancel = context.WithCancel(context.Background())
	s.resetElectionDeadlineLocked()
	s.metrics.setNodeStateGauge(Follower)
	s.started = true
	s.mu.Unlock()

	s.replicationLog.Reset()
	s.transport.RegisterHandler(s)
	if err := s.transport.Start(); err != nil {
		return fmt.Errorf("raft: starting transport: %w", err)
	}

	s.wg.Add(3 + len(s.peerIDs))
	go s.runElectionTimer()
	go s.runNoOpIssuer()
	go s.runApplyLoop()
	for _, p := range s.peerIDs {
		go s.runPeerThread(p)
	}

	s.logger.Info().
		Uint16("id", uint16(s.id)).
		Uint64("currentTerm", uint64(term)).
		Uint64("lastLogIndex", lastIndex).
		Msg("raft server started")
	return nil
}

// Shutdown stops every background goroutine, the RPC transport and closes
// the metadata store. It is idempotent.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if !s.started || s.exiting {
		s.mu.Unlock()
		return nil
	}
	s.exiting = true
	s.notLeader.Store(true)
	s.quitCancel()
	s.mu.Unlock()

	s.electionSignal.broadcast()
	s.replicationSignal.broadcast()
	s.leaderSignal.broadcast()
	s.applySignal.broadcast()
	s.replicationLog.broadcast()

	s.wg.Wait()

	if err := s.transport.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("error stopping transport during shutdown")
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("error closing metadata store during shutdown")
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

// IsLeader reports whether this server currently believes itself to be leader.
func (s *Server) IsLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode == Leader
}

// currentMode is used by tests and the supervisor; exported mode details
// beyond IsLeader are intentionally not part of the public API.
func (s *Server) currentMode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Emplace buffers a StateDelta produced by a local writing transaction.
func (s *Server) Emplace(delta StateDelta) error {
	return s.buffer.Emplace(delta)
}

// SafeToCommit blocks until either the replication log reports tx_id
// safe-to-commit (returns true), or this server leaves Leader mode or
// shuts down (returns false). A writer must never observe a commit as
// durable until both conditions hold: replicated on a majority and
// applied locally.
func (s *Server) SafeToCommit(txID uint64) bool {
	return s.replicationLog.waitSafeOrSignal(txID, func() bool {
		return s.notLeader.Load()
	})
}

// GarbageCollectReplicationLog drops replication-log bookkeeping for every
// transaction id <= upTo. Idempotent.
func (s *Server) GarbageCollectReplicationLog(upTo uint64) {
	s.replicationLog.GarbageCollect(upTo)
}

func (s *Server) fatal(err error) {
	if err == nil {
		return
	}
	s.logger.Error().Err(err).Uint16("id", uint16(s.id)).Msg("fatal raft error, shutting down")
	go func() { _ = s.Shutdown() }()
}
