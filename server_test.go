package raft

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T, id ServerID, peers []Peer, clusterSize uint64) Options {
	t.Helper()
	logger := zerolog.Nop()
	return Options{
		Logger:              &logger,
		ID:                  id,
		Peers:               peers,
		ClusterSize:         clusterSize,
		ElectionTimeoutMin:  30 * time.Millisecond,
		ElectionTimeoutMax:  60 * time.Millisecond,
		HeartbeatInterval:   5 * time.Millisecond,
		ReplicateTimeout:    50 * time.Millisecond,
		DataDir:             t.TempDir(),
		MetricsNamespacePrefix: "raft_test",
	}
}

// newTestCluster builds n servers wired together over a fakeNetwork and
// starts them all; their shutdown is registered with t.Cleanup.
func newTestCluster(t *testing.T, n int) ([]*Server, []*recordingApplier, *fakeNetwork) {
	t.Helper()
	network := newFakeNetwork()

	var allPeers []Peer
	for i := 1; i <= n; i++ {
		allPeers = append(allPeers, Peer{ID: ServerID(i)})
	}

	servers := make([]*Server, n)
	appliers := make([]*recordingApplier, n)
	for i := 1; i <= n; i++ {
		id := ServerID(i)
		var peers []Peer
		for _, p := range allPeers {
			if p.ID != id {
				peers = append(peers, p)
			}
		}
		options := testOptions(t, id, peers, uint64(n))
		applier := &recordingApplier{}
		appliers[i-1] = applier
		transport := newFakeTransport(id, network)
		server, err := NewServer(options, transport, applier, nil)
		require.NoError(t, err)
		servers[i-1] = server
	}

	for _, s := range servers {
		require.NoError(t, s.Start())
	}

	t.Cleanup(func() {
		for _, s := range servers {
			_ = s.Shutdown()
		}
	})

	return servers, appliers, network
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func findLeader(servers []*Server) *Server {
	for _, s := range servers {
		if s.IsLeader() {
			return s
		}
	}
	return nil
}

func TestClusterElectsSingleLeader(t *testing.T) {
	servers, _, _ := newTestCluster(t, 3)

	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return findLeader(servers) != nil
	}))

	leaders := 0
	for _, s := range servers {
		if s.IsLeader() {
			leaders++
		}
	}
	require.Equal(t, 1, leaders)
}

func TestClusterReplicatesAndAppliesCommittedTransaction(t *testing.T) {
	servers, appliers, _ := newTestCluster(t, 3)

	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return findLeader(servers) != nil
	}))
	leader := findLeader(servers)
	require.NotNil(t, leader)

	const txID = uint64(42)
	require.NoError(t, leader.Emplace(StateDelta{Kind: DeltaTransactionBegin, TxID: txID}))
	require.NoError(t, leader.Emplace(StateDelta{Kind: DeltaData, TxID: txID, Payload: []byte("hello")}))
	require.NoError(t, leader.Emplace(StateDelta{Kind: DeltaTransactionCommit, TxID: txID}))

	require.True(t, leader.SafeToCommit(txID))

	for i, a := range appliers {
		_ = i
		require.True(t, waitFor(t, 2*time.Second, func() bool { return a.count() > 0 }))
	}
}

func TestClusterLeaderFailoverPreservesCommittedLog(t *testing.T) {
	servers, _, _ := newTestCluster(t, 3)

	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return findLeader(servers) != nil
	}))
	leader := findLeader(servers)
	require.NotNil(t, leader)

	const txID = uint64(7)
	require.NoError(t, leader.Emplace(StateDelta{Kind: DeltaTransactionBegin, TxID: txID}))
	require.NoError(t, leader.Emplace(StateDelta{Kind: DeltaData, TxID: txID, Payload: []byte("x")}))
	require.NoError(t, leader.Emplace(StateDelta{Kind: DeltaTransactionCommit, TxID: txID}))
	require.True(t, leader.SafeToCommit(txID))

	committedIndex := leader.currentCommitIndexForTest()
	require.NoError(t, leader.Shutdown())

	var survivors []*Server
	for _, s := range servers {
		if s != leader {
			survivors = append(survivors, s)
		}
	}

	require.True(t, waitFor(t, 3*time.Second, func() bool {
		return findLeader(survivors) != nil
	}))
	newLeader := findLeader(survivors)
	require.NotNil(t, newLeader)
	require.NotEqual(t, leader.id, newLeader.id)

	entry, err := newLeader.store.GetLogEntry(committedIndex)
	require.NoError(t, err)
	require.False(t, entry.IsNoOp())
}

func TestHandleAppendEntriesTruncatesConflictingSuffix(t *testing.T) {
	options := testOptions(t, 1, []Peer{{ID: 2}}, 2)
	transport := newFakeTransport(1, newFakeNetwork())
	applier := &recordingApplier{}
	server, err := NewServer(options, transport, applier, nil)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	defer server.Shutdown()

	// Accept two entries from leader at term 1.
	resp := server.HandleAppendEntries(AppendEntriesRequest{
		Term:         1,
		LeaderID:     2,
		PrevLogIndex: 0,
		PrevLogTerm:  0,
		Entries: []LogEntry{
			{Term: 1, Deltas: []StateDelta{{Kind: DeltaData, TxID: 1, Payload: []byte("a")}}},
			{Term: 1, Deltas: []StateDelta{{Kind: DeltaData, TxID: 2, Payload: []byte("b")}}},
		},
		LeaderCommit: 0,
	})
	require.True(t, resp.Success)
	require.Equal(t, uint64(2), server.lastLogIndex)

	// A new leader at term 2 overwrites index 2 with a conflicting entry.
	resp = server.HandleAppendEntries(AppendEntriesRequest{
		Term:         2,
		LeaderID:     3,
		PrevLogIndex: 1,
		PrevLogTerm:  1,
		Entries: []LogEntry{
			{Term: 2, Deltas: []StateDelta{{Kind: DeltaData, TxID: 3, Payload: []byte("c")}}},
		},
		LeaderCommit: 0,
	})
	require.True(t, resp.Success)
	require.Equal(t, uint64(2), server.lastLogIndex)

	entry, err := server.store.GetLogEntry(2)
	require.NoError(t, err)
	require.Equal(t, Term(2), entry.Term)
}

func TestSafeToCommitUnblocksOnStepDown(t *testing.T) {
	options := testOptions(t, 1, nil, 1)
	transport := newFakeTransport(1, newFakeNetwork())
	applier := &recordingApplier{}
	server, err := NewServer(options, transport, applier, nil)
	require.NoError(t, err)
	require.NoError(t, server.Start())
	defer server.Shutdown()

	require.True(t, waitFor(t, time.Second, server.IsLeader))

	done := make(chan bool, 1)
	go func() { done <- server.SafeToCommit(99) }()

	server.mu.Lock()
	server.stepDownLocked(server.currentTerm + 1)
	server.mu.Unlock()

	select {
	case result := <-done:
		require.False(t, result)
	case <-time.After(time.Second):
		t.Fatal("SafeToCommit did not unblock on step down")
	}
}

// currentCommitIndexForTest exposes commit_index for assertions only.
func (s *Server) currentCommitIndexForTest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitIndex
}
