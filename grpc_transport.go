package raft

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/katla-db/raft/raftpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GRPCTransport implements Transport over plaintext google.golang.org/grpc,
// the same transport the teacher repo uses for its own peer RPCs. The wire
// types are raftpb's hand-written structs registered against grpc through
// raftpb's custom codec rather than full proto.Message reflection. Calls
// travel with the "raftwire" content subtype, and message bodies use
// protobuf field numbers and encodings.
type GRPCTransport struct {
	selfID     ServerID
	listenAddr string
	timeout    time.Duration
	logger     *zerolog.Logger

	mu          sync.Mutex
	peers       map[ServerID]string
	conns       map[ServerID]*grpc.ClientConn
	unreachable map[ServerID]bool

	server  *grpc.Server
	handler RPCHandler
}

// NewGRPCTransport constructs a transport that will listen on listenAddr
// and dial peers lazily on first use.
func NewGRPCTransport(selfID ServerID, listenAddr string, peers map[ServerID]string, timeout time.Duration, logger *zerolog.Logger) *GRPCTransport {
	return &GRPCTransport{
		selfID:      selfID,
		listenAddr:  listenAddr,
		timeout:     timeout,
		logger:      logger,
		peers:       peers,
		conns:       make(map[ServerID]*grpc.ClientConn),
		unreachable: make(map[ServerID]bool),
	}
}

// RegisterHandler wires the server-side handler.
func (t *GRPCTransport) RegisterHandler(handler RPCHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Start begins serving incoming RequestVote/AppendEntries RPCs.
func (t *GRPCTransport) Start() error {
	lis, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return fmt.Errorf("raft: listening on %s: %w", t.listenAddr, err)
	}
	t.server = grpc.NewServer()
	raftpb.RegisterRaftServer(t.server, &raftGRPCServer{transport: t})
	go func() {
		if err := t.server.Serve(lis); err != nil {
			t.logger.Warn().Err(err).Str("address", t.listenAddr).Msg("grpc server stopped serving")
		}
	}()
	return nil
}

// Stop gracefully tears down the RPC server and every outbound connection.
func (t *GRPCTransport) Stop() error {
	if t.server != nil {
		t.server.GracefulStop()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, conn := range t.conns {
		_ = conn.Close()
		delete(t.conns, id)
	}
	return nil
}

// clientFor lazily dials peer, caching the connection across RPC kinds.
// A failed dial is recorded, so Reachable reports the peer as down until
// a later dial or RPC to it succeeds.
func (t *GRPCTransport) clientFor(peer ServerID) (raftpb.RaftClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[peer]; ok {
		return raftpb.NewRaftClient(conn), nil
	}

	address, ok := t.peers[peer]
	if !ok {
		return nil, fmt.Errorf("raft: %w: no address known for peer %d", ErrTransportError, peer)
	}

	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(raftpb.CodecName)),
	)
	if err != nil {
		t.unreachable[peer] = true
		return nil, fmt.Errorf("raft: %w: dialing peer %d at %s: %v", ErrTransportError, peer, address, err)
	}
	t.conns[peer] = conn
	t.unreachable[peer] = false
	return raftpb.NewRaftClient(conn), nil
}

func (t *GRPCTransport) markUnreachable(peer ServerID, unreachable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unreachable[peer] = unreachable
}

// Reachable reports the last known reachability of peer. It is a hint
// only: a peer reported unreachable may still receive a retried RPC.
func (t *GRPCTransport) Reachable(peer ServerID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.unreachable[peer]
}

// RequestVote sends a RequestVote RPC to peer.
func (t *GRPCTransport) RequestVote(ctx context.Context, peer ServerID, req RequestVoteRequest) (RequestVoteResponse, error) {
	client, err := t.clientFor(peer)
	if err != nil {
		return RequestVoteResponse{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	reply, err := client.RequestVote(ctx, &raftpb.RequestVoteRequest{
		Term:         uint64(req.Term),
		CandidateID:  uint32(req.CandidateID),
		LastLogIndex: req.LastLogIndex,
		LastLogTerm:  uint64(req.LastLogTerm),
	})
	if err != nil {
		t.markUnreachable(peer, true)
		return RequestVoteResponse{}, fmt.Errorf("raft: %w: RequestVote to peer %d: %v", ErrTransportError, peer, err)
	}
	t.markUnreachable(peer, false)
	return RequestVoteResponse{Term: Term(reply.Term), VoteGranted: reply.VoteGranted}, nil
}

// AppendEntries sends an AppendEntries RPC to peer.
func (t *GRPCTransport) AppendEntries(ctx context.Context, peer ServerID, req AppendEntriesRequest) (AppendEntriesResponse, error) {
	client, err := t.clientFor(peer)
	if err != nil {
		return AppendEntriesResponse{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	pbReq := &raftpb.AppendEntriesRequest{
		Term:         uint64(req.Term),
		LeaderID:     uint32(req.LeaderID),
		PrevLogIndex: req.PrevLogIndex,
		PrevLogTerm:  uint64(req.PrevLogTerm),
		LeaderCommit: req.LeaderCommit,
	}
	for _, e := range req.Entries {
		pbReq.Entries = append(pbReq.Entries, logEntryToPB(e))
	}

	reply, err := client.AppendEntries(ctx, pbReq)
	if err != nil {
		t.markUnreachable(peer, true)
		return AppendEntriesResponse{}, fmt.Errorf("raft: %w: AppendEntries to peer %d: %v", ErrTransportError, peer, err)
	}
	t.markUnreachable(peer, false)
	return AppendEntriesResponse{Term: Term(reply.Term), Success: reply.Success}, nil
}

// raftGRPCServer implements raftpb.RaftServer on the receiving side,
// dispatching into the transport's registered RPCHandler. It is kept off
// *GRPCTransport itself because raftpb.RaftServer's RequestVote/AppendEntries
// signatures (context.Context, *raftpb.X) collide with Transport's own
// client-side RequestVote/AppendEntries methods on the same receiver type.
type raftGRPCServer struct {
	transport *GRPCTransport
}

func (s *raftGRPCServer) handler() RPCHandler {
	s.transport.mu.Lock()
	defer s.transport.mu.Unlock()
	return s.transport.handler
}

// RequestVote implements raftpb.RaftServer on the receiving side.
func (s *raftGRPCServer) RequestVote(ctx context.Context, in *raftpb.RequestVoteRequest) (*raftpb.RequestVoteResponse, error) {
	handler := s.handler()
	if handler == nil {
		return nil, fmt.Errorf("raft: no RPC handler registered")
	}
	resp := handler.HandleRequestVote(RequestVoteRequest{
		Term:         Term(in.Term),
		CandidateID:  ServerID(in.CandidateID),
		LastLogIndex: in.LastLogIndex,
		LastLogTerm:  Term(in.LastLogTerm),
	})
	return &raftpb.RequestVoteResponse{Term: uint64(resp.Term), VoteGranted: resp.VoteGranted}, nil
}

// AppendEntries implements raftpb.RaftServer on the receiving side.
func (s *raftGRPCServer) AppendEntries(ctx context.Context, in *raftpb.AppendEntriesRequest) (*raftpb.AppendEntriesResponse, error) {
	handler := s.handler()
	if handler == nil {
		return nil, fmt.Errorf("raft: no RPC handler registered")
	}

	req := AppendEntriesRequest{
		Term:         Term(in.Term),
		LeaderID:     ServerID(in.LeaderID),
		PrevLogIndex: in.PrevLogIndex,
		PrevLogTerm:  Term(in.PrevLogTerm),
		LeaderCommit: in.LeaderCommit,
	}
	for _, e := range in.Entries {
		req.Entries = append(req.Entries, pbToLogEntry(e))
	}

	resp := handler.HandleAppendEntries(req)
	return &raftpb.AppendEntriesResponse{Term: uint64(resp.Term), Success: resp.Success}, nil
}

func logEntryToPB(e LogEntry) *raftpb.LogEntry {
	pb := &raftpb.LogEntry{Term: uint64(e.Term)}
	for _, d := range e.Deltas {
		pb.Deltas = append(pb.Deltas, &raftpb.StateDelta{
			Kind:    raftpb.DeltaKind(d.Kind),
			TxID:    d.TxID,
			Payload: d.Payload,
		})
	}
	return pb
}

func pbToLogEntry(pb *raftpb.LogEntry) LogEntry {
	e := LogEntry{Term: Term(pb.Term)}
	for _, d := range pb.Deltas {
		e.Deltas = append(e.Deltas, StateDelta{
			Kind:    DeltaKind(d.Kind),
			TxID:    d.TxID,
			Payload: d.Payload,
		})
	}
	return e
}
