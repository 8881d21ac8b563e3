package raft

import (
	"fmt"
	"time"

	"github.com/katla-db/raft/logger"
	"github.com/rs/zerolog"
)

// Peer describes one addressable cluster member.
type Peer struct {
	ID      ServerID
	Address string
}

// Options holds everything a Server needs at construction time. There is
// no global mutable configuration: every component receives its slice of
// this struct explicitly through the Server constructor.
type Options struct {
	// Logger is used by every component constructed from these Options.
	// When nil, NewServer populates it with logger.NewLogger("raft");
	// DefaultOptions leaves it nil.
	Logger *zerolog.Logger

	// ID is this server's own ServerID, in [1, ClusterSize].
	ID ServerID

	// Peers lists every other member of the fixed-size cluster.
	Peers []Peer

	// ClusterSize is N, the fixed cluster size (1 + len(Peers) normally).
	ClusterSize uint64

	// ElectionTimeoutMin/Max bound the randomized election deadline.
	// Typical values are 150-300ms, which are also the defaults.
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration

	// HeartbeatInterval is how often a leader sends AppendEntries to a
	// quiet peer. Must be much smaller than ElectionTimeoutMin.
	HeartbeatInterval time.Duration

	// ReplicateTimeout bounds a single AppendEntries/RequestVote RPC.
	ReplicateTimeout time.Duration

	// DataDir is durability_dir: the filesystem path backing C1.
	DataDir string

	// ListenAddress is the local address the RPC server binds to.
	ListenAddress string

	// MetricsNamespacePrefix prefixes every exported Prometheus metric name.
	MetricsNamespacePrefix string
}

// DefaultOptions returns an Options with the timing fields and ClusterSize
// set to defaults; ID, Peers, DataDir, ListenAddress, Logger and
// MetricsNamespacePrefix are left empty. Callers then override whichever
// fields their deployment requires.
func DefaultOptions() Options {
	return Options{
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  30 * time.Millisecond,
		ReplicateTimeout:   200 * time.Millisecond,
		ClusterSize:        1,
	}
}

// applyDefaults fills unset fields in place and validates the result.
func (o *Options) applyDefaults() error {
	def := DefaultOptions()
	if o.ElectionTimeoutMin == 0 {
		o.ElectionTimeoutMin = def.ElectionTimeoutMin
	}
	if o.ElectionTimeoutMax == 0 {
		o.ElectionTimeoutMax = def.ElectionTimeoutMax
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = def.HeartbeatInterval
	}
	if o.ReplicateTimeout == 0 {
		o.ReplicateTimeout = def.ReplicateTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.NewLogger("raft")
	}
	if o.ClusterSize == 0 {
		o.ClusterSize = uint64(1 + len(o.Peers))
	}
	return o.validate()
}

func (o *Options) validate() error {
	if o.DataDir == "" {
		return ErrDataDirRequired
	}
	if o.ID == 0 {
		return fmt.Errorf("raft: Options.ID must be in [1, ClusterSize]")
	}
	if o.ElectionTimeoutMin >= o.ElectionTimeoutMax {
		return fmt.Errorf("raft: ElectionTimeoutMin must be < ElectionTimeoutMax")
	}
	if o.HeartbeatInterval*4 > o.ElectionTimeoutMin {
		return fmt.Errorf("raft: HeartbeatInterval must be much smaller than ElectionTimeoutMin")
	}
	if uint64(len(o.Peers))+1 > o.ClusterSize {
		return fmt.Errorf("raft: ClusterSize smaller than len(Peers)+1")
	}
	return nil
}

// quorum returns ceil((N+1)/2), the majority size including self, per the
// HasMajorityVote resolution recorded in DESIGN.md.
func (o *Options) quorum() uint64 {
	return (o.ClusterSize + 2) / 2
}
