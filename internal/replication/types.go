// Package replication implements the pull-based anti-entropy worker that
// converges a local node's partitions toward the union of its peers' state.
package replication

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ServerErrorCode is the per-slot or top-level error reported by a remote
// node in a metadata or get response.
type ServerErrorCode int

const (
	NoError ServerErrorCode = iota
	IOError
	PartitionUnknown
	AlreadyExists
	Unknown
)

func (c ServerErrorCode) String() string {
	switch c {
	case NoError:
		return "no_error"
	case IOError:
		return "io_error"
	case PartitionUnknown:
		return "partition_unknown"
	case AlreadyExists:
		return "already_exist"
	default:
		return "unknown"
	}
}

// BlobKey identifies one blob. Equality is total and partition membership is
// stable for the lifetime of the key.
type BlobKey struct {
	ID        string
	Partition string
}

func (k BlobKey) String() string {
	return fmt.Sprintf("%s/%s", k.Partition, k.ID)
}

// FindToken is an opaque, ordered position marker in a remote replica's log.
type FindToken interface {
	Bytes() []byte
	Equal(other FindToken) bool
	String() string
}

// TokenFactory decodes tokens received over the wire and mints the initial
// token a brand-new RemoteReplicaState starts from.
type TokenFactory interface {
	Decode(data []byte) (FindToken, error)
	ZeroToken() FindToken
}

// MessageInfo describes one entry in a remote replica's log as reported
// during metadata exchange or carried in a get response.
type MessageInfo struct {
	Key       BlobKey
	Size      int64
	IsDeleted bool
	IsExpired bool
}

// RemoteReplicaState owns the progress token for one remote replica paired
// with one local replica, plus a handle to the local store that backs it.
// The token is read-only to every component; it changes only through
// advanceToken, which Writer calls.
type RemoteReplicaState struct {
	RemoteReplicaID string
	RemoteNode      string
	RemoteHost      string
	RemotePort      int
	RemoteColo      string
	LocalReplicaID  string
	Partition       string
	LocalStore      LocalStore

	mu    sync.RWMutex
	token FindToken
}

// NewRemoteReplicaState constructs replica state seeded with a starting
// token, typically loaded from the persisted token store at process start.
func NewRemoteReplicaState(remoteReplicaID, remoteNode, remoteHost string, remotePort int, remoteColo, localReplicaID, partition string, store LocalStore, startToken FindToken) *RemoteReplicaState {
	return &RemoteReplicaState{
		RemoteReplicaID: remoteReplicaID,
		RemoteNode:      remoteNode,
		RemoteHost:      remoteHost,
		RemotePort:      remotePort,
		RemoteColo:      remoteColo,
		LocalReplicaID:  localReplicaID,
		Partition:       partition,
		LocalStore:      store,
		token:           startToken,
	}
}

// Token returns the current progress token. Safe for concurrent readers.
func (s *RemoteReplicaState) Token() FindToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// advanceToken is the only path by which a token mutates; Writer calls it
// once a slot's missing keys are durably written or confirmed unnecessary.
func (s *RemoteReplicaState) advanceToken(t FindToken) {
	if t == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = t
}

// PeerBatch is the set of remote replicas co-located on one remote node,
// exchanged together in a single network round-trip.
type PeerBatch struct {
	RemoteNode string
	RemoteHost string
	RemotePort int
	RemoteColo string
	Entries    []*RemoteReplicaState
}

// PeerGrouping groups a worker's remote replicas by remote node so one
// connection amortizes over every partition shared with that peer.
type PeerGrouping struct {
	states []*RemoteReplicaState
}

// NewPeerGrouping captures the fixed set of replica states a worker owns for
// its lifetime; grouping into batches is recomputed on every call to
// Shuffled rather than cached.
func NewPeerGrouping(states []*RemoteReplicaState) *PeerGrouping {
	return &PeerGrouping{states: states}
}

// Shuffled regroups the owned states by remote node and returns the
// resulting batches in random order, so repeated passes do not starve peers
// late in a fixed iteration order.
func (g *PeerGrouping) Shuffled(rng *rand.Rand) []*PeerBatch {
	byNode := make(map[string]*PeerBatch)
	order := make([]string, 0)
	for _, s := range g.states {
		b, ok := byNode[s.RemoteNode]
		if !ok {
			b = &PeerBatch{RemoteNode: s.RemoteNode, RemoteHost: s.RemoteHost, RemotePort: s.RemotePort, RemoteColo: s.RemoteColo}
			byNode[s.RemoteNode] = b
			order = append(order, s.RemoteNode)
		}
		b.Entries = append(b.Entries, s)
	}
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	batches := make([]*PeerBatch, len(order))
	for i, node := range order {
		batches[i] = byNode[node]
	}
	return batches
}

// ExchangeMetadataResult is the outcome of one replica's metadata round: a
// tagged union of Ok{missing, token} or Err{code}, exactly one variant.
type ExchangeMetadataResult struct {
	MissingKeys map[BlobKey]struct{}
	NewToken    FindToken
	Err         ServerErrorCode
}

// IsError reports whether this slot carries a server error rather than a
// usable missing-key set.
func (r ExchangeMetadataResult) IsError() bool {
	return r.Err != NoError
}

// Config carries the process-wide, immutable-after-start replication
// options recognized by the worker and its collaborators.
type Config struct {
	ReplicationFetchSizeBytes int64
	ConnectionCheckoutTimeout time.Duration
	MaxLagForWaitTimeBytes    int64
	WaitTimeBetweenReplicas   time.Duration
	SSLEnabledColos           map[string]bool
	ValidateMessageStream     bool
}
