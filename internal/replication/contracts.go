package replication

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

// LocalStore is the local persistent store's contract: an external,
// thread-safe collaborator that guarantees per-key serializability.
type LocalStore interface {
	// FindMissingKeys returns the subset of keys not present in partition.
	FindMissingKeys(ctx context.Context, partition string, keys []BlobKey) (map[BlobKey]struct{}, error)

	// Put writes blob frames for messages, reading each message's body from
	// body sequentially in order, Size bytes at a time. Returns
	// ErrAlreadyExists (wrapped) if a key is already present; callers treat
	// that as success.
	Put(ctx context.Context, partition string, messages []MessageInfo, body io.Reader) error

	// Delete appends a tombstone for each key. Idempotent via IsKeyDeleted.
	Delete(ctx context.Context, partition string, keys []BlobKey) error

	IsKeyDeleted(ctx context.Context, key BlobKey) (bool, error)
}

// MetadataRequestEntry is one replica's contribution to a batched metadata
// request.
type MetadataRequestEntry struct {
	Partition            string
	Token                FindToken
	RequesterHost        string
	RequesterReplicaPath string
}

// MetadataRequest is the batched metadata request issued once per peer per
// iteration.
type MetadataRequest struct {
	CorrelationID  uint64
	ClientID       string
	Entries        []MetadataRequestEntry
	FetchSizeBytes int64
}

// PerReplicaMetadataResponse is one slot of a metadata response, positionally
// aligned with the request's Entries.
type PerReplicaMetadataResponse struct {
	Err                   ServerErrorCode
	Messages              []MessageInfo
	NewToken              FindToken
	RemoteReplicaLagBytes int64
}

// MetadataResponse is the decoded response to a MetadataRequest.
type MetadataResponse struct {
	Err     ServerErrorCode
	Entries []PerReplicaMetadataResponse
}

// GetPartitionRequest asks for a set of keys within one partition.
type GetPartitionRequest struct {
	Partition string
	Keys      []BlobKey
}

// GetRequest is the batched blob-fetch request.
type GetRequest struct {
	CorrelationID  uint64
	ClientID       string
	IncludeDeletes bool
	Partitions     []GetPartitionRequest
}

// PartitionPayload carries one partition's worth of a get response: its
// decoded message headers and a lazily-consumed body stream holding their
// frames back to back, in Messages order.
type PartitionPayload struct {
	Partition string
	Err       ServerErrorCode
	Messages  []MessageInfo
	Body      io.Reader
}

// GetResponse is the decoded response to a GetRequest: payloads in request
// partition order, skipping partitions that were never requested.
type GetResponse struct {
	Err      ServerErrorCode
	Payloads []PartitionPayload
}

// Connection is one checked-out channel to a peer node.
type Connection interface {
	Exchange(ctx context.Context, req MetadataRequest) (MetadataResponse, error)
	Fetch(ctx context.Context, req GetRequest) (GetResponse, error)
}

// ConnectionPool hands out and reclaims Connections. Policy: any failure
// observed on a channel destroys it; a clean iteration checks it back in.
// Exactly one of CheckIn/Destroy runs per successful CheckOut.
type ConnectionPool interface {
	CheckOut(ctx context.Context, host string, port int, ssl bool, timeout time.Duration) (Connection, error)
	CheckIn(conn Connection)
	Destroy(conn Connection)
}

// NotificationSource identifies why a notification fired.
type NotificationSource string

// SourceRepaired is the only source this worker emits: a blob or tombstone
// arrived via anti-entropy repair, not a client write.
const SourceRepaired NotificationSource = "REPAIRED"

// NotificationSink receives fire-and-forget notice of replicated writes and
// deletes. It is optional: a no-op default is used when absent, never a nil
// interface value.
type NotificationSink interface {
	OnBlobReplicaCreated(host string, port int, id string, source NotificationSource)
	OnBlobReplicaDeleted(host string, port int, id string, source NotificationSource)
}

type noopNotificationSink struct{}

func (noopNotificationSink) OnBlobReplicaCreated(string, int, string, NotificationSource) {}
func (noopNotificationSink) OnBlobReplicaDeleted(string, int, string, NotificationSource) {}

// NewNoopNotificationSink returns the no-op default sink.
func NewNoopNotificationSink() NotificationSink { return noopNotificationSink{} }

// MetricsSink is the thread-safe counters/timers collaborator.
type MetricsSink interface {
	ObservePhaseDuration(phase Phase, remoteColo bool, d time.Duration)
	ObserveIterationDuration(remoteColo bool, d time.Duration)
	IncCheckoutError()
	IncExchangeError()
	IncFixError()
	AddBytesFixed(n int64)
	AddBlobsFixed(n int64)
}

type noopMetricsSink struct{}

func (noopMetricsSink) ObservePhaseDuration(Phase, bool, time.Duration) {}
func (noopMetricsSink) ObserveIterationDuration(bool, time.Duration)    {}
func (noopMetricsSink) IncCheckoutError()                               {}
func (noopMetricsSink) IncExchangeError()                               {}
func (noopMetricsSink) IncFixError()                                    {}
func (noopMetricsSink) AddBytesFixed(int64)                             {}
func (noopMetricsSink) AddBlobsFixed(int64)                             {}

// NewNoopMetricsSink returns a metrics sink that discards every observation.
func NewNoopMetricsSink() MetricsSink { return noopMetricsSink{} }

// CorrelationIDGenerator is the process-wide monotonic counter; each request
// consumes one id.
type CorrelationIDGenerator struct {
	counter uint64
}

// Next returns the next correlation id. Safe for concurrent use by multiple
// workers.
func (g *CorrelationIDGenerator) Next() uint64 {
	return atomic.AddUint64(&g.counter, 1)
}
