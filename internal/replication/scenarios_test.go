package replication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		ReplicationFetchSizeBytes: 1 << 20,
		ConnectionCheckoutTimeout: time.Second,
		MaxLagForWaitTimeBytes:    1024,
		WaitTimeBetweenReplicas:   time.Millisecond,
		SSLEnabledColos:           map[string]bool{},
		ValidateMessageStream:     false,
	}
}

type pipeline struct {
	cfg        Config
	correlator *CorrelationIDGenerator
	notify     *fakeNotify
	reconciler *Reconciler
	exchanger  *MetadataExchanger
	fetcher    *Fetcher
	writer     *Writer
}

func newPipeline(cfg Config) *pipeline {
	notify := &fakeNotify{}
	reconciler := NewReconciler(notify)
	correlator := &CorrelationIDGenerator{}
	pacer := NewPacer(cfg)
	return &pipeline{
		cfg:        cfg,
		correlator: correlator,
		notify:     notify,
		reconciler: reconciler,
		exchanger:  NewMetadataExchanger(fakeTokenFactory{}, correlator, "test-client", cfg, pacer, reconciler),
		fetcher:    NewFetcher(correlator, "test-client"),
		writer:     NewWriter(cfg, notify, NewNoopMetricsSink()),
	}
}

func (p *pipeline) run(t *testing.T, entry *RemoteReplicaState, metaResp MetadataResponse, getResp GetResponse) []ExchangeMetadataResult {
	t.Helper()
	batch := &PeerBatch{RemoteNode: "peer-1", RemoteHost: "peer-1.local", RemotePort: 7000, RemoteColo: "dc1", Entries: []*RemoteReplicaState{entry}}
	conn := &fakeConnection{metadataResp: metaResp, getResp: getResp}

	results, err := p.exchanger.Exchange(context.Background(), conn, batch, false)
	require.NoError(t, err)

	gr, err := p.fetcher.Fetch(context.Background(), conn, results, batch)
	require.NoError(t, err)

	p.writer.Write(context.Background(), results, gr, batch)
	return results
}

func newEntry(store *fakeStore, partition string) *RemoteReplicaState {
	return NewRemoteReplicaState("remote-replica-1", "peer-1", "peer-1.local", 7000, "dc1", "local-replica-1", partition, store, fakeToken{v: "T0"})
}

// S1 — simple pull.
func TestScenarioS1SimplePull(t *testing.T) {
	store := newFakeStore()
	entry := newEntry(store, "P1")
	p := newPipeline(testConfig())

	k1 := BlobKey{ID: "k1", Partition: "P1"}
	messages := []MessageInfo{{Key: k1, Size: 100}}
	metaResp := MetadataResponse{Entries: []PerReplicaMetadataResponse{{Messages: messages, NewToken: fakeToken{v: "T1"}}}}
	getResp := GetResponse{Payloads: []PartitionPayload{{Partition: "P1", Messages: messages, Body: bodyFor(messages)}}}

	p.run(t, entry, metaResp, getResp)

	assert.True(t, store.present[k1])
	assert.Equal(t, fakeToken{v: "T1"}, entry.Token())
	assert.Len(t, p.notify.created, 1)
	assert.Empty(t, p.notify.deleted)
}

// S2 — remote deletion of a locally-present key.
func TestScenarioS2RemoteDeleteOfPresentKey(t *testing.T) {
	store := newFakeStore()
	k2 := BlobKey{ID: "k2", Partition: "P1"}
	store.present[k2] = true
	entry := newEntry(store, "P1")
	p := newPipeline(testConfig())

	messages := []MessageInfo{{Key: k2, IsDeleted: true}}
	metaResp := MetadataResponse{Entries: []PerReplicaMetadataResponse{{Messages: messages, NewToken: fakeToken{v: "T2"}}}}

	p.run(t, entry, metaResp, GetResponse{})

	assert.True(t, store.deleted[k2])
	assert.Equal(t, fakeToken{v: "T2"}, entry.Token())
	assert.Len(t, p.notify.deleted, 1)
}

// S3 — missing and deleted.
func TestScenarioS3MissingAndDeleted(t *testing.T) {
	store := newFakeStore()
	entry := newEntry(store, "P1")
	p := newPipeline(testConfig())

	k3 := BlobKey{ID: "k3", Partition: "P1"}
	messages := []MessageInfo{{Key: k3, IsDeleted: true}}
	metaResp := MetadataResponse{Entries: []PerReplicaMetadataResponse{{Messages: messages, NewToken: fakeToken{v: "T3"}}}}

	p.run(t, entry, metaResp, GetResponse{})

	assert.False(t, store.present[k3])
	assert.Equal(t, fakeToken{v: "T3"}, entry.Token())
	assert.Len(t, p.notify.deleted, 1)
}

// S4 — expired remote.
func TestScenarioS4ExpiredRemote(t *testing.T) {
	store := newFakeStore()
	entry := newEntry(store, "P1")
	p := newPipeline(testConfig())

	k4 := BlobKey{ID: "k4", Partition: "P1"}
	messages := []MessageInfo{{Key: k4, IsExpired: true}}
	metaResp := MetadataResponse{Entries: []PerReplicaMetadataResponse{{Messages: messages, NewToken: fakeToken{v: "T4"}}}}

	p.run(t, entry, metaResp, GetResponse{})

	assert.False(t, store.present[k4])
	assert.Equal(t, fakeToken{v: "T4"}, entry.Token())
	assert.Empty(t, p.notify.created)
	assert.Empty(t, p.notify.deleted)
}

// S5 — per-slot error isolation.
func TestScenarioS5PerSlotErrorIsolation(t *testing.T) {
	store1, store2 := newFakeStore(), newFakeStore()
	entry1 := newEntry(store1, "P1")
	entry2 := NewRemoteReplicaState("remote-replica-2", "peer-1", "peer-1.local", 7000, "dc1", "local-replica-2", "P2", store2, fakeToken{v: "Told"})
	batch := &PeerBatch{RemoteNode: "peer-1", RemoteHost: "peer-1.local", RemotePort: 7000, RemoteColo: "dc1", Entries: []*RemoteReplicaState{entry1, entry2}}

	cfg := testConfig()
	p := newPipeline(cfg)

	k5 := BlobKey{ID: "k5", Partition: "P1"}
	messages := []MessageInfo{{Key: k5, Size: 10}}
	metaResp := MetadataResponse{Entries: []PerReplicaMetadataResponse{
		{Messages: messages, NewToken: fakeToken{v: "T5a"}},
		{Err: IOError},
	}}
	getResp := GetResponse{Payloads: []PartitionPayload{{Partition: "P1", Messages: messages, Body: bodyFor(messages)}}}

	conn := &fakeConnection{metadataResp: metaResp, getResp: getResp}
	results, err := p.exchanger.Exchange(context.Background(), conn, batch, false)
	require.NoError(t, err)
	require.Len(t, results, 2)

	gr, err := p.fetcher.Fetch(context.Background(), conn, results, batch)
	require.NoError(t, err)
	p.writer.Write(context.Background(), results, gr, batch)

	assert.True(t, store1.present[k5])
	assert.Equal(t, fakeToken{v: "T5a"}, entry1.Token())
	assert.Equal(t, fakeToken{v: "Told"}, entry2.Token())
	assert.True(t, results[1].IsError())
}

// S6 — get error on one partition of two.
func TestScenarioS6GetErrorOnOnePartition(t *testing.T) {
	store1, store2 := newFakeStore(), newFakeStore()
	entry1 := newEntry(store1, "P")
	entry2 := NewRemoteReplicaState("remote-replica-2", "peer-1", "peer-1.local", 7000, "dc1", "local-replica-2", "Q", store2, fakeToken{v: "Told"})
	batch := &PeerBatch{RemoteNode: "peer-1", RemoteHost: "peer-1.local", RemotePort: 7000, RemoteColo: "dc1", Entries: []*RemoteReplicaState{entry1, entry2}}

	p := newPipeline(testConfig())

	k6 := BlobKey{ID: "k6", Partition: "P"}
	k7 := BlobKey{ID: "k7", Partition: "Q"}
	msgs6 := []MessageInfo{{Key: k6, Size: 5}}
	msgs7 := []MessageInfo{{Key: k7, Size: 5}}

	metaResp := MetadataResponse{Entries: []PerReplicaMetadataResponse{
		{Messages: msgs6, NewToken: fakeToken{v: "T6"}},
		{Messages: msgs7, NewToken: fakeToken{v: "T7"}},
	}}
	getResp := GetResponse{Payloads: []PartitionPayload{
		{Partition: "P", Messages: msgs6, Body: bodyFor(msgs6)},
		{Partition: "Q", Err: IOError},
	}}

	conn := &fakeConnection{metadataResp: metaResp, getResp: getResp}
	results, err := p.exchanger.Exchange(context.Background(), conn, batch, false)
	require.NoError(t, err)

	gr, err := p.fetcher.Fetch(context.Background(), conn, results, batch)
	require.NoError(t, err)
	p.writer.Write(context.Background(), results, gr, batch)

	assert.True(t, store1.present[k6])
	assert.Equal(t, fakeToken{v: "T6"}, entry1.Token())
	assert.Equal(t, fakeToken{v: "Told"}, entry2.Token())
}
