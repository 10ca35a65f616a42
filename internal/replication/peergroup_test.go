package replication

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerGroupingGroupsByRemoteNode(t *testing.T) {
	store := newFakeStore()
	e1 := NewRemoteReplicaState("r1", "peerA", "a.local", 1, "dc1", "l1", "P1", store, fakeToken{})
	e2 := NewRemoteReplicaState("r2", "peerA", "a.local", 1, "dc1", "l2", "P2", store, fakeToken{})
	e3 := NewRemoteReplicaState("r3", "peerB", "b.local", 2, "dc2", "l3", "P3", store, fakeToken{})

	g := NewPeerGrouping([]*RemoteReplicaState{e1, e2, e3})
	batches := g.Shuffled(rand.New(rand.NewSource(1)))

	require.Len(t, batches, 2)
	var peerABatch, peerBBatch *PeerBatch
	for _, b := range batches {
		switch b.RemoteNode {
		case "peerA":
			peerABatch = b
		case "peerB":
			peerBBatch = b
		}
	}
	require.NotNil(t, peerABatch)
	require.NotNil(t, peerBBatch)
	assert.Len(t, peerABatch.Entries, 2)
	assert.Len(t, peerBBatch.Entries, 1)
}

func TestPeerGroupingRebuildsEachCall(t *testing.T) {
	store := newFakeStore()
	e1 := NewRemoteReplicaState("r1", "peerA", "a.local", 1, "dc1", "l1", "P1", store, fakeToken{})
	g := NewPeerGrouping([]*RemoteReplicaState{e1})

	first := g.Shuffled(rand.New(rand.NewSource(1)))
	second := g.Shuffled(rand.New(rand.NewSource(2)))

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotSame(t, first[0], second[0], "batches must be rebuilt, not cached, on each call")
}
