package clustermap

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager is the in-memory topology registry: nodes and partitions, kept
// current by whatever loader feeds it (static config or the sqlite loader
// in sqlite_loader.go).
type Manager struct {
	mu         sync.RWMutex
	nodes      map[string]Node
	partitions map[string]Partition
	log        *logrus.Entry
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{
		nodes:      make(map[string]Node),
		partitions: make(map[string]Partition),
		log:        logrus.WithField("component", "clustermap"),
	}
}

// SetNodes replaces the node table wholesale.
func (m *Manager) SetNodes(nodes []Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = make(map[string]Node, len(nodes))
	for _, n := range nodes {
		m.nodes[n.ID] = n
	}
	m.log.WithField("node_count", len(nodes)).Info("cluster map nodes updated")
}

// SetPartitions replaces the partition table wholesale.
func (m *Manager) SetPartitions(partitions []Partition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partitions = make(map[string]Partition, len(partitions))
	for _, p := range partitions {
		m.partitions[p.ID] = p
	}
	m.log.WithField("partition_count", len(partitions)).Info("cluster map partitions updated")
}

// Node looks up one node by id.
func (m *Manager) Node(id string) (Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

// Partition looks up one partition by id.
func (m *Manager) Partition(id string) (Partition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.partitions[id]
	return p, ok
}

// PeersFor returns every (localReplica, remoteReplica, remoteNode) triple for
// partitions hosted by localNodeID, excluding replicas on that same node.
func (m *Manager) PeersFor(localNodeID string) ([]PeerAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var assignments []PeerAssignment
	for _, p := range m.partitions {
		var local *Replica
		for i := range p.Replicas {
			if p.Replicas[i].NodeID == localNodeID {
				local = &p.Replicas[i]
				break
			}
		}
		if local == nil {
			continue
		}
		for _, r := range p.Replicas {
			if r.NodeID == localNodeID {
				continue
			}
			node, ok := m.nodes[r.NodeID]
			if !ok {
				return nil, fmt.Errorf("clustermap: replica %s references unknown node %s", r.ID, r.NodeID)
			}
			assignments = append(assignments, PeerAssignment{LocalReplica: *local, RemoteReplica: r, RemoteNode: node})
		}
	}
	return assignments, nil
}
