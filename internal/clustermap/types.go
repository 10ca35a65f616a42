// Package clustermap is the topology contract the replication worker needs
// but does not own: nodes, partitions, replicas, and the datacenter each
// node belongs to.
package clustermap

// Node is one member of the cluster.
type Node struct {
	ID         string `mapstructure:"id"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Datacenter string `mapstructure:"datacenter"`
}

// Replica places one partition's data on one node.
type Replica struct {
	ID        string `mapstructure:"id"`
	Partition string `mapstructure:"partition"`
	NodeID    string `mapstructure:"node_id"`
}

// Partition is a unit of sharding: a set of replicas holding the same
// blob id-space.
type Partition struct {
	ID       string    `mapstructure:"id"`
	Replicas []Replica `mapstructure:"replicas"`
}

// PeerAssignment is one (localReplica, remoteReplica) pair a worker should
// converge, resolved against the live Node table.
type PeerAssignment struct {
	LocalReplica  Replica
	RemoteReplica Replica
	RemoteNode    Node
}
