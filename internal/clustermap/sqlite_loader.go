package clustermap

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteLoader reads a persisted node/partition/replica topology from a
// sqlite database, for deployments that don't want to hand-roll a static
// config file for cluster membership.
type SQLiteLoader struct {
	db *sql.DB
}

// OpenSQLiteLoader opens the topology database at path.
func OpenSQLiteLoader(path string) (*SQLiteLoader, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("clustermap: open topology db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("clustermap: ping topology db: %w", err)
	}
	return &SQLiteLoader{db: db}, nil
}

// Close releases the database handle.
func (l *SQLiteLoader) Close() error { return l.db.Close() }

// Load reads the full node and partition/replica tables and applies them to
// m. Expected schema:
//
//	nodes(id TEXT PRIMARY KEY, host TEXT, port INTEGER, datacenter TEXT)
//	replicas(id TEXT PRIMARY KEY, partition_id TEXT, node_id TEXT)
func (l *SQLiteLoader) Load(m *Manager) error {
	nodes, err := l.loadNodes()
	if err != nil {
		return err
	}
	partitions, err := l.loadPartitions()
	if err != nil {
		return err
	}
	m.SetNodes(nodes)
	m.SetPartitions(partitions)
	return nil
}

func (l *SQLiteLoader) loadNodes() ([]Node, error) {
	rows, err := l.db.Query(`SELECT id, host, port, datacenter FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("clustermap: query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Host, &n.Port, &n.Datacenter); err != nil {
			return nil, fmt.Errorf("clustermap: scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (l *SQLiteLoader) loadPartitions() ([]Partition, error) {
	rows, err := l.db.Query(`SELECT id, partition_id, node_id FROM replicas`)
	if err != nil {
		return nil, fmt.Errorf("clustermap: query replicas: %w", err)
	}
	defer rows.Close()

	byPartition := make(map[string]*Partition)
	var order []string
	for rows.Next() {
		var r Replica
		if err := rows.Scan(&r.ID, &r.Partition, &r.NodeID); err != nil {
			return nil, fmt.Errorf("clustermap: scan replica: %w", err)
		}
		p, ok := byPartition[r.Partition]
		if !ok {
			p = &Partition{ID: r.Partition}
			byPartition[r.Partition] = p
			order = append(order, r.Partition)
		}
		p.Replicas = append(p.Replicas, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	partitions := make([]Partition, len(order))
	for i, id := range order {
		partitions[i] = *byPartition[id]
	}
	return partitions, nil
}
