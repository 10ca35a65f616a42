package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const staticTopologyYAML = `
cluster:
  source: static
  nodes:
    - id: node-1
      host: node-1.local
      port: 6667
      datacenter: dc1
  partitions:
    - id: P1
      replicas:
        - id: node-1-P1
          partition: P1
          node_id: node-1
`

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replicatord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("node-id", "", "")
	cmd.Flags().String("data-dir", "", "")
	cmd.Flags().String("listen", "", "")
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().String("tls-cert", "", "")
	cmd.Flags().String("tls-key", "", "")
	return cmd
}

func TestLoadRequiresNodeID(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("data-dir", t.TempDir()))

	_, err := Load(cmd)
	assert.ErrorContains(t, err, "node_id is required")
}

func TestLoadRequiresDataDir(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("node-id", "node-1"))

	_, err := Load(cmd)
	assert.ErrorContains(t, err, "data_dir is required")
}

func TestLoadRequiresClusterNodesForStaticSource(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("node-id", "node-1"))
	require.NoError(t, cmd.Flags().Set("data-dir", t.TempDir()))

	_, err := Load(cmd)
	assert.ErrorContains(t, err, "cluster.nodes must list at least this node")
}

func TestLoadRejectsUnknownClusterSource(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("node-id", "node-1"))
	require.NoError(t, cmd.Flags().Set("data-dir", t.TempDir()))
	require.NoError(t, cmd.Flags().Set("config", writeConfigFile(t, "cluster:\n  source: carrier-pigeon\n")))

	_, err := Load(cmd)
	assert.ErrorContains(t, err, "not recognized")
}

func TestLoadAppliesDefaults(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("node-id", "node-1"))
	require.NoError(t, cmd.Flags().Set("data-dir", t.TempDir()))
	require.NoError(t, cmd.Flags().Set("config", writeConfigFile(t, staticTopologyYAML)))

	cfg, err := Load(cmd)
	require.NoError(t, err)
	assert.Equal(t, ":6667", cfg.Listen)
	assert.Equal(t, int64(4<<20), cfg.Replication.FetchSizeBytes)
	assert.True(t, cfg.Replication.ValidateMessageStream)
	assert.Equal(t, 4, cfg.Replication.WorkerCount)
}

func TestLoadParsesStaticTopology(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("node-id", "node-1"))
	require.NoError(t, cmd.Flags().Set("data-dir", t.TempDir()))
	require.NoError(t, cmd.Flags().Set("config", writeConfigFile(t, staticTopologyYAML)))

	cfg, err := Load(cmd)
	require.NoError(t, err)
	require.Len(t, cfg.Cluster.Nodes, 1)
	assert.Equal(t, "node-1", cfg.Cluster.Nodes[0].ID)
	assert.Equal(t, "dc1", cfg.Cluster.Nodes[0].Datacenter)
	require.Len(t, cfg.Cluster.Partitions, 1)
	require.Len(t, cfg.Cluster.Partitions[0].Replicas, 1)
	assert.Equal(t, "node-1", cfg.Cluster.Partitions[0].Replicas[0].NodeID)
}

func TestLoadRejectsMismatchedTLSFiles(t *testing.T) {
	cmd := newTestCommand()
	require.NoError(t, cmd.Flags().Set("node-id", "node-1"))
	require.NoError(t, cmd.Flags().Set("data-dir", t.TempDir()))
	require.NoError(t, cmd.Flags().Set("tls-cert", "cert.pem"))
	require.NoError(t, cmd.Flags().Set("config", writeConfigFile(t, staticTopologyYAML)))

	_, err := Load(cmd)
	assert.ErrorContains(t, err, "cert-file and key-file")
}
