package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/maxiofs/blobreplicator/internal/clustermap"
)

// Config holds all configuration for the replication daemon.
type Config struct {
	NodeID   string `mapstructure:"node_id"`
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	// Internal replication server (peer-facing)
	Listen   string `mapstructure:"listen"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`

	// Cluster topology source
	Cluster ClusterConfig `mapstructure:"cluster"`

	// Core worker tuning, per replication.Config
	Replication ReplicationConfig `mapstructure:"replication"`

	// Peer authentication and transport
	Transport TransportConfig `mapstructure:"transport"`

	// Peer rate limiting
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	Metrics MetricsConfig `mapstructure:"metrics"`

	Webhooks []WebhookConfig `mapstructure:"webhooks"`
}

// ClusterConfig selects how the node learns its cluster topology. With
// source "static", Nodes and Partitions are loaded directly from this
// config and applied to the in-memory registry at startup. With source
// "sqlite", the node/partition tables are read from SQLitePath instead and
// Nodes/Partitions are ignored.
type ClusterConfig struct {
	Source     string                 `mapstructure:"source"` // "static" or "sqlite"
	SQLitePath string                 `mapstructure:"sqlite_path"`
	Nodes      []clustermap.Node      `mapstructure:"nodes"`
	Partitions []clustermap.Partition `mapstructure:"partitions"`
}

// ReplicationConfig mirrors replication.Config's tunables, expressed in
// config-file-friendly units (bytes, milliseconds).
type ReplicationConfig struct {
	FetchSizeBytes              int64           `mapstructure:"fetch_size_bytes"`
	ConnectionCheckoutTimeoutMs int             `mapstructure:"connection_checkout_timeout_ms"`
	MaxLagForWaitTimeBytes      int64           `mapstructure:"max_lag_for_wait_time_bytes"`
	WaitTimeBetweenReplicasMs   int             `mapstructure:"wait_time_between_replicas_ms"`
	SSLEnabledColos             map[string]bool `mapstructure:"ssl_enabled_colos"`
	ValidateMessageStream       bool            `mapstructure:"validate_message_stream"`
	WorkerCount                 int             `mapstructure:"worker_count"`
}

// ConnectionCheckoutTimeout returns the configured timeout as a Duration.
func (r ReplicationConfig) ConnectionCheckoutTimeout() time.Duration {
	return time.Duration(r.ConnectionCheckoutTimeoutMs) * time.Millisecond
}

// WaitTimeBetweenReplicas returns the configured pacer sleep as a Duration.
func (r ReplicationConfig) WaitTimeBetweenReplicas() time.Duration {
	return time.Duration(r.WaitTimeBetweenReplicasMs) * time.Millisecond
}

// TransportConfig configures how workers authenticate to and connect with
// peer nodes.
type TransportConfig struct {
	SharedSecret          string `mapstructure:"shared_secret"`
	TLSInsecureSkipVerify bool   `mapstructure:"tls_insecure_skip_verify"`
	FailureThreshold      int    `mapstructure:"failure_threshold"`
	SuccessThreshold      int    `mapstructure:"success_threshold"`
	BreakerTimeoutMs      int    `mapstructure:"breaker_timeout_ms"`
}

// BreakerTimeout returns the configured circuit breaker cooldown as a
// Duration.
func (t TransportConfig) BreakerTimeout() time.Duration {
	return time.Duration(t.BreakerTimeoutMs) * time.Millisecond
}

// RateLimitConfig configures the internal server's per-peer rate limiter.
type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	BurstSize         int `mapstructure:"burst_size"`
}

// MetricsConfig defines metrics configuration.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Listen string `mapstructure:"listen"`
	Path   string `mapstructure:"path"`
}

// WebhookConfig is one configured notification subscriber.
type WebhookConfig struct {
	URL           string            `mapstructure:"url"`
	CustomHeaders map[string]string `mapstructure:"custom_headers"`
}

// Load loads configuration from flags, REPLICATOR_-prefixed environment
// variables, and an optional config file, in that precedence order, over
// built-in defaults.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("REPLICATOR")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":6667")
	v.SetDefault("log_level", "info")

	v.SetDefault("cluster.source", "static")

	v.SetDefault("replication.fetch_size_bytes", 4<<20)
	v.SetDefault("replication.connection_checkout_timeout_ms", 5000)
	v.SetDefault("replication.max_lag_for_wait_time_bytes", 50<<20)
	v.SetDefault("replication.wait_time_between_replicas_ms", 1000)
	v.SetDefault("replication.validate_message_stream", true)
	v.SetDefault("replication.worker_count", 4)

	v.SetDefault("transport.failure_threshold", 5)
	v.SetDefault("transport.success_threshold", 2)
	v.SetDefault("transport.breaker_timeout_ms", 30000)

	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst_size", 100)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.listen", ":9667")
	v.SetDefault("metrics.path", "/metrics")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"node-id":   "node_id",
		"data-dir":  "data_dir",
		"listen":    "listen",
		"log-level": "log_level",
		"tls-cert":  "cert_file",
		"tls-key":   "key_file",
	}

	for flag, key := range flags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.NodeID == "" {
		return fmt.Errorf("node_id is required: specify via --node-id flag, config file, or REPLICATOR_NODE_ID environment variable")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or REPLICATOR_DATA_DIR environment variable")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	switch cfg.Cluster.Source {
	case "sqlite":
		if cfg.Cluster.SQLitePath == "" {
			return fmt.Errorf("cluster.sqlite_path is required when cluster.source is \"sqlite\"")
		}
	case "static":
		if len(cfg.Cluster.Nodes) == 0 {
			return fmt.Errorf("cluster.nodes must list at least this node when cluster.source is \"static\"")
		}
	default:
		return fmt.Errorf("cluster.source %q is not recognized, expected \"static\" or \"sqlite\"", cfg.Cluster.Source)
	}

	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return fmt.Errorf("TLS cert-file and key-file must both be set or both be empty")
	}

	return nil
}
