package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maxiofs/blobreplicator/internal/clustermap"
	"github.com/maxiofs/blobreplicator/internal/config"
	"github.com/maxiofs/blobreplicator/internal/metrics"
	"github.com/maxiofs/blobreplicator/internal/notify"
	"github.com/maxiofs/blobreplicator/internal/ratelimit"
	"github.com/maxiofs/blobreplicator/internal/replication"
	"github.com/maxiofs/blobreplicator/internal/server"
	"github.com/maxiofs/blobreplicator/internal/store"
	"github.com/maxiofs/blobreplicator/internal/transport"
)

var (
	version = "0.2.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "replicatord",
		Short: "replicatord runs a node's pull-based anti-entropy replication fleet",
		Long: `replicatord converges one node's partitions toward the union of its
peers' state by continuously pulling metadata, reconciling it against the
local store, and fetching and writing whatever is missing.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE:    runReplicator,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("node-id", "n", "", "This node's id in the cluster map")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "", "Data directory path")
	rootCmd.PersistentFlags().StringP("listen", "l", ":6667", "Internal replication server listen address")
	rootCmd.PersistentFlags().StringP("log-level", "", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("tls-cert", "", "", "TLS certificate file (enables TLS if provided with --tls-key)")
	rootCmd.PersistentFlags().StringP("tls-key", "", "", "TLS private key file (enables TLS if provided with --tls-cert)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runReplicator(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	setupLogging(cfg.LogLevel)
	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
		"node_id": cfg.NodeID,
	}).Info("starting replicatord")

	topology := clustermap.NewManager()
	if err := loadTopology(cfg, topology); err != nil {
		return fmt.Errorf("failed to load cluster topology: %w", err)
	}

	localStore, err := store.New(store.Options{DataDir: cfg.DataDir, CompactionEnabled: true})
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer localStore.Close()

	tokenStore, err := store.NewTokenStore(store.TokenStoreOptions{DataDir: cfg.DataDir, Tokens: store.SequenceTokenFactory{}})
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}
	defer tokenStore.Close()

	metricsSink := metrics.New()
	hostStats := metricsSink.NewHostStats(cfg.DataDir)

	endpoints := make([]notify.Endpoint, 0, len(cfg.Webhooks))
	for _, wh := range cfg.Webhooks {
		endpoints = append(endpoints, notify.Endpoint{URL: wh.URL, CustomHeaders: wh.CustomHeaders})
	}
	notifySink := notify.NewSink(endpoints)

	pool := transport.NewPool(transport.Options{
		LocalNodeID:      cfg.NodeID,
		SharedSecret:     cfg.Transport.SharedSecret,
		FailureThreshold: cfg.Transport.FailureThreshold,
		SuccessThreshold: cfg.Transport.SuccessThreshold,
		BreakerTimeout:   cfg.Transport.BreakerTimeout(),
		TLSInsecure:      cfg.Transport.TLSInsecureSkipVerify,
		Tokens:           store.SequenceTokenFactory{},
	})

	peers, err := topology.PeersFor(cfg.NodeID)
	if err != nil {
		return fmt.Errorf("failed to resolve peer assignments: %w", err)
	}

	localNode, ok := topology.Node(cfg.NodeID)
	if !ok {
		return fmt.Errorf("node id %q not present in cluster topology", cfg.NodeID)
	}

	replCfg := replication.Config{
		ReplicationFetchSizeBytes: cfg.Replication.FetchSizeBytes,
		ConnectionCheckoutTimeout: cfg.Replication.ConnectionCheckoutTimeout(),
		MaxLagForWaitTimeBytes:    cfg.Replication.MaxLagForWaitTimeBytes,
		WaitTimeBetweenReplicas:   cfg.Replication.WaitTimeBetweenReplicas(),
		SSLEnabledColos:           cfg.Replication.SSLEnabledColos,
		ValidateMessageStream:     cfg.Replication.ValidateMessageStream,
	}

	correlator := &replication.CorrelationIDGenerator{}
	fetcher := replication.NewFetcher(correlator, cfg.NodeID)
	writer := replication.NewWriter(replCfg, notifySink, metricsSink)

	workers, states, err := buildWorkerFleet(cfg, replCfg, localStore, tokenStore, pool, correlator, notifySink, fetcher, writer, metricsSink, peers, localNode)
	if err != nil {
		return fmt.Errorf("failed to build worker fleet: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
	srv := server.New(server.Options{
		Listen:       cfg.Listen,
		Store:        localStore,
		Tokens:       store.SequenceTokenFactory{},
		SharedSecret: cfg.Transport.SharedSecret,
		Limiter:      limiter,
		TLSCertFile:  cfg.CertFile,
		TLSKeyFile:   cfg.KeyFile,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logrus.Info("received shutdown signal")
		cancel()
	}()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *replication.Worker) {
			defer wg.Done()
			w.Run(ctx)
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		checkpointTokens(ctx, tokenStore, states, 30*time.Second)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		hostStats.Run(ctx, 15*time.Second)
	}()

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.ListenAndServe() }()

	if cfg.Metrics.Enable {
		go func() {
			metricsHTTP := &http.Server{Addr: cfg.Metrics.Listen, Handler: metricsSink.Handler()}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsHTTP.Shutdown(shutdownCtx)
			}()
			logrus.WithField("listen", cfg.Metrics.Listen).Info("metrics server listening")
			if err := metricsHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logrus.WithError(err).Error("replication server failed")
		}
		cancel()
	}

	for _, w := range workers {
		w.Shutdown()
	}
	wg.Wait()
	saveTokens(tokenStore, states)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("replication server shutdown error")
	}

	logrus.Info("replicatord stopped")
	return nil
}

func loadTopology(cfg *config.Config, topology *clustermap.Manager) error {
	switch cfg.Cluster.Source {
	case "static":
		topology.SetNodes(cfg.Cluster.Nodes)
		topology.SetPartitions(cfg.Cluster.Partitions)
		return nil
	case "sqlite":
		loader, err := clustermap.OpenSQLiteLoader(cfg.Cluster.SQLitePath)
		if err != nil {
			return err
		}
		defer loader.Close()
		return loader.Load(topology)
	default:
		return fmt.Errorf("cluster.source %q not supported", cfg.Cluster.Source)
	}
}

// buildWorkerFleet resolves every (localReplica, remoteReplica) pair this
// node must converge, seeds each with its last persisted token, and splits
// them round-robin across cfg.Replication.WorkerCount workers. Each worker
// gets its own Pacer and MetadataExchanger (Pacer.needToWait is unsynchronized
// and scoped to one exchange call, so it must never be shared by workers
// running concurrently); the Fetcher, Writer, and correlation id generator
// are stateless enough to share across the fleet.
func buildWorkerFleet(
	cfg *config.Config,
	replCfg replication.Config,
	localStore *store.LocalStore,
	tokenStore *store.TokenStore,
	pool *transport.Pool,
	correlator *replication.CorrelationIDGenerator,
	notifySink replication.NotificationSink,
	fetcher *replication.Fetcher,
	writer *replication.Writer,
	metricsSink replication.MetricsSink,
	peers []clustermap.PeerAssignment,
	localNode clustermap.Node,
) ([]*replication.Worker, []*replication.RemoteReplicaState, error) {
	states := make([]*replication.RemoteReplicaState, 0, len(peers))
	for _, p := range peers {
		startToken, err := tokenStore.Load(p.LocalReplica.ID, p.RemoteReplica.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("load persisted token for %s/%s: %w", p.LocalReplica.ID, p.RemoteReplica.ID, err)
		}
		states = append(states, replication.NewRemoteReplicaState(
			p.RemoteReplica.ID,
			p.RemoteNode.ID,
			p.RemoteNode.Host,
			p.RemoteNode.Port,
			p.RemoteNode.Datacenter,
			p.LocalReplica.ID,
			p.LocalReplica.Partition,
			localStore,
			startToken,
		))
	}

	workerCount := cfg.Replication.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
	}
	if workerCount > len(states) && len(states) > 0 {
		workerCount = len(states)
	}

	shares := make([][]*replication.RemoteReplicaState, workerCount)
	for i, s := range states {
		shares[i%workerCount] = append(shares[i%workerCount], s)
	}

	workers := make([]*replication.Worker, 0, workerCount)
	for i := 0; i < workerCount; i++ {
		if len(shares[i]) == 0 {
			continue
		}
		pacer := replication.NewPacer(replCfg)
		reconciler := replication.NewReconciler(notifySink)
		exchanger := replication.NewMetadataExchanger(store.SequenceTokenFactory{}, correlator, cfg.NodeID, replCfg, pacer, reconciler)

		w := replication.NewWorker(
			fmt.Sprintf("replication-worker-%d", i),
			replication.WorkerConfig{
				Config:          replCfg,
				LocalDatacenter: localNode.Datacenter,
				ClientID:        cfg.NodeID,
			},
			pool,
			shares[i],
			exchanger,
			fetcher,
			writer,
			metricsSink,
			int64(i),
		)
		workers = append(workers, w)
	}
	return workers, states, nil
}

// checkpointTokens periodically persists every state's current token so a
// restart resumes close to where the fleet left off, rather than from
// whatever was last saved on a clean shutdown. It returns when ctx is done.
func checkpointTokens(ctx context.Context, tokenStore *store.TokenStore, states []*replication.RemoteReplicaState, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saveTokens(tokenStore, states)
		}
	}
}

func saveTokens(tokenStore *store.TokenStore, states []*replication.RemoteReplicaState) {
	for _, s := range states {
		if err := tokenStore.Save(s.LocalReplicaID, s.RemoteReplicaID, s.Token()); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"local_replica":  s.LocalReplicaID,
				"remote_replica": s.RemoteReplicaID,
			}).Warn("failed to persist replication token")
		}
	}
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
