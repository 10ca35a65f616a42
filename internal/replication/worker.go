package replication

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkerConfig bundles the replication Config with the identity fields a
// Worker needs but that aren't part of the shared, process-wide options.
type WorkerConfig struct {
	Config
	LocalDatacenter string
	ClientID        string
}

// Worker is the long-lived loop that owns one peer list: shuffle peers,
// check out a connection, run Exchange -> Reconcile -> Fetch -> Write,
// return the connection, update metrics, repeat.
type Worker struct {
	name      string
	cfg       WorkerConfig
	pool      ConnectionPool
	grouping  *PeerGrouping
	exchanger *MetadataExchanger
	fetcher   *Fetcher
	writer    *Writer
	metrics   MetricsSink
	log       *logrus.Entry
	rng       *rand.Rand

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWorker builds a Worker for one assigned peer list. seed should differ
// across workers sharing a process so their shuffles decorrelate.
func NewWorker(name string, cfg WorkerConfig, pool ConnectionPool, states []*RemoteReplicaState, exchanger *MetadataExchanger, fetcher *Fetcher, writer *Writer, metrics MetricsSink, seed int64) *Worker {
	if metrics == nil {
		metrics = NewNoopMetricsSink()
	}
	return &Worker{
		name:      name,
		cfg:       cfg,
		pool:      pool,
		grouping:  NewPeerGrouping(states),
		exchanger: exchanger,
		fetcher:   fetcher,
		writer:    writer,
		metrics:   metrics,
		log:       logrus.WithFields(logrus.Fields{"component": "replication-worker", "worker": name}),
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Run loops until Shutdown is observed; each pass randomly shuffles the peer
// list and processes every peer once. It returns only on shutdown or ctx
// cancellation.
func (w *Worker) Run(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(doneCh)
	}()

	w.log.Info("replication worker starting")
	for {
		select {
		case <-stopCh:
			w.log.Info("replication worker stopping on shutdown request")
			return
		case <-ctx.Done():
			w.log.Info("replication worker stopping on context cancellation")
			return
		default:
		}

		for _, batch := range w.grouping.Shuffled(w.rng) {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			w.processPeer(ctx, batch)
		}
	}
}

// Shutdown requests termination and blocks until Run returns.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// IsRunning reports whether Run is currently looping.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// processPeer runs one peer's CheckOut -> Exchange -> Reconcile -> Fetch ->
// Write -> Release state machine, timing each phase independently.
func (w *Worker) processPeer(ctx context.Context, batch *PeerBatch) {
	iterStart := time.Now()
	remoteColo := w.cfg.LocalDatacenter != batch.RemoteColo
	log := w.log.WithFields(logrus.Fields{"remote_node": batch.RemoteNode, "remote_colo": remoteColo})
	defer func() {
		w.metrics.ObserveIterationDuration(remoteColo, time.Since(iterStart))
	}()

	ssl := w.cfg.SSLEnabledColos[batch.RemoteColo]

	checkoutStart := time.Now()
	conn, err := w.pool.CheckOut(ctx, batch.RemoteHost, batch.RemotePort, ssl, w.cfg.ConnectionCheckoutTimeout)
	w.metrics.ObservePhaseDuration(PhaseCheckout, remoteColo, time.Since(checkoutStart))
	if err != nil {
		log.WithError(err).Warn("connection checkout failed")
		w.metrics.IncCheckoutError()
		return
	}

	exchangeStart := time.Now()
	results, err := w.exchanger.Exchange(ctx, conn, batch, remoteColo)
	w.metrics.ObservePhaseDuration(PhaseExchange, remoteColo, time.Since(exchangeStart))
	if err != nil {
		log.WithError(err).Warn("metadata exchange failed")
		w.metrics.IncExchangeError()
		w.pool.Destroy(conn)
		return
	}

	fixStart := time.Now()
	getResp, err := w.fetcher.Fetch(ctx, conn, results, batch)
	if err != nil {
		log.WithError(err).Warn("fetch failed")
		w.metrics.IncFixError()
		w.metrics.ObservePhaseDuration(PhaseFetch, remoteColo, time.Since(fixStart))
		w.pool.Destroy(conn)
		return
	}
	w.metrics.ObservePhaseDuration(PhaseFetch, remoteColo, time.Since(fixStart))

	writeStart := time.Now()
	w.writer.Write(ctx, results, getResp, batch)
	w.metrics.ObservePhaseDuration(PhaseWrite, remoteColo, time.Since(writeStart))

	w.pool.CheckIn(conn)
}
