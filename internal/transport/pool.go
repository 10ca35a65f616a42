package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxiofs/blobreplicator/internal/replication"
)

// Options configures a Pool.
type Options struct {
	LocalNodeID      string
	SharedSecret     string
	FailureThreshold int
	SuccessThreshold int
	BreakerTimeout   time.Duration
	TLSInsecure      bool
	Tokens           replication.TokenFactory
	Logger           *logrus.Entry
}

func (o *Options) setDefaults() {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = 2
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logrus.WithField("component", "transport-pool")
	}
}

// Pool implements replication.ConnectionPool over HTTP, gating each peer
// node behind its own circuit breaker so one wedged node doesn't stall
// checkouts for every other peer.
type Pool struct {
	opts Options

	httpClient *http.Client

	mu       sync.Mutex
	breakers map[string]*circuitBreaker
}

// NewPool builds a Pool ready for use.
func NewPool(opts Options) *Pool {
	opts.setDefaults()
	return &Pool{
		opts: opts,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.TLSInsecure}, //nolint:gosec
			},
		},
		breakers: make(map[string]*circuitBreaker),
	}
}

func (p *Pool) breakerFor(nodeKey string) *circuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	cb, ok := p.breakers[nodeKey]
	if !ok {
		cb = newCircuitBreaker(nodeKey, p.opts.FailureThreshold, p.opts.SuccessThreshold, p.opts.BreakerTimeout)
		p.breakers[nodeKey] = cb
	}
	return cb
}

// CheckOut returns a Connection to host:port, refusing if that node's
// circuit breaker is currently open.
func (p *Pool) CheckOut(ctx context.Context, host string, port int, ssl bool, timeout time.Duration) (replication.Connection, error) {
	nodeKey := fmt.Sprintf("%s:%d", host, port)
	cb := p.breakerFor(nodeKey)

	if !cb.allowRequest() {
		return nil, fmt.Errorf("transport: checkout %s: %w", nodeKey, ErrCircuitOpen)
	}

	scheme := "http"
	if ssl {
		scheme = "https"
	}
	conn := &httpConnection{
		client:       p.httpClient,
		baseURL:      fmt.Sprintf("%s://%s:%d", scheme, host, port),
		localNodeID:  p.opts.LocalNodeID,
		sharedSecret: p.opts.SharedSecret,
		tokens:       p.opts.Tokens,
		log:          p.opts.Logger.WithField("peer", nodeKey),
	}
	return &trackedConnection{Connection: conn, pool: p, nodeKey: nodeKey}, nil
}

// CheckIn records a successful round-trip against conn's peer.
func (p *Pool) CheckIn(conn replication.Connection) {
	if tc, ok := conn.(*trackedConnection); ok {
		p.breakerFor(tc.nodeKey).recordSuccess()
	}
}

// Destroy records a failed round-trip against conn's peer.
func (p *Pool) Destroy(conn replication.Connection) {
	if tc, ok := conn.(*trackedConnection); ok {
		p.breakerFor(tc.nodeKey).recordFailure()
	}
}

// trackedConnection threads the peer's node key back to CheckIn/Destroy so
// the pool can attribute the outcome to the right circuit breaker.
type trackedConnection struct {
	replication.Connection
	pool    *Pool
	nodeKey string
}

var _ replication.ConnectionPool = (*Pool)(nil)
