// Package ratelimit protects the internal replication server from a
// misbehaving or over-eager peer by capping how many requests per second
// each peer node gets.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Limiter is a token bucket rate limiter keyed by peer node id.
type Limiter struct {
	requestsPerSecond int
	burstSize         int
	buckets           map[string]*tokenBucket
	mu                sync.RWMutex
	cleanupInterval   time.Duration
	log               *logrus.Entry
}

type tokenBucket struct {
	tokens         int
	maxTokens      int
	refillRate     int
	lastRefillTime time.Time
	mu             sync.Mutex
}

// New builds a Limiter allowing requestsPerSecond sustained, burstSize at
// once, per peer node id. It starts a background goroutine to evict stale
// buckets; callers don't need to stop it explicitly for process lifetime use.
func New(requestsPerSecond, burstSize int) *Limiter {
	rl := &Limiter{
		requestsPerSecond: requestsPerSecond,
		burstSize:         burstSize,
		buckets:           make(map[string]*tokenBucket),
		cleanupInterval:   5 * time.Minute,
		log:               logrus.WithField("component", "ratelimit"),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow reports whether a request from peerID should proceed.
func (rl *Limiter) Allow(peerID string) bool {
	rl.mu.RLock()
	bucket, exists := rl.buckets[peerID]
	rl.mu.RUnlock()

	if !exists {
		bucket = &tokenBucket{
			tokens:         rl.burstSize,
			maxTokens:      rl.burstSize,
			refillRate:     rl.requestsPerSecond,
			lastRefillTime: time.Now(),
		}
		rl.mu.Lock()
		rl.buckets[peerID] = bucket
		rl.mu.Unlock()
	}

	return bucket.takeToken()
}

func (tb *tokenBucket) takeToken() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefillTime)
	tokensToAdd := int(elapsed.Seconds() * float64(tb.refillRate))
	if tokensToAdd > 0 {
		tb.tokens += tokensToAdd
		if tb.tokens > tb.maxTokens {
			tb.tokens = tb.maxTokens
		}
		tb.lastRefillTime = now
	}

	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (rl *Limiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		rl.cleanup()
	}
}

func (rl *Limiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	const staleThreshold = 10 * time.Minute
	for id, bucket := range rl.buckets {
		bucket.mu.Lock()
		idle := now.Sub(bucket.lastRefillTime)
		bucket.mu.Unlock()
		if idle > staleThreshold {
			delete(rl.buckets, id)
			rl.log.WithField("peer_id", id).Debug("removed stale rate limit bucket")
		}
	}
}

// Middleware wraps next, rejecting requests from peers identified by the
// X-Replicator-Node-ID header once their bucket is exhausted.
func (rl *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peerID := r.Header.Get("X-Replicator-Node-ID")
		if peerID == "" {
			peerID = r.RemoteAddr
		}
		if !rl.Allow(peerID) {
			rl.log.WithFields(logrus.Fields{"peer_id": peerID, "path": r.URL.Path}).Warn("rate limit exceeded")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
