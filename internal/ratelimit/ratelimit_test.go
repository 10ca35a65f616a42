package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllowsWithinBurst(t *testing.T) {
	rl := New(5, 10)
	peer := "node-a"

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow(peer), "request %d should be allowed within burst", i+1)
	}
	assert.False(t, rl.Allow(peer), "request beyond burst should be denied")
}

func TestLimiterRefillsOverTime(t *testing.T) {
	rl := New(5, 10)
	peer := "node-b"

	for i := 0; i < 10; i++ {
		rl.Allow(peer)
	}
	time.Sleep(1100 * time.Millisecond)

	allowed := 0
	for i := 0; i < 5; i++ {
		if rl.Allow(peer) {
			allowed++
		}
	}
	assert.GreaterOrEqual(t, allowed, 4)
}

func TestLimiterSeparateBucketsPerPeer(t *testing.T) {
	rl := New(5, 10)

	for i := 0; i < 10; i++ {
		rl.Allow("node-c")
	}
	assert.False(t, rl.Allow("node-c"))
	assert.True(t, rl.Allow("node-d"))
}

func TestLimiterMiddlewareBlocksOverLimit(t *testing.T) {
	rl := New(2, 3)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/replication/metadata", nil)
		req.Header.Set("X-Replicator-Node-ID", "node-e")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/replication/metadata", nil)
	req.Header.Set("X-Replicator-Node-ID", "node-e")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}
