package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxiofs/blobreplicator/internal/replication"
)

func TestSinkDeliversCreatedEvent(t *testing.T) {
	var mu sync.Mutex
	var received WebhookPayload

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSink([]Endpoint{{URL: srv.URL, CustomHeaders: map[string]string{"X-Tenant": "t1"}}})
	sink.OnBlobReplicaCreated("peer-host", 6667, "blob-1", replication.SourceRepaired)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received.Records) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "blob-1", received.Records[0].BlobID)
	assert.Equal(t, EventBlobCreated, received.Records[0].EventName)
}

func TestSinkNoEndpointsIsNoop(t *testing.T) {
	sink := NewSink(nil)
	assert.NotPanics(t, func() {
		sink.OnBlobReplicaDeleted("h", 1, "b", replication.SourceRepaired)
	})
}
