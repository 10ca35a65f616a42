package transport

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignRequestVerifiable(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://peer.local/replication/metadata", nil)
	require.NoError(t, err)

	signRequest(req, "node-1", "s3cret")

	assert.Equal(t, "node-1", req.Header.Get("X-Replicator-Node-ID"))
	ok := VerifySignature(
		req.Method,
		req.URL.Path,
		req.Header.Get("X-Replicator-Timestamp"),
		req.Header.Get("X-Replicator-Nonce"),
		req.Header.Get("X-Replicator-Signature"),
		"s3cret",
	)
	assert.True(t, ok)
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "http://peer.local/replication/get", nil)
	require.NoError(t, err)

	signRequest(req, "node-1", "s3cret")

	ok := VerifySignature(
		req.Method,
		req.URL.Path,
		req.Header.Get("X-Replicator-Timestamp"),
		req.Header.Get("X-Replicator-Nonce"),
		req.Header.Get("X-Replicator-Signature"),
		"wrong-secret",
	)
	assert.False(t, ok)
}
