package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maxiofs/blobreplicator/internal/replication"
	"github.com/maxiofs/blobreplicator/internal/wire"
)

// httpConnection is one checked-out channel to a peer node's replication
// endpoints, speaking the wire package's JSON framing over HTTP.
type httpConnection struct {
	client       *http.Client
	baseURL      string
	localNodeID  string
	sharedSecret string
	tokens       replication.TokenFactory
	log          *logrus.Entry
}

// Exchange issues a metadata request against the peer's /replication/metadata
// endpoint.
func (c *httpConnection) Exchange(ctx context.Context, req replication.MetadataRequest) (replication.MetadataResponse, error) {
	body, err := wire.EncodeMetadataRequest(req)
	if err != nil {
		return replication.MetadataResponse{}, fmt.Errorf("transport: encode metadata request: %w", err)
	}
	data, err := c.doSigned(ctx, http.MethodPost, "/replication/metadata", body)
	if err != nil {
		return replication.MetadataResponse{}, err
	}
	return wire.DecodeMetadataResponse(data, c.tokens)
}

// Fetch issues a get request against the peer's /replication/get endpoint.
func (c *httpConnection) Fetch(ctx context.Context, req replication.GetRequest) (replication.GetResponse, error) {
	body, err := wire.EncodeGetRequest(req)
	if err != nil {
		return replication.GetResponse{}, fmt.Errorf("transport: encode get request: %w", err)
	}
	data, err := c.doSigned(ctx, http.MethodPost, "/replication/get", body)
	if err != nil {
		return replication.GetResponse{}, err
	}
	return wire.DecodeGetResponse(data)
}

func (c *httpConnection) doSigned(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	signRequest(req, c.localNodeID, c.sharedSecret)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Warn("peer request failed")
		return nil, fmt.Errorf("transport: request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transport: peer %s returned status %d", c.baseURL, resp.StatusCode)
	}

	c.log.WithFields(logrus.Fields{
		"path":        path,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("peer request completed")
	return data, nil
}

var _ replication.Connection = (*httpConnection)(nil)
