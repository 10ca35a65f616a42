// Package notify delivers fire-and-forget webhook notifications whenever
// anti-entropy repairs a blob or applies a tombstone.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/maxiofs/blobreplicator/internal/replication"
)

const (
	eventVersion   = "1.0"
	eventSource    = "blobreplicator:anti-entropy"
	webhookTimeout = 10 * time.Second
	maxRetries     = 3
	retryDelay     = 2 * time.Second
)

// EventType distinguishes a repaired create from a repaired delete.
type EventType string

const (
	EventBlobCreated EventType = "blob:Repaired:Put"
	EventBlobDeleted EventType = "blob:Repaired:Delete"
)

// Event is the payload delivered to a webhook endpoint for one repaired
// blob.
type Event struct {
	EventID      string    `json:"event_id"`
	EventVersion string    `json:"event_version"`
	EventSource  string    `json:"event_source"`
	EventTime    time.Time `json:"event_time"`
	EventName    EventType `json:"event_name"`
	PeerHost     string    `json:"peer_host"`
	PeerPort     int       `json:"peer_port"`
	BlobID       string    `json:"blob_id"`
	Source       string    `json:"source"`
}

// WebhookPayload is the JSON body posted to a webhook endpoint.
type WebhookPayload struct {
	Records []Event `json:"records"`
}

// Sink is a replication.NotificationSink that posts each event to a fixed
// set of webhook endpoints, retrying transient failures.
type Sink struct {
	endpoints    []Endpoint
	httpClient   *http.Client
	log          *logrus.Entry
}

// Endpoint is one webhook subscriber.
type Endpoint struct {
	URL           string
	CustomHeaders map[string]string
}

// NewSink builds a Sink posting to endpoints. A nil or empty endpoints list
// is valid; it simply delivers nothing.
func NewSink(endpoints []Endpoint) *Sink {
	return &Sink{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: webhookTimeout},
		log:        logrus.WithField("component", "notify"),
	}
}

// OnBlobReplicaCreated implements replication.NotificationSink.
func (s *Sink) OnBlobReplicaCreated(host string, port int, id string, source replication.NotificationSource) {
	s.dispatch(EventBlobCreated, host, port, id, source)
}

// OnBlobReplicaDeleted implements replication.NotificationSink.
func (s *Sink) OnBlobReplicaDeleted(host string, port int, id string, source replication.NotificationSource) {
	s.dispatch(EventBlobDeleted, host, port, id, source)
}

func (s *Sink) dispatch(name EventType, host string, port int, id string, source replication.NotificationSource) {
	if len(s.endpoints) == 0 {
		return
	}
	event := Event{
		EventID:      uuid.NewString(),
		EventVersion: eventVersion,
		EventSource:  eventSource,
		EventTime:    time.Now().UTC(),
		EventName:    name,
		PeerHost:     host,
		PeerPort:     port,
		BlobID:       id,
		Source:       string(source),
	}
	for _, ep := range s.endpoints {
		go s.send(ep, event)
	}
}

func (s *Sink) send(ep Endpoint, event Event) {
	payload := WebhookPayload{Records: []Event{event}}
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal webhook payload")
		return
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, ep.URL, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "blobreplicator/1.0")
		req.Header.Set("X-Replicator-Event", string(event.EventName))
		req.Header.Set("X-Replicator-Blob-ID", event.BlobID)
		for k, v := range ep.CustomHeaders {
			req.Header.Set(k, v)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
			s.log.WithError(err).WithFields(logrus.Fields{"url": ep.URL, "attempt": attempt + 1}).Warn("webhook delivery failed")
			continue
		}
		func() {
			defer resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				lastErr = nil
			} else {
				lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
			}
		}()
		if lastErr == nil {
			s.log.WithFields(logrus.Fields{"url": ep.URL, "event": event.EventName, "blob_id": event.BlobID}).Debug("webhook delivered")
			return
		}
		s.log.WithFields(logrus.Fields{"url": ep.URL, "attempt": attempt + 1}).Warn("webhook returned non-2xx status")
	}

	s.log.WithError(lastErr).WithFields(logrus.Fields{"url": ep.URL, "event": event.EventName, "blob_id": event.BlobID}).Error("webhook delivery failed after all retries")
}

var _ replication.NotificationSink = (*Sink)(nil)
