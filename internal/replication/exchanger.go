package replication

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// MetadataExchanger issues a batched metadata request for one peer and
// reduces the decoded response to one ExchangeMetadataResult per input
// replica, positionally aligned.
type MetadataExchanger struct {
	tokens      TokenFactory
	correlation *CorrelationIDGenerator
	clientID    string
	cfg         Config
	pacer       *Pacer
	reconciler  *Reconciler
	log         *logrus.Entry
}

// NewMetadataExchanger builds a MetadataExchanger.
func NewMetadataExchanger(tokens TokenFactory, correlation *CorrelationIDGenerator, clientID string, cfg Config, pacer *Pacer, reconciler *Reconciler) *MetadataExchanger {
	return &MetadataExchanger{
		tokens:      tokens,
		correlation: correlation,
		clientID:    clientID,
		cfg:         cfg,
		pacer:       pacer,
		reconciler:  reconciler,
		log:         logrus.WithField("component", "metadata-exchanger"),
	}
}

// Exchange sends one batched metadata request for batch and returns one
// result per entry, in order. A non-nil error means the whole batch failed
// (transport error, top-level server error, or a response whose slot count
// does not match the request) and the caller should treat this peer's
// iteration as failed rather than trust any partial result.
func (x *MetadataExchanger) Exchange(ctx context.Context, conn Connection, batch *PeerBatch, remoteColo bool) ([]ExchangeMetadataResult, error) {
	x.pacer.resetForExchange()

	req := MetadataRequest{
		CorrelationID:  x.correlation.Next(),
		ClientID:       x.clientID,
		FetchSizeBytes: x.cfg.ReplicationFetchSizeBytes,
		Entries:        make([]MetadataRequestEntry, len(batch.Entries)),
	}
	for i, e := range batch.Entries {
		req.Entries[i] = MetadataRequestEntry{
			Partition:            e.Partition,
			Token:                e.Token(),
			RequesterHost:        e.RemoteHost,
			RequesterReplicaPath: e.LocalReplicaID,
		}
	}

	resp, err := conn.Exchange(ctx, req)
	if err != nil {
		return nil, &ReplicationError{Phase: PhaseExchange, Peer: batch.RemoteNode, Err: err}
	}
	if resp.Err != NoError {
		return nil, &ReplicationError{Phase: PhaseExchange, Peer: batch.RemoteNode, Err: fmt.Errorf("%w: server error %s", ErrResponseShapeMismatch, resp.Err)}
	}
	if len(resp.Entries) != len(batch.Entries) {
		return nil, &ReplicationError{Phase: PhaseExchange, Peer: batch.RemoteNode, Err: fmt.Errorf("%w: got %d slots, expected %d", ErrResponseShapeMismatch, len(resp.Entries), len(batch.Entries))}
	}

	results := make([]ExchangeMetadataResult, len(batch.Entries))
	for i, entry := range batch.Entries {
		results[i] = x.processSlot(ctx, entry, resp.Entries[i], remoteColo)
	}
	return results, nil
}

// processSlot handles one replica's metadata response. Any panic from a
// collaborator is recovered and converted to an Unknown error for this slot
// only, so one misbehaving slot never takes down the rest of the batch.
func (x *MetadataExchanger) processSlot(ctx context.Context, entry *RemoteReplicaState, slot PerReplicaMetadataResponse, remoteColo bool) (result ExchangeMetadataResult) {
	defer func() {
		if r := recover(); r != nil {
			x.log.WithFields(logrus.Fields{
				"remote_replica": entry.RemoteReplicaID,
				"panic":          r,
			}).Error("recovered from panic while processing metadata slot")
			result = ExchangeMetadataResult{Err: Unknown}
		}
	}()

	if slot.Err != NoError {
		return ExchangeMetadataResult{Err: slot.Err}
	}

	x.pacer.maybeSleep(remoteColo, slot.RemoteReplicaLagBytes)

	missing, err := x.reconciler.Reconcile(ctx, entry, slot.Messages)
	if err != nil {
		x.log.WithError(err).WithField("remote_replica", entry.RemoteReplicaID).Warn("reconcile failed for slot")
		return ExchangeMetadataResult{Err: Unknown}
	}

	return ExchangeMetadataResult{MissingKeys: missing, NewToken: slot.NewToken}
}
