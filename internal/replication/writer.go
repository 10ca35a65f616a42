package replication

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Writer validates the get-response stream and writes blobs into the local
// store, advancing each slot's token only once its missing keys have been
// durably written or confirmed unnecessary.
type Writer struct {
	cfg     Config
	notify  NotificationSink
	metrics MetricsSink
	log     *logrus.Entry
}

// NewWriter builds a Writer. Nil collaborators are replaced with no-op
// defaults.
func NewWriter(cfg Config, notify NotificationSink, metrics MetricsSink) *Writer {
	if notify == nil {
		notify = NewNoopNotificationSink()
	}
	if metrics == nil {
		metrics = NewNoopMetricsSink()
	}
	return &Writer{cfg: cfg, notify: notify, metrics: metrics, log: logrus.WithField("component", "writer")}
}

// Write walks results positionally against batch, consuming resp's payload
// list only for slots that actually contributed to the get request.
func (w *Writer) Write(ctx context.Context, results []ExchangeMetadataResult, resp GetResponse, batch *PeerBatch) {
	cursor := 0
	for i, res := range results {
		entry := batch.Entries[i]

		if res.IsError() {
			continue
		}

		if len(res.MissingKeys) == 0 {
			entry.advanceToken(res.NewToken)
			continue
		}

		if cursor >= len(resp.Payloads) {
			w.log.WithField("remote_replica", entry.RemoteReplicaID).Error("get response exhausted before all missing slots were consumed")
			continue
		}
		payload := resp.Payloads[cursor]
		cursor++

		if payload.Partition != entry.Partition {
			w.log.WithFields(logrus.Fields{
				"remote_replica": entry.RemoteReplicaID,
				"got_partition":  payload.Partition,
				"want_partition": entry.Partition,
			}).Error("partition mismatch in get response, fatal for this slot")
			continue
		}

		if payload.Err != NoError {
			w.log.WithFields(logrus.Fields{"remote_replica": entry.RemoteReplicaID, "server_error": payload.Err}).Warn("get error for partition, token will not advance")
			w.metrics.IncFixError()
			continue
		}

		w.writeSlot(ctx, entry, res, payload)
	}
}

func (w *Writer) writeSlot(ctx context.Context, entry *RemoteReplicaState, res ExchangeMetadataResult, payload PartitionPayload) {
	messages := payload.Messages
	body := payload.Body
	if w.cfg.ValidateMessageStream {
		var invalid int
		var err error
		messages, body, invalid, err = sieveStream(messages, body)
		if err != nil {
			w.log.WithError(err).WithField("remote_replica", entry.RemoteReplicaID).Warn("failed to validate message stream, token will not advance")
			return
		}
		if invalid > 0 {
			w.log.WithFields(logrus.Fields{"remote_replica": entry.RemoteReplicaID, "invalid_count": invalid}).Warn("discarded invalid messages from stream")
		}
	}

	if len(messages) == 0 {
		// A stream reduced to nothing by validation still counts as
		// "nothing to write," not an error, so the token advances.
		entry.advanceToken(res.NewToken)
		return
	}

	err := entry.LocalStore.Put(ctx, entry.Partition, messages, body)
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		w.log.WithError(err).WithField("remote_replica", entry.RemoteReplicaID).Warn("store put failed, token will not advance")
		w.metrics.IncFixError()
		return
	}

	var bytesFixed int64
	for _, m := range messages {
		bytesFixed += m.Size
		w.notify.OnBlobReplicaCreated(entry.RemoteHost, entry.RemotePort, m.Key.ID, SourceRepaired)
	}
	w.metrics.AddBytesFixed(bytesFixed)
	w.metrics.AddBlobsFixed(int64(len(messages)))

	entry.advanceToken(res.NewToken)
}
