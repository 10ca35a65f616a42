package replication

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Reconciler applies remote-originated tombstones to the local store and
// computes the final set of keys the Fetcher should still retrieve.
type Reconciler struct {
	notify NotificationSink
	log    *logrus.Entry
}

// NewReconciler builds a Reconciler. A nil sink is replaced with the no-op
// default, never left as a nil interface value.
func NewReconciler(notify NotificationSink) *Reconciler {
	if notify == nil {
		notify = NewNoopNotificationSink()
	}
	return &Reconciler{notify: notify, log: logrus.WithField("component", "reconciler")}
}

// Reconcile updates state's local store with remote-originated tombstones
// and returns the keys still missing after dropping tombstoned and expired
// entries the local store never had.
func (r *Reconciler) Reconcile(ctx context.Context, state *RemoteReplicaState, messages []MessageInfo) (map[BlobKey]struct{}, error) {
	keys := make([]BlobKey, len(messages))
	for i, m := range messages {
		keys[i] = m.Key
	}

	missing, err := state.LocalStore.FindMissingKeys(ctx, state.Partition, keys)
	if err != nil {
		return nil, fmt.Errorf("reconcile: find missing keys: %w", err)
	}

	result := make(map[BlobKey]struct{}, len(missing))
	for k := range missing {
		result[k] = struct{}{}
	}

	for _, m := range messages {
		if m.Key.Partition != state.Partition {
			r.log.WithFields(logrus.Fields{
				"remote_replica": state.RemoteReplicaID,
				"key":            m.Key,
				"expected":       state.Partition,
			}).Error("partition mismatch between message and replica state")
			return nil, ErrPartitionMismatch
		}

		if _, stillMissing := result[m.Key]; !stillMissing {
			// Present locally.
			if !m.IsDeleted {
				continue
			}
			deleted, err := state.LocalStore.IsKeyDeleted(ctx, m.Key)
			if err != nil {
				r.log.WithError(err).WithField("key", m.Key).Warn("failed to check tombstone state, will retry next iteration")
				continue
			}
			if deleted {
				continue
			}
			if err := state.LocalStore.Delete(ctx, state.Partition, []BlobKey{m.Key}); err != nil {
				r.log.WithError(err).WithField("key", m.Key).Warn("failed to apply remote tombstone, will retry next iteration")
				continue
			}
			r.notify.OnBlobReplicaDeleted(state.RemoteHost, state.RemotePort, m.Key.ID, SourceRepaired)
			continue
		}

		// Absent locally.
		switch {
		case m.IsDeleted:
			delete(result, m.Key)
			r.notify.OnBlobReplicaDeleted(state.RemoteHost, state.RemotePort, m.Key.ID, SourceRepaired)
		case m.IsExpired:
			delete(result, m.Key)
		}
	}

	return result, nil
}
