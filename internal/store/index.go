// Package store implements the replication.LocalStore contract: a
// BadgerDB-backed key/tombstone index fronting blob bodies held on a
// filesystem backend.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/maxiofs/blobreplicator/internal/replication"
)

// Index is a BadgerDB-backed key and tombstone index, one per node,
// shared across every partition the node hosts. A monotonic sequence log
// alongside the key index lets peers scan "everything since sequence N" for
// metadata exchange.
type Index struct {
	db     *badger.DB
	seq    *badger.Sequence
	ready  atomic.Bool
	logger *logrus.Logger
}

// IndexOptions configures Index.
type IndexOptions struct {
	DataDir           string
	SyncWrites        bool
	CompactionEnabled bool
	Logger            *logrus.Logger
}

// NewIndex opens (or creates) the on-disk index.
func NewIndex(opts IndexOptions) (*Index, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	dbPath := filepath.Join(opts.DataDir, "replication-index")
	badgerOpts := badger.DefaultOptions(dbPath).
		WithLogger(newBadgerLogger(opts.Logger)).
		WithSyncWrites(opts.SyncWrites).
		WithIndexCacheSize(100 << 20).
		WithBlockCacheSize(256 << 20).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("store: open index: %w", err)
	}

	seq, err := db.GetSequence([]byte("seqlog-counter"), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: open sequence counter: %w", err)
	}
	// Burn one value so no log entry is ever recorded at sequence 0: a zero
	// SequenceToken means "nothing seen yet" and ScanSince starts after it.
	if _, err := seq.Next(); err != nil {
		seq.Release()
		db.Close()
		return nil, fmt.Errorf("store: open sequence counter: %w", err)
	}

	idx := &Index{db: db, seq: seq, logger: opts.Logger}
	idx.ready.Store(true)

	if opts.CompactionEnabled {
		go idx.runGC()
	}

	opts.Logger.WithField("path", dbPath).Info("replication index opened")
	return idx, nil
}

// Close releases the underlying database.
func (idx *Index) Close() error {
	idx.ready.Store(false)
	if err := idx.seq.Release(); err != nil {
		idx.logger.WithError(err).Warn("failed to release sequence counter")
	}
	return idx.db.Close()
}

// ==================== Key naming scheme ====================

func blobKeyName(partition, id string) []byte {
	return []byte(fmt.Sprintf("blob:%s:%s", partition, id))
}

func tombstoneKeyName(partition, id string) []byte {
	return []byte(fmt.Sprintf("tombstone:%s:%s", partition, id))
}

// seqLogKeyName orders lexicographically by sequence number via a
// fixed-width big-endian encoding, so a forward badger iterator visits
// entries in append order.
func seqLogKeyName(seq uint64) []byte {
	key := make([]byte, len("seqlog:")+8)
	copy(key, "seqlog:")
	binary.BigEndian.PutUint64(key[len("seqlog:"):], seq)
	return key
}

func seqFromLogKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len("seqlog:"):])
}

// seqLogEntry is the JSON-encoded value behind one sequence log key.
type seqLogEntry struct {
	Partition string `json:"partition"`
	ID        string `json:"id"`
	Size      int64  `json:"size"`
	IsDeleted bool   `json:"is_deleted"`
	IsExpired bool   `json:"is_expired"`
}

// FindMissingKeys implements replication.LocalStore.
func (idx *Index) FindMissingKeys(ctx context.Context, partition string, keys []replication.BlobKey) (map[replication.BlobKey]struct{}, error) {
	missing := make(map[replication.BlobKey]struct{})
	err := idx.db.View(func(txn *badger.Txn) error {
		for _, k := range keys {
			if _, err := txn.Get(blobKeyName(partition, k.ID)); err == badger.ErrKeyNotFound {
				missing[k] = struct{}{}
			} else if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: find missing keys: %w", err)
	}
	return missing, nil
}

// exists reports whether partition/id has an entry in the index at all
// (blob or tombstone).
func (idx *Index) exists(partition, id string) (bool, error) {
	var found bool
	err := idx.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(blobKeyName(partition, id)); err == nil {
			found = true
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if _, err := txn.Get(tombstoneKeyName(partition, id)); err == nil {
			found = true
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return nil
	})
	return found, err
}

// markPresent records that a blob's body has been durably written, and
// appends it to the sequence log so peers can discover it via ScanSince.
func (idx *Index) markPresent(partition string, m replication.MessageInfo, bodyPath string) error {
	seq, err := idx.seq.Next()
	if err != nil {
		return fmt.Errorf("store: allocate sequence: %w", err)
	}
	logVal, err := json.Marshal(seqLogEntry{Partition: partition, ID: m.Key.ID, Size: m.Size})
	if err != nil {
		return fmt.Errorf("store: encode sequence log entry: %w", err)
	}
	return idx.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(blobKeyName(partition, m.Key.ID), []byte(bodyPath))); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(seqLogKeyName(seq), logVal))
	})
}

// IsKeyDeleted implements replication.LocalStore.
func (idx *Index) IsKeyDeleted(ctx context.Context, key replication.BlobKey) (bool, error) {
	var deleted bool
	err := idx.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(tombstoneKeyName(key.Partition, key.ID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("store: is key deleted: %w", err)
	}
	return deleted, nil
}

// markTombstoned records a delete marker and removes the blob body pointer,
// appending a deletion event to the sequence log.
func (idx *Index) markTombstoned(key replication.BlobKey) error {
	seq, err := idx.seq.Next()
	if err != nil {
		return fmt.Errorf("store: allocate sequence: %w", err)
	}
	logVal, err := json.Marshal(seqLogEntry{Partition: key.Partition, ID: key.ID, IsDeleted: true})
	if err != nil {
		return fmt.Errorf("store: encode sequence log entry: %w", err)
	}
	return idx.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(blobKeyName(key.Partition, key.ID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.SetEntry(badger.NewEntry(tombstoneKeyName(key.Partition, key.ID), []byte{1})); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry(seqLogKeyName(seq), logVal))
	})
}

// ScanSince returns, in sequence order, every entry recorded for partition
// after fromSeq, stopping once the accumulated message size reaches
// maxBytes. It also reports the total size of entries left unread beyond
// the returned batch, for the caller's lag-based pacing decision.
func (idx *Index) ScanSince(partition string, fromSeq uint64, maxBytes int64) (messages []replication.MessageInfo, lastSeq uint64, lagBytes int64, err error) {
	lastSeq = fromSeq
	var accumulated int64
	err = idx.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("seqlog:")
		it := txn.NewIterator(opts)
		defer it.Close()

		start := seqLogKeyName(fromSeq + 1)
		for it.Seek(start); it.Valid(); it.Next() {
			item := it.Item()
			seq := seqFromLogKey(item.KeyCopy(nil))

			var entry seqLogEntry
			if valErr := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); valErr != nil {
				return valErr
			}
			if entry.Partition != partition {
				continue
			}

			if accumulated < maxBytes {
				messages = append(messages, replication.MessageInfo{
					Key:       replication.BlobKey{ID: entry.ID, Partition: entry.Partition},
					Size:      entry.Size,
					IsDeleted: entry.IsDeleted,
				})
				accumulated += entry.Size
				lastSeq = seq
			} else {
				lagBytes += entry.Size
			}
		}
		return nil
	})
	if err != nil {
		return nil, fromSeq, 0, fmt.Errorf("store: scan since: %w", err)
	}
	return messages, lastSeq, lagBytes, nil
}

func (idx *Index) runGC() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if !idx.ready.Load() {
			return
		}
		if err := idx.db.RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
			idx.logger.WithError(err).Warn("replication index GC failed")
		}
	}
}

type badgerLogger struct{ logger *logrus.Logger }

func newBadgerLogger(logger *logrus.Logger) *badgerLogger { return &badgerLogger{logger: logger} }

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf("[index] "+format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf("[index] "+format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Infof("[index] "+format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf("[index] "+format, args...) }

var _ io.Closer = (*Index)(nil)
