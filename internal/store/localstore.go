package store

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/maxiofs/blobreplicator/internal/replication"
)

// LocalStore wires the badger-backed Index and the filesystem-backed
// bodyStore into replication.LocalStore — the one contract the CORE worker
// actually depends on.
type LocalStore struct {
	idx   *Index
	bodies *bodyStore
	log   *logrus.Entry
}

// Options configures a LocalStore.
type Options struct {
	DataDir           string
	SyncWrites        bool
	CompactionEnabled bool
	Logger            *logrus.Logger
}

// New opens the index and body directories under opts.DataDir.
func New(opts Options) (*LocalStore, error) {
	idx, err := NewIndex(IndexOptions{
		DataDir:           opts.DataDir,
		SyncWrites:        opts.SyncWrites,
		CompactionEnabled: opts.CompactionEnabled,
		Logger:            opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	bodies, err := newBodyStore(opts.DataDir + "/blobs")
	if err != nil {
		idx.Close()
		return nil, err
	}

	return &LocalStore{idx: idx, bodies: bodies, log: logrus.WithField("component", "local-store")}, nil
}

// Close releases the index.
func (s *LocalStore) Close() error {
	return s.idx.Close()
}

// FindMissingKeys implements replication.LocalStore.
func (s *LocalStore) FindMissingKeys(ctx context.Context, partition string, keys []replication.BlobKey) (map[replication.BlobKey]struct{}, error) {
	return s.idx.FindMissingKeys(ctx, partition, keys)
}

// IsKeyDeleted implements replication.LocalStore.
func (s *LocalStore) IsKeyDeleted(ctx context.Context, key replication.BlobKey) (bool, error) {
	return s.idx.IsKeyDeleted(ctx, key)
}

// Put implements replication.LocalStore: it reads each message's body from
// body in order, Size bytes at a time, writes it to the filesystem backend,
// and records it in the index. A key already present is reported via
// replication.ErrAlreadyExists rather than failing the whole batch.
func (s *LocalStore) Put(ctx context.Context, partition string, messages []replication.MessageInfo, body io.Reader) error {
	var alreadyExisted bool
	for _, m := range messages {
		exists, err := s.idx.exists(partition, m.Key.ID)
		if err != nil {
			return fmt.Errorf("store: check existing key: %w", err)
		}

		buf := make([]byte, m.Size)
		if _, err := io.ReadFull(body, buf); err != nil {
			return fmt.Errorf("store: read blob body for %s: %w", m.Key, err)
		}

		if exists {
			alreadyExisted = true
			continue
		}

		bodyPath, err := s.bodies.write(partition, m.Key.ID, buf)
		if err != nil {
			return fmt.Errorf("store: write blob body for %s: %w", m.Key, err)
		}
		if err := s.idx.markPresent(partition, m, bodyPath); err != nil {
			return fmt.Errorf("store: index blob %s: %w", m.Key, err)
		}
	}
	if alreadyExisted {
		return replication.ErrAlreadyExists
	}
	return nil
}

// Delete implements replication.LocalStore.
func (s *LocalStore) Delete(ctx context.Context, partition string, keys []replication.BlobKey) error {
	for _, k := range keys {
		if err := s.bodies.remove(partition, k.ID); err != nil {
			s.log.WithError(err).WithField("key", k).Warn("failed to remove blob body for tombstoned key")
		}
		if err := s.idx.markTombstoned(k); err != nil {
			return fmt.Errorf("store: mark tombstone for %s: %w", k, err)
		}
	}
	return nil
}

// ScanSince returns every sequence log entry recorded for partition after
// fromSeq, for serving a peer's metadata request.
func (s *LocalStore) ScanSince(partition string, fromSeq uint64, maxBytes int64) (messages []replication.MessageInfo, lastSeq uint64, lagBytes int64, err error) {
	return s.idx.ScanSince(partition, fromSeq, maxBytes)
}

// ReadBody returns a blob's body bytes for serving a peer's get request.
func (s *LocalStore) ReadBody(partition string, id string) ([]byte, error) {
	return s.bodies.read(partition, id)
}

var _ replication.LocalStore = (*LocalStore)(nil)
