package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
	"github.com/sirupsen/logrus"

	"github.com/maxiofs/blobreplicator/internal/replication"
)

// TokenStore persists the per-(local,remote) FindToken across process
// restarts so a worker resumes close to where it left off instead of
// re-exchanging metadata from a zero token after every restart.
type TokenStore struct {
	db     *pebble.DB
	tokens replication.TokenFactory
	logger *logrus.Logger
}

// TokenStoreOptions configures TokenStore.
type TokenStoreOptions struct {
	DataDir string
	Tokens  replication.TokenFactory
	Logger  *logrus.Logger
}

// NewTokenStore opens (or creates) the on-disk token store.
func NewTokenStore(opts TokenStoreOptions) (*TokenStore, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}

	dbPath := filepath.Join(opts.DataDir, "replication-tokens")
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("store: create token dir: %w", err)
	}

	cache := pebble.NewCache(64 << 20)
	defer cache.Unref()

	db, err := pebble.Open(dbPath, &pebble.Options{
		Cache:  cache,
		Logger: &pebbleLogger{logger: opts.Logger},
	})
	if err != nil {
		return nil, fmt.Errorf("store: open token store: %w", err)
	}

	return &TokenStore{db: db, tokens: opts.Tokens, logger: opts.Logger}, nil
}

// Close releases the underlying database.
func (t *TokenStore) Close() error {
	return t.db.Close()
}

func tokenKeyName(localReplicaID, remoteReplicaID string) []byte {
	return []byte(fmt.Sprintf("token:%s:%s", localReplicaID, remoteReplicaID))
}

// Load returns the persisted token for (localReplicaID, remoteReplicaID), or
// the factory's zero token if nothing has been persisted yet.
func (t *TokenStore) Load(localReplicaID, remoteReplicaID string) (replication.FindToken, error) {
	val, closer, err := t.db.Get(tokenKeyName(localReplicaID, remoteReplicaID))
	if err == pebble.ErrNotFound {
		return t.tokens.ZeroToken(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load token: %w", err)
	}
	defer closer.Close()

	tok, err := t.tokens.Decode(append([]byte(nil), val...))
	if err != nil {
		return nil, fmt.Errorf("store: decode persisted token: %w", err)
	}
	return tok, nil
}

// Save persists the current token for (localReplicaID, remoteReplicaID).
// cmd/replicatord calls it for every state on a periodic checkpoint and once
// more at shutdown; the CORE worker itself never touches persistence directly.
func (t *TokenStore) Save(localReplicaID, remoteReplicaID string, tok replication.FindToken) error {
	if err := t.db.Set(tokenKeyName(localReplicaID, remoteReplicaID), tok.Bytes(), pebble.Sync); err != nil {
		return fmt.Errorf("store: save token: %w", err)
	}
	return nil
}

type pebbleLogger struct{ logger *logrus.Logger }

func (l *pebbleLogger) Infof(format string, args ...interface{})  { l.logger.Infof("[tokenstore] "+format, args...) }
func (l *pebbleLogger) Fatalf(format string, args ...interface{}) { l.logger.Fatalf("[tokenstore] "+format, args...) }
func (l *pebbleLogger) Errorf(format string, args ...interface{}) { l.logger.Errorf("[tokenstore] "+format, args...) }
