package replication

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// fakeToken is a minimal FindToken used by every test in this package.
type fakeToken struct{ v string }

func (t fakeToken) Bytes() []byte { return []byte(t.v) }
func (t fakeToken) Equal(other FindToken) bool {
	o, ok := other.(fakeToken)
	return ok && o.v == t.v
}
func (t fakeToken) String() string { return t.v }

type fakeTokenFactory struct{}

func (fakeTokenFactory) Decode(data []byte) (FindToken, error) { return fakeToken{v: string(data)}, nil }
func (fakeTokenFactory) ZeroToken() FindToken                  { return fakeToken{v: ""} }

// fakeStore is an in-memory LocalStore recording every call it receives.
type fakeStore struct {
	mu       sync.Mutex
	present  map[BlobKey]bool
	deleted  map[BlobKey]bool
	putErr   error
	putCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{present: map[BlobKey]bool{}, deleted: map[BlobKey]bool{}}
}

func (s *fakeStore) FindMissingKeys(ctx context.Context, partition string, keys []BlobKey) (map[BlobKey]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	missing := map[BlobKey]struct{}{}
	for _, k := range keys {
		if !s.present[k] {
			missing[k] = struct{}{}
		}
	}
	return missing, nil
}

func (s *fakeStore) Put(ctx context.Context, partition string, messages []MessageInfo, body io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	if s.putErr != nil {
		return s.putErr
	}
	for _, m := range messages {
		s.present[m.Key] = true
	}
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, partition string, keys []BlobKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.deleted[k] = true
	}
	return nil
}

func (s *fakeStore) IsKeyDeleted(ctx context.Context, key BlobKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted[key], nil
}

// fakeConnection answers canned Exchange/Fetch responses.
type fakeConnection struct {
	metadataResp MetadataResponse
	metadataErr  error
	getResp      GetResponse
	getErr       error
}

func (c *fakeConnection) Exchange(ctx context.Context, req MetadataRequest) (MetadataResponse, error) {
	return c.metadataResp, c.metadataErr
}

func (c *fakeConnection) Fetch(ctx context.Context, req GetRequest) (GetResponse, error) {
	return c.getResp, c.getErr
}

// fakePool hands out one fixed connection and records checkin/destroy.
type fakePool struct {
	conn         Connection
	checkOutErr  error
	checkedIn    int
	destroyed    int
	checkOutArgs struct{ host string; port int; ssl bool }
}

func (p *fakePool) CheckOut(ctx context.Context, host string, port int, ssl bool, timeout time.Duration) (Connection, error) {
	p.checkOutArgs = struct {
		host string
		port int
		ssl  bool
	}{host, port, ssl}
	if p.checkOutErr != nil {
		return nil, p.checkOutErr
	}
	return p.conn, nil
}

func (p *fakePool) CheckIn(conn Connection) { p.checkedIn++ }
func (p *fakePool) Destroy(conn Connection) { p.destroyed++ }

// fakeNotify records every notification fired.
type fakeNotify struct {
	mu      sync.Mutex
	created []string
	deleted []string
}

func (n *fakeNotify) OnBlobReplicaCreated(host string, port int, id string, source NotificationSource) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, fmt.Sprintf("%s:%d/%s/%s", host, port, id, source))
}

func (n *fakeNotify) OnBlobReplicaDeleted(host string, port int, id string, source NotificationSource) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, fmt.Sprintf("%s:%d/%s/%s", host, port, id, source))
}

func bodyFor(messages []MessageInfo) io.Reader {
	var buf []byte
	for _, m := range messages {
		buf = append(buf, make([]byte, m.Size)...)
	}
	return newReaderOf(buf)
}

type readerOf struct{ b []byte }

func newReaderOf(b []byte) *readerOf { return &readerOf{b: b} }

func (r *readerOf) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}
