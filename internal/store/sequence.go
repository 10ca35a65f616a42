package store

import (
	"encoding/binary"
	"fmt"

	"github.com/maxiofs/blobreplicator/internal/replication"
)

// SequenceToken is a FindToken over the index's monotonic sequence log: a
// bookmark meaning "I have seen everything up to and including sequence N".
type SequenceToken struct {
	Seq uint64
}

// Bytes implements replication.FindToken.
func (t SequenceToken) Bytes() []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, t.Seq)
	return b
}

// Equal implements replication.FindToken.
func (t SequenceToken) Equal(other replication.FindToken) bool {
	o, ok := other.(SequenceToken)
	return ok && o.Seq == t.Seq
}

// String implements replication.FindToken.
func (t SequenceToken) String() string {
	return fmt.Sprintf("seq:%d", t.Seq)
}

// SequenceTokenFactory decodes/produces SequenceToken values.
type SequenceTokenFactory struct{}

// Decode implements replication.TokenFactory.
func (SequenceTokenFactory) Decode(b []byte) (replication.FindToken, error) {
	if len(b) == 0 {
		return SequenceToken{}, nil
	}
	if len(b) != 8 {
		return nil, fmt.Errorf("store: invalid sequence token length %d", len(b))
	}
	return SequenceToken{Seq: binary.BigEndian.Uint64(b)}, nil
}

// ZeroToken implements replication.TokenFactory.
func (SequenceTokenFactory) ZeroToken() replication.FindToken { return SequenceToken{} }

var _ replication.FindToken = SequenceToken{}
var _ replication.TokenFactory = SequenceTokenFactory{}
