package wire

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxiofs/blobreplicator/internal/replication"
)

type fakeToken struct{ offset int64 }

func (t fakeToken) Bytes() []byte { return []byte(fmt.Sprintf("%d", t.offset)) }
func (t fakeToken) Equal(other replication.FindToken) bool {
	o, ok := other.(fakeToken)
	return ok && o.offset == t.offset
}
func (t fakeToken) String() string { return fmt.Sprintf("%d", t.offset) }

type fakeTokenFactory struct{}

func (fakeTokenFactory) Decode(b []byte) (replication.FindToken, error) {
	var offset int64
	if len(b) > 0 {
		if _, err := fmt.Sscanf(string(b), "%d", &offset); err != nil {
			return nil, err
		}
	}
	return fakeToken{offset: offset}, nil
}
func (fakeTokenFactory) ZeroToken() replication.FindToken { return fakeToken{} }

func TestMetadataRequestRoundTrip(t *testing.T) {
	req := replication.MetadataRequest{
		CorrelationID:  7,
		ClientID:       "worker-1",
		FetchSizeBytes: 1 << 20,
		Entries: []replication.MetadataRequestEntry{
			{Partition: "p1", Token: fakeToken{offset: 42}, RequesterHost: "h1", RequesterReplicaPath: "r1"},
		},
	}

	data, err := EncodeMetadataRequest(req)
	require.NoError(t, err)

	decoded, err := DecodeMetadataRequest(data, fakeTokenFactory{})
	require.NoError(t, err)

	assert.Equal(t, req.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, req.ClientID, decoded.ClientID)
	require.Len(t, decoded.Entries, 1)
	assert.True(t, decoded.Entries[0].Token.Equal(fakeToken{offset: 42}))
}

func TestMetadataResponseRoundTrip(t *testing.T) {
	resp := replication.MetadataResponse{
		Entries: []replication.PerReplicaMetadataResponse{
			{
				Messages: []replication.MessageInfo{
					{Key: replication.BlobKey{ID: "b1", Partition: "p1"}, Size: 10},
				},
				NewToken:              fakeToken{offset: 99},
				RemoteReplicaLagBytes: 100,
			},
		},
	}

	data, err := EncodeMetadataResponse(resp)
	require.NoError(t, err)

	decoded, err := DecodeMetadataResponse(data, fakeTokenFactory{})
	require.NoError(t, err)

	require.Len(t, decoded.Entries, 1)
	assert.True(t, decoded.Entries[0].NewToken.Equal(fakeToken{offset: 99}))
	assert.Equal(t, int64(100), decoded.Entries[0].RemoteReplicaLagBytes)
}

func TestGetRequestResponseRoundTrip(t *testing.T) {
	req := replication.GetRequest{
		CorrelationID: 3,
		ClientID:      "worker-1",
		Partitions: []replication.GetPartitionRequest{
			{Partition: "p1", Keys: []replication.BlobKey{{ID: "b1", Partition: "p1"}}},
		},
	}
	data, err := EncodeGetRequest(req)
	require.NoError(t, err)

	decoded, err := DecodeGetRequest(data)
	require.NoError(t, err)
	require.Len(t, decoded.Partitions, 1)
	assert.Equal(t, "b1", decoded.Partitions[0].Keys[0].ID)

	resp := replication.GetResponse{
		Payloads: []replication.PartitionPayload{
			{
				Partition: "p1",
				Messages:  []replication.MessageInfo{{Key: replication.BlobKey{ID: "b1", Partition: "p1"}, Size: 5}},
				Body:      bytes.NewReader([]byte("hello")),
			},
		},
	}
	body, err := io.ReadAll(resp.Payloads[0].Body)
	require.NoError(t, err)

	respData, err := EncodeGetResponse(resp, map[string][]byte{"p1": body})
	require.NoError(t, err)

	decodedResp, err := DecodeGetResponse(respData)
	require.NoError(t, err)
	require.Len(t, decodedResp.Payloads, 1)

	gotBody, err := io.ReadAll(decodedResp.Payloads[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(gotBody))
}
