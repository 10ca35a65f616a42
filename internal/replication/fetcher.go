package replication

import (
	"context"
	"fmt"
)

// Fetcher issues a batched blob-fetch request for the keys results still
// report missing, consolidated per partition.
type Fetcher struct {
	correlation *CorrelationIDGenerator
	clientID    string
}

// NewFetcher builds a Fetcher.
func NewFetcher(correlation *CorrelationIDGenerator, clientID string) *Fetcher {
	return &Fetcher{correlation: correlation, clientID: clientID}
}

// Fetch builds and sends one get request for every slot in results that
// carries NoError and a non-empty missing set. If there is nothing left to
// fetch, it returns an empty response without a network round-trip.
func (f *Fetcher) Fetch(ctx context.Context, conn Connection, results []ExchangeMetadataResult, batch *PeerBatch) (GetResponse, error) {
	req := GetRequest{
		CorrelationID:  f.correlation.Next(),
		ClientID:       f.clientID,
		IncludeDeletes: true,
	}

	for i, res := range results {
		if res.IsError() || len(res.MissingKeys) == 0 {
			continue
		}
		entry := batch.Entries[i]
		keys := make([]BlobKey, 0, len(res.MissingKeys))
		for k := range res.MissingKeys {
			keys = append(keys, k)
		}
		req.Partitions = append(req.Partitions, GetPartitionRequest{Partition: entry.Partition, Keys: keys})
	}

	if len(req.Partitions) == 0 {
		return GetResponse{}, nil
	}

	resp, err := conn.Fetch(ctx, req)
	if err != nil {
		return GetResponse{}, &ReplicationError{Phase: PhaseFetch, Peer: batch.RemoteNode, Err: err}
	}
	if resp.Err != NoError {
		return GetResponse{}, &ReplicationError{Phase: PhaseFetch, Peer: batch.RemoteNode, Err: fmt.Errorf("%w: server error %s", ErrResponseShapeMismatch, resp.Err)}
	}

	return resp, nil
}
