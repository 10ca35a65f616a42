package server

import (
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/maxiofs/blobreplicator/internal/replication"
	"github.com/maxiofs/blobreplicator/internal/store"
	"github.com/maxiofs/blobreplicator/internal/wire"
)

type handler struct {
	store  LocalReplicaStore
	tokens replication.TokenFactory
	log    *logrus.Entry
}

func (h *handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	req, err := wire.DecodeMetadataRequest(data, h.tokens)
	if err != nil {
		h.log.WithError(err).Warn("failed to decode metadata request")
		http.Error(w, "decode request", http.StatusBadRequest)
		return
	}

	resp := replication.MetadataResponse{Err: replication.NoError}
	const defaultFetchSizeBytes = 4 << 20
	fetchSize := req.FetchSizeBytes
	if fetchSize <= 0 {
		fetchSize = defaultFetchSizeBytes
	}

	for _, entry := range req.Entries {
		fromSeq := seqFromToken(entry.Token)
		messages, lastSeq, lagBytes, err := h.store.ScanSince(entry.Partition, fromSeq, fetchSize)
		if err != nil {
			h.log.WithError(err).WithField("partition", entry.Partition).Error("scan since failed")
			resp.Entries = append(resp.Entries, replication.PerReplicaMetadataResponse{Err: replication.Unknown})
			continue
		}
		resp.Entries = append(resp.Entries, replication.PerReplicaMetadataResponse{
			Err:                   replication.NoError,
			Messages:              messages,
			NewToken:              store.SequenceToken{Seq: lastSeq},
			RemoteReplicaLagBytes: lagBytes,
		})
	}

	out, err := wire.EncodeMetadataResponse(resp)
	if err != nil {
		h.log.WithError(err).Error("failed to encode metadata response")
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func (h *handler) handleGet(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	req, err := wire.DecodeGetRequest(data)
	if err != nil {
		h.log.WithError(err).Warn("failed to decode get request")
		http.Error(w, "decode request", http.StatusBadRequest)
		return
	}

	resp := replication.GetResponse{Err: replication.NoError}
	bodies := make(map[string][]byte)

	for _, p := range req.Partitions {
		var messages []replication.MessageInfo
		var bodyBytes []byte
		partitionErr := replication.NoError

		for _, key := range p.Keys {
			deleted, err := h.store.IsKeyDeleted(r.Context(), key)
			if err != nil {
				h.log.WithError(err).WithField("key", key).Error("check deleted failed")
				partitionErr = replication.Unknown
				break
			}
			if deleted {
				messages = append(messages, replication.MessageInfo{Key: key, IsDeleted: true})
				continue
			}

			data, err := h.store.ReadBody(p.Partition, key.ID)
			if err != nil {
				h.log.WithError(err).WithField("key", key).Warn("blob body missing")
				partitionErr = replication.PartitionUnknown
				break
			}
			messages = append(messages, replication.MessageInfo{Key: key, Size: int64(len(data))})
			bodyBytes = append(bodyBytes, data...)
		}

		resp.Payloads = append(resp.Payloads, replication.PartitionPayload{
			Partition: p.Partition,
			Err:       partitionErr,
			Messages:  messages,
		})
		bodies[p.Partition] = bodyBytes
	}

	out, err := wire.EncodeGetResponse(resp, bodies)
	if err != nil {
		h.log.WithError(err).Error("failed to encode get response")
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func seqFromToken(tok replication.FindToken) uint64 {
	if st, ok := tok.(store.SequenceToken); ok {
		return st.Seq
	}
	return 0
}
