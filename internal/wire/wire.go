// Package wire implements the JSON-encoded request/response framing for the
// metadata-exchange and get protocols, translating between
// internal/replication's core types and the bytes sent over HTTP.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/maxiofs/blobreplicator/internal/replication"
)

// MessageInfoDTO is the wire shape of replication.MessageInfo.
type MessageInfoDTO struct {
	KeyID     string `json:"key_id"`
	Partition string `json:"partition"`
	Size      int64  `json:"size"`
	IsDeleted bool   `json:"is_deleted"`
	IsExpired bool   `json:"is_expired"`
}

func toMessageInfoDTO(m replication.MessageInfo) MessageInfoDTO {
	return MessageInfoDTO{KeyID: m.Key.ID, Partition: m.Key.Partition, Size: m.Size, IsDeleted: m.IsDeleted, IsExpired: m.IsExpired}
}

func fromMessageInfoDTO(d MessageInfoDTO) replication.MessageInfo {
	return replication.MessageInfo{
		Key:       replication.BlobKey{ID: d.KeyID, Partition: d.Partition},
		Size:      d.Size,
		IsDeleted: d.IsDeleted,
		IsExpired: d.IsExpired,
	}
}

// MetadataRequestEntryDTO is the wire shape of one metadata request entry.
type MetadataRequestEntryDTO struct {
	Partition            string `json:"partition"`
	Token                []byte `json:"token"`
	RequesterHost        string `json:"requester_host"`
	RequesterReplicaPath string `json:"requester_replica_path"`
}

// MetadataRequestDTO is the wire shape of replication.MetadataRequest.
type MetadataRequestDTO struct {
	CorrelationID  uint64                    `json:"correlation_id"`
	ClientID       string                    `json:"client_id"`
	Entries        []MetadataRequestEntryDTO `json:"entries"`
	FetchSizeBytes int64                     `json:"fetch_size_bytes"`
}

// EncodeMetadataRequest converts a core MetadataRequest into its wire form.
func EncodeMetadataRequest(req replication.MetadataRequest) ([]byte, error) {
	dto := MetadataRequestDTO{CorrelationID: req.CorrelationID, ClientID: req.ClientID, FetchSizeBytes: req.FetchSizeBytes}
	for _, e := range req.Entries {
		dto.Entries = append(dto.Entries, MetadataRequestEntryDTO{
			Partition:            e.Partition,
			Token:                e.Token.Bytes(),
			RequesterHost:        e.RequesterHost,
			RequesterReplicaPath: e.RequesterReplicaPath,
		})
	}
	data, err := json.Marshal(dto)
	if err != nil {
		return nil, fmt.Errorf("wire: encode metadata request: %w", err)
	}
	return data, nil
}

// DecodeMetadataRequest parses data, raised via the injected factory so
// tokens come back as replication.FindToken values.
func DecodeMetadataRequest(data []byte, tokens replication.TokenFactory) (replication.MetadataRequest, error) {
	var dto MetadataRequestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return replication.MetadataRequest{}, fmt.Errorf("wire: decode metadata request: %w", err)
	}
	req := replication.MetadataRequest{CorrelationID: dto.CorrelationID, ClientID: dto.ClientID, FetchSizeBytes: dto.FetchSizeBytes}
	for _, e := range dto.Entries {
		tok, err := tokens.Decode(e.Token)
		if err != nil {
			return replication.MetadataRequest{}, fmt.Errorf("wire: decode token: %w", err)
		}
		req.Entries = append(req.Entries, replication.MetadataRequestEntry{
			Partition:            e.Partition,
			Token:                tok,
			RequesterHost:        e.RequesterHost,
			RequesterReplicaPath: e.RequesterReplicaPath,
		})
	}
	return req, nil
}

// PerReplicaMetadataResponseDTO is the wire shape of one metadata response
// slot.
type PerReplicaMetadataResponseDTO struct {
	Err                   int              `json:"err"`
	Messages              []MessageInfoDTO `json:"messages"`
	NewToken              []byte           `json:"new_token"`
	RemoteReplicaLagBytes int64            `json:"remote_replica_lag_bytes"`
}

// MetadataResponseDTO is the wire shape of replication.MetadataResponse.
type MetadataResponseDTO struct {
	Err     int                              `json:"err"`
	Entries []PerReplicaMetadataResponseDTO `json:"entries"`
}

// EncodeMetadataResponse converts a core MetadataResponse into its wire form.
func EncodeMetadataResponse(resp replication.MetadataResponse) ([]byte, error) {
	dto := MetadataResponseDTO{Err: int(resp.Err)}
	for _, e := range resp.Entries {
		d := PerReplicaMetadataResponseDTO{Err: int(e.Err), RemoteReplicaLagBytes: e.RemoteReplicaLagBytes}
		if e.NewToken != nil {
			d.NewToken = e.NewToken.Bytes()
		}
		for _, m := range e.Messages {
			d.Messages = append(d.Messages, toMessageInfoDTO(m))
		}
		dto.Entries = append(dto.Entries, d)
	}
	data, err := json.Marshal(dto)
	if err != nil {
		return nil, fmt.Errorf("wire: encode metadata response: %w", err)
	}
	return data, nil
}

// DecodeMetadataResponse parses data into a core MetadataResponse.
func DecodeMetadataResponse(data []byte, tokens replication.TokenFactory) (replication.MetadataResponse, error) {
	var dto MetadataResponseDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return replication.MetadataResponse{}, fmt.Errorf("wire: decode metadata response: %w", err)
	}
	resp := replication.MetadataResponse{Err: replication.ServerErrorCode(dto.Err)}
	for _, d := range dto.Entries {
		entry := replication.PerReplicaMetadataResponse{Err: replication.ServerErrorCode(d.Err), RemoteReplicaLagBytes: d.RemoteReplicaLagBytes}
		if len(d.NewToken) > 0 {
			tok, err := tokens.Decode(d.NewToken)
			if err != nil {
				return replication.MetadataResponse{}, fmt.Errorf("wire: decode new token: %w", err)
			}
			entry.NewToken = tok
		}
		for _, m := range d.Messages {
			entry.Messages = append(entry.Messages, fromMessageInfoDTO(m))
		}
		resp.Entries = append(resp.Entries, entry)
	}
	return resp, nil
}

// GetPartitionRequestDTO is the wire shape of one get-request partition.
type GetPartitionRequestDTO struct {
	Partition string   `json:"partition"`
	KeyIDs    []string `json:"key_ids"`
}

// GetRequestDTO is the wire shape of replication.GetRequest.
type GetRequestDTO struct {
	CorrelationID  uint64                   `json:"correlation_id"`
	ClientID       string                   `json:"client_id"`
	IncludeDeletes bool                     `json:"include_deletes"`
	Partitions     []GetPartitionRequestDTO `json:"partitions"`
}

// EncodeGetRequest converts a core GetRequest into its wire form.
func EncodeGetRequest(req replication.GetRequest) ([]byte, error) {
	dto := GetRequestDTO{CorrelationID: req.CorrelationID, ClientID: req.ClientID, IncludeDeletes: req.IncludeDeletes}
	for _, p := range req.Partitions {
		ids := make([]string, len(p.Keys))
		for i, k := range p.Keys {
			ids[i] = k.ID
		}
		dto.Partitions = append(dto.Partitions, GetPartitionRequestDTO{Partition: p.Partition, KeyIDs: ids})
	}
	data, err := json.Marshal(dto)
	if err != nil {
		return nil, fmt.Errorf("wire: encode get request: %w", err)
	}
	return data, nil
}

// DecodeGetRequest parses data into a core GetRequest.
func DecodeGetRequest(data []byte) (replication.GetRequest, error) {
	var dto GetRequestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return replication.GetRequest{}, fmt.Errorf("wire: decode get request: %w", err)
	}
	req := replication.GetRequest{CorrelationID: dto.CorrelationID, ClientID: dto.ClientID, IncludeDeletes: dto.IncludeDeletes}
	for _, p := range dto.Partitions {
		keys := make([]replication.BlobKey, len(p.KeyIDs))
		for i, id := range p.KeyIDs {
			keys[i] = replication.BlobKey{ID: id, Partition: p.Partition}
		}
		req.Partitions = append(req.Partitions, replication.GetPartitionRequest{Partition: p.Partition, Keys: keys})
	}
	return req, nil
}

// PartitionPayloadDTO is the wire shape of one get-response partition
// payload: headers plus its message bodies concatenated back to back, in
// Messages order, each exactly Size bytes long.
type PartitionPayloadDTO struct {
	Partition string           `json:"partition"`
	Err       int              `json:"err"`
	Messages  []MessageInfoDTO `json:"messages"`
	Body      []byte           `json:"body"`
}

// GetResponseDTO is the wire shape of replication.GetResponse.
type GetResponseDTO struct {
	Err      int                   `json:"err"`
	Payloads []PartitionPayloadDTO `json:"payloads"`
}

// EncodeGetResponse serializes resp as a single JSON document, taking each
// payload's body bytes from bodies, keyed by partition; the payloads' own
// Body readers are not read. The whole response is held in memory, not
// streamed.
func EncodeGetResponse(resp replication.GetResponse, bodies map[string][]byte) ([]byte, error) {
	dto := GetResponseDTO{Err: int(resp.Err)}
	for _, p := range resp.Payloads {
		d := PartitionPayloadDTO{Partition: p.Partition, Err: int(p.Err), Body: bodies[p.Partition]}
		for _, m := range p.Messages {
			d.Messages = append(d.Messages, toMessageInfoDTO(m))
		}
		dto.Payloads = append(dto.Payloads, d)
	}
	data, err := json.Marshal(dto)
	if err != nil {
		return nil, fmt.Errorf("wire: encode get response: %w", err)
	}
	return data, nil
}

// DecodeGetResponse parses data into a core GetResponse whose payload bodies
// are in-memory readers over the decoded bytes.
func DecodeGetResponse(data []byte) (replication.GetResponse, error) {
	var dto GetResponseDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return replication.GetResponse{}, fmt.Errorf("wire: decode get response: %w", err)
	}
	resp := replication.GetResponse{Err: replication.ServerErrorCode(dto.Err)}
	for _, d := range dto.Payloads {
		payload := replication.PartitionPayload{Partition: d.Partition, Err: replication.ServerErrorCode(d.Err), Body: bytes.NewReader(d.Body)}
		for _, m := range d.Messages {
			payload.Messages = append(payload.Messages, fromMessageInfoDTO(m))
		}
		resp.Payloads = append(resp.Payloads, payload)
	}
	return resp, nil
}
