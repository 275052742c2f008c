package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/kailas-cloud/issuepilot/internal/domain"
)

// Hash field names for persisted index entries.
const (
	fieldChunkID   = "chunk_id"
	fieldDocID     = "doc_id"
	fieldText      = "text"
	fieldVector    = "vector"
	fieldLabels    = "labels"
	fieldState     = "state"
	fieldCreatedAt = "created_at"
	fieldUpdatedAt = "updated_at"
)

// encodeEntry serializes an entry into backend hash fields. The vector is
// stored as raw little-endian float32 bytes, the same codec the embedding
// cache uses.
func encodeEntry(e domain.IndexEntry) (map[string]string, error) {
	meta := e.Meta()

	labels, err := json.Marshal(meta.Labels)
	if err != nil {
		return nil, fmt.Errorf("marshal labels for %s: %w", e.ChunkID(), err)
	}

	fields := map[string]string{
		fieldChunkID: e.ChunkID(),
		fieldDocID:   e.DocumentID(),
		fieldText:    e.Text(),
		fieldVector:  string(vectorToBytes(e.Vector())),
		fieldLabels:  string(labels),
		fieldState:   string(meta.State),
	}
	if !meta.CreatedAt.IsZero() {
		fields[fieldCreatedAt] = meta.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !meta.UpdatedAt.IsZero() {
		fields[fieldUpdatedAt] = meta.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}

	return fields, nil
}

// decodeEntry rebuilds an entry from backend hash fields.
func decodeEntry(fields map[string]string) (domain.IndexEntry, error) {
	chunkID := fields[fieldChunkID]
	if chunkID == "" {
		return domain.IndexEntry{}, fmt.Errorf("record has no chunk_id")
	}
	docID := fields[fieldDocID]
	if docID == "" {
		return domain.IndexEntry{}, fmt.Errorf("record %s has no doc_id", chunkID)
	}

	vector, err := bytesToVector([]byte(fields[fieldVector]))
	if err != nil {
		return domain.IndexEntry{}, fmt.Errorf("record %s: %w", chunkID, err)
	}
	if len(vector) == 0 {
		return domain.IndexEntry{}, fmt.Errorf("record %s has an empty vector", chunkID)
	}

	var labels []string
	if raw := fields[fieldLabels]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &labels); err != nil {
			return domain.IndexEntry{}, fmt.Errorf("record %s labels: %w", chunkID, err)
		}
	}

	state, err := domain.ParseIssueState(fields[fieldState])
	if err != nil {
		return domain.IndexEntry{}, fmt.Errorf("record %s: %w", chunkID, err)
	}

	meta := domain.Metadata{
		Labels: labels,
		State:  state,
	}
	if raw := fields[fieldCreatedAt]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.IndexEntry{}, fmt.Errorf("record %s created_at: %w", chunkID, err)
		}
		meta.CreatedAt = t
	}
	if raw := fields[fieldUpdatedAt]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.IndexEntry{}, fmt.Errorf("record %s updated_at: %w", chunkID, err)
		}
		meta.UpdatedAt = t
	}

	return domain.ReconstructIndexEntry(chunkID, docID, fields[fieldText], vector, meta), nil
}

func vectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
