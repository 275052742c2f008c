package domain

import (
	"fmt"
	"time"
)

// Metadata holds the filterable attributes stored alongside each index entry.
type Metadata struct {
	Labels    []string
	State     IssueState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IndexEntry is one indexed chunk: its vector, original text and provenance
// (immutable value object).
type IndexEntry struct {
	chunkID    string
	documentID string
	text       string
	vector     []float32
	meta       Metadata
}

// NewIndexEntry validates and creates an IndexEntry from a chunk and its vector.
func NewIndexEntry(chunk Chunk, vector []float32, meta Metadata) (IndexEntry, error) {
	if chunk.ID() == "" {
		return IndexEntry{}, fmt.Errorf("index entry requires a chunk ID")
	}
	if len(vector) == 0 {
		return IndexEntry{}, fmt.Errorf("index entry %s has an empty vector", chunk.ID())
	}

	return IndexEntry{
		chunkID:    chunk.ID(),
		documentID: chunk.DocumentID(),
		text:       chunk.Text(),
		vector:     vector,
		meta:       meta,
	}, nil
}

// ReconstructIndexEntry creates an IndexEntry without validation (storage hydration).
func ReconstructIndexEntry(chunkID, documentID, text string, vector []float32, meta Metadata) IndexEntry {
	return IndexEntry{
		chunkID:    chunkID,
		documentID: documentID,
		text:       text,
		vector:     vector,
		meta:       meta,
	}
}

// ChunkID returns the entry identifier.
func (e IndexEntry) ChunkID() string { return e.chunkID }

// DocumentID returns the source document identifier.
func (e IndexEntry) DocumentID() string { return e.documentID }

// Text returns the original chunk text.
func (e IndexEntry) Text() string { return e.text }

// Vector returns the embedding vector. Callers must not mutate it.
func (e IndexEntry) Vector() []float32 { return e.vector }

// Meta returns a copy of the entry metadata.
func (e IndexEntry) Meta() Metadata {
	m := e.meta
	m.Labels = cloneStrings(e.meta.Labels)
	return m
}

// ScoredEntry is one retrieval hit: an entry and its similarity score.
type ScoredEntry struct {
	Entry IndexEntry
	Score float64
}

// RetrievalResult is an ordered list of hits, best first. Ties are broken by
// ascending chunk ID so identical corpora always rank identically.
type RetrievalResult []ScoredEntry
