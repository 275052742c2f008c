package domain

import (
	"fmt"
	"strconv"
)

// Chunk is one embeddable piece of a document (immutable value object).
// Chunk IDs are derived, not generated: "<documentID>:<ordinal>".
type Chunk struct {
	id          string
	documentID  string
	text        string
	ordinal     int
	tokenLength int
}

// NewChunk validates and creates a Chunk. Ordinals start at zero and follow
// the chunk's position in the source document.
func NewChunk(documentID, text string, ordinal int) (Chunk, error) {
	if documentID == "" {
		return Chunk{}, fmt.Errorf("chunk document ID is required")
	}
	if text == "" {
		return Chunk{}, fmt.Errorf("chunk text is empty")
	}
	if ordinal < 0 {
		return Chunk{}, fmt.Errorf("chunk ordinal must be non-negative, got %d", ordinal)
	}

	return Chunk{
		id:          ChunkID(documentID, ordinal),
		documentID:  documentID,
		text:        text,
		ordinal:     ordinal,
		tokenLength: EstimateTokens(text),
	}, nil
}

// ChunkID composes the stable chunk identifier for a document position.
func ChunkID(documentID string, ordinal int) string {
	return documentID + ":" + strconv.Itoa(ordinal)
}

// ID returns the chunk identifier.
func (c Chunk) ID() string { return c.id }

// DocumentID returns the source document identifier.
func (c Chunk) DocumentID() string { return c.documentID }

// Text returns the chunk text.
func (c Chunk) Text() string { return c.text }

// Ordinal returns the chunk position within the source document.
func (c Chunk) Ordinal() int { return c.ordinal }

// TokenLength returns the estimated token count of the chunk text.
func (c Chunk) TokenLength() int { return c.tokenLength }

// EstimateTokens approximates the token count of text as bytes/4, rounded up.
// Good enough for context budgeting; exact tokenization is provider-specific.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
