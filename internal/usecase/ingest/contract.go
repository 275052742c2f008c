package ingest

import (
	"context"

	"github.com/kailas-cloud/issuepilot/internal/corpus"
	"github.com/kailas-cloud/issuepilot/internal/domain"
)

// Loader normalizes raw issue records into documents, reporting rejects.
type Loader interface {
	Load(raw []corpus.RawIssue) ([]domain.Document, []corpus.Rejection)
}

// Chunker splits a document into overlapping chunks.
type Chunker interface {
	Split(doc domain.Document) []domain.Chunk
}

// Embedder vectorizes text into embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Indexer swaps a document's chunk entries, replacing any previous version.
type Indexer interface {
	ReplaceDocument(ctx context.Context, documentID string, entries []domain.IndexEntry) error
}
