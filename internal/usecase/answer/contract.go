package answer

import (
	"context"

	"github.com/kailas-cloud/issuepilot/internal/domain"
)

// Embedder vectorizes the question text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Searcher retrieves the closest index entries for a query vector.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int, filters domain.Filters) (domain.RetrievalResult, error)
}

// Generator produces the final answer text from the grounded prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (domain.GenerationResult, error)
}
