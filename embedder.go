package issuepilot

import "context"

// Embedder converts text to vector embeddings. All texts indexed together
// must come from the same model with the same vector width.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single API call.
// Optional: when the provided Embedder also implements BatchEmbedder,
// ingestion uses it and embeds a document's chunks in one call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// EmbeddingResult carries the embedding vector and token counts.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// BatchEmbeddingResult carries multiple embedding vectors, in input order,
// and aggregate token usage.
type BatchEmbeddingResult struct {
	Embeddings   [][]float32
	PromptTokens int
	TotalTokens  int
}

// Generator produces an answer from a system instruction and a grounded prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (GenerationResult, error)
}

// GenerationResult carries the generated text and token usage.
type GenerationResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
