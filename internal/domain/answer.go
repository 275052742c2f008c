package domain

import "context"

// Answer is the generated response to a query, grounded in retrieved chunks.
// CitedDocumentIDs lists the source documents whose chunks made it into the
// generation context, deduplicated, in order of first appearance by score.
type Answer struct {
	Text             string
	CitedDocumentIDs []string
}

// Generator is the answer generation contract.
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
