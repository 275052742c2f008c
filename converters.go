package issuepilot

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/issuepilot/internal/corpus"
	"github.com/kailas-cloud/issuepilot/internal/domain"
	ingestuc "github.com/kailas-cloud/issuepilot/internal/usecase/ingest"
)

func toRawIssues(issues []Issue) []corpus.RawIssue {
	raw := make([]corpus.RawIssue, len(issues))
	for i, is := range issues {
		raw[i] = corpus.RawIssue{
			ID:        corpus.FlexID(is.ID),
			Number:    is.Number,
			Title:     is.Title,
			Body:      is.Body,
			Labels:    corpus.LabelList(is.Labels),
			State:     is.State,
			CreatedAt: is.CreatedAt,
			UpdatedAt: is.UpdatedAt,
		}
	}
	return raw
}

func fromIngestReport(r ingestuc.Report) IngestReport {
	out := IngestReport{
		RunID:     r.RunID,
		Documents: r.Documents,
		Chunks:    r.Chunks,
		Failed:    r.Failed,
		Duration:  r.Duration,
	}
	for _, res := range r.Results {
		if res.Err() != nil {
			out.Failures = append(out.Failures, IngestFailure{
				IssueID: res.DocumentID(),
				Err:     res.Err(),
			})
		}
	}
	return out
}

func fromRetrieval(hits domain.RetrievalResult) []Match {
	out := make([]Match, len(hits))
	for i, h := range hits {
		meta := h.Entry.Meta()
		out[i] = Match{
			IssueID: h.Entry.DocumentID(),
			ChunkID: h.Entry.ChunkID(),
			Score:   h.Score,
			Text:    h.Entry.Text(),
			Labels:  meta.Labels,
			State:   string(meta.State),
		}
	}
	return out
}

// adaptEmbedder wraps a public Embedder into domain.Embedder, preserving
// native batch support when the provider has it.
func adaptEmbedder(e Embedder) domain.Embedder {
	if be, ok := e.(BatchEmbedder); ok {
		return &batchEmbedderAdapter{
			embedderAdapter: embedderAdapter{inner: e},
			batch:           be,
		}
	}
	return &embedderAdapter{inner: e}
}

type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

type batchEmbedderAdapter struct {
	embedderAdapter
	batch BatchEmbedder
}

func (a *batchEmbedderAdapter) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	r, err := a.batch.BatchEmbed(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
	}
	return domain.BatchEmbeddingResult{
		Embeddings:   r.Embeddings,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// generatorAdapter wraps a public Generator to satisfy the answer service contract.
type generatorAdapter struct {
	inner Generator
}

func (a *generatorAdapter) Generate(ctx context.Context, system, prompt string) (domain.GenerationResult, error) {
	r, err := a.inner.Generate(ctx, system, prompt)
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("generate: %w", err)
	}
	return domain.GenerationResult{
		Text:             r.Text,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
	}, nil
}

// noopEmbedder returns an error on Embed call (used when no embedder configured).
type noopEmbedder struct{}

func (noopEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{}, errors.New(
		"issuepilot: embedder not configured (use WithEmbedder or WithOpenAIEmbedder)",
	)
}

// noopGenerator returns an error on Generate call (used when no generator configured).
type noopGenerator struct{}

func (noopGenerator) Generate(_ context.Context, _, _ string) (domain.GenerationResult, error) {
	return domain.GenerationResult{}, errors.New(
		"issuepilot: generator not configured (use WithGenerator or WithOpenAIGenerator)",
	)
}
