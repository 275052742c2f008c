// Package answer turns a question into a grounded response: embed the
// question, retrieve the closest chunks, assemble a token-bounded context,
// generate. The generator only ever sees text retrieved from the index;
// zero retrieval short-circuits to a fixed reply instead of letting the
// model guess.
package answer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/issuepilot/internal/domain"
)

// DefaultMaxContextTokens bounds the retrieved context handed to the generator.
const DefaultMaxContextTokens = 2048

// NoMatchAnswer is returned when retrieval finds nothing relevant. The
// generator is not consulted in that case.
const NoMatchAnswer = "No relevant issues were found for this question. " +
	"Try rephrasing it or re-ingesting the issue corpus."

// systemInstruction pins the generator to the retrieved excerpts.
const systemInstruction = "You are an assistant answering questions about a " +
	"GitHub repository's issues. Answer using only the provided issue " +
	"excerpts and reference issues by their id when relevant. If the " +
	"excerpts do not contain the answer, say so plainly."

// Service is the query orchestrator. Stateless between requests.
type Service struct {
	embed    Embedder
	search   Searcher
	generate Generator
	logger   *zap.Logger

	maxContextTokens int
}

// New creates a query orchestrator with the default context budget.
func New(embed Embedder, search Searcher, generate Generator, logger *zap.Logger) *Service {
	return &Service{
		embed:            embed,
		search:           search,
		generate:         generate,
		logger:           logger,
		maxContextTokens: DefaultMaxContextTokens,
	}
}

// WithMaxContextTokens configures the retrieved-context token budget.
func (s *Service) WithMaxContextTokens(n int) *Service {
	if n > 0 {
		s.maxContextTokens = n
	}
	return s
}

// Answer retrieves context for the question and generates a grounded
// response. CitedDocumentIDs lists only documents whose chunks made it into
// the generation context.
func (s *Service) Answer(ctx context.Context, question string, k int, filters domain.Filters) (domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Answer{}, fmt.Errorf("question is empty")
	}
	if k <= 0 {
		k = domain.DefaultTopK
	}

	emb, err := s.embed.Embed(ctx, question)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("embed question: %w", err)
	}

	hits, err := s.search.Search(ctx, emb.Embedding, k, filters)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("retrieve context: %w", err)
	}
	if len(hits) == 0 {
		s.logger.Info("No index entries matched the question")
		return domain.Answer{Text: NoMatchAnswer}, nil
	}

	included := s.fitContext(hits)
	prompt := buildPrompt(question, included)

	res, err := s.generate.Generate(ctx, systemInstruction, prompt)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	cited := citedDocuments(included)
	s.logger.Debug("Answer generated",
		zap.Int("hits", len(hits)),
		zap.Int("context_chunks", len(included)),
		zap.Strings("cited", cited),
		zap.Int("total_tokens", res.TotalTokens))

	return domain.Answer{Text: res.Text, CitedDocumentIDs: cited}, nil
}

// fitContext selects hits for the generation context, best first, until the
// token budget runs out. A chunk goes in whole or not at all, and selection
// stops at the first chunk that does not fit so a lower-scoring chunk never
// displaces a higher-scoring one. The best hit always goes in: an oversized
// top chunk beats an empty context.
func (s *Service) fitContext(hits domain.RetrievalResult) []domain.ScoredEntry {
	budget := s.maxContextTokens
	included := make([]domain.ScoredEntry, 0, len(hits))

	for i, h := range hits {
		cost := domain.EstimateTokens(h.Entry.Text())
		if i > 0 && cost > budget {
			break
		}
		included = append(included, h)
		budget -= cost
	}
	return included
}

// buildPrompt labels each excerpt with its source issue id so the model can
// reference issues in its answer.
func buildPrompt(question string, included []domain.ScoredEntry) string {
	var b strings.Builder
	b.WriteString("Context from the issue tracker:\n\n")
	for _, h := range included {
		fmt.Fprintf(&b, "[Issue %s] %s\n\n", h.Entry.DocumentID(), h.Entry.Text())
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

// citedDocuments deduplicates source document ids in first-appearance order.
func citedDocuments(included []domain.ScoredEntry) []string {
	seen := make(map[string]struct{}, len(included))
	ids := make([]string, 0, len(included))
	for _, h := range included {
		id := h.Entry.DocumentID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
