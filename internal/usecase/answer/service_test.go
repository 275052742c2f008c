package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/issuepilot/internal/domain"
)

// --- Mocks ---

type mockEmbedder struct {
	vector   []float32
	err      error
	lastText string
	calls    int
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls++
	m.lastText = text
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vector, TotalTokens: 5}, nil
}

type mockSearcher struct {
	hits        domain.RetrievalResult
	err         error
	lastVector  []float32
	lastK       int
	lastFilters domain.Filters
}

func (m *mockSearcher) Search(_ context.Context, vector []float32, k int, filters domain.Filters) (domain.RetrievalResult, error) {
	m.lastVector = vector
	m.lastK = k
	m.lastFilters = filters
	if m.err != nil {
		return nil, m.err
	}
	return m.hits, nil
}

type mockGenerator struct {
	text       string
	err        error
	calls      int
	lastSystem string
	lastPrompt string
}

func (m *mockGenerator) Generate(_ context.Context, system, prompt string) (domain.GenerationResult, error) {
	m.calls++
	m.lastSystem = system
	m.lastPrompt = prompt
	if m.err != nil {
		return domain.GenerationResult{}, m.err
	}
	return domain.GenerationResult{Text: m.text, TotalTokens: 42}, nil
}

// --- Helpers ---

func mkHit(t *testing.T, docID string, ordinal int, text string, score float64) domain.ScoredEntry {
	t.Helper()
	ch, err := domain.NewChunk(docID, text, ordinal)
	if err != nil {
		t.Fatalf("make chunk: %v", err)
	}
	entry, err := domain.NewIndexEntry(ch, []float32{1, 0}, domain.Metadata{State: domain.IssueOpen})
	if err != nil {
		t.Fatalf("make entry: %v", err)
	}
	return domain.ScoredEntry{Entry: entry, Score: score}
}

func newTestService(embed *mockEmbedder, search *mockSearcher, gen *mockGenerator) *Service {
	return New(embed, search, gen, zap.NewNop())
}

// --- Tests ---

func TestAnswer_GroundedResponse(t *testing.T) {
	embed := &mockEmbedder{vector: []float32{0.1, 0.9}}
	search := &mockSearcher{hits: domain.RetrievalResult{
		mkHit(t, "1", 0, "Login fails on Safari after the update.", 0.95),
		mkHit(t, "3", 0, "Safari login button is unresponsive.", 0.90),
		mkHit(t, "1", 1, "Clearing cookies does not help.", 0.85),
	}}
	gen := &mockGenerator{text: "Safari login is broken, see issues 1 and 3."}

	svc := newTestService(embed, search, gen)
	ans, err := svc.Answer(context.Background(), "safari login issue", 3, domain.Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ans.Text != gen.text {
		t.Errorf("expected generator text, got %q", ans.Text)
	}
	if len(ans.CitedDocumentIDs) != 2 || ans.CitedDocumentIDs[0] != "1" || ans.CitedDocumentIDs[1] != "3" {
		t.Errorf("expected citations [1 3], got %v", ans.CitedDocumentIDs)
	}

	if embed.lastText != "safari login issue" {
		t.Errorf("embedder got %q", embed.lastText)
	}
	if search.lastK != 3 {
		t.Errorf("expected k=3, got %d", search.lastK)
	}
	if len(search.lastVector) != 2 || search.lastVector[1] != 0.9 {
		t.Errorf("searcher must receive the question embedding, got %v", search.lastVector)
	}

	if gen.lastSystem == "" {
		t.Error("expected a system instruction")
	}
	for _, want := range []string{"[Issue 1]", "[Issue 3]", "Login fails on Safari", "Question: safari login issue"} {
		if !strings.Contains(gen.lastPrompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, gen.lastPrompt)
		}
	}
}

func TestAnswer_EmptyRetrievalSkipsGenerator(t *testing.T) {
	embed := &mockEmbedder{vector: []float32{1, 0}}
	search := &mockSearcher{}
	gen := &mockGenerator{text: "should never appear"}

	svc := newTestService(embed, search, gen)
	ans, err := svc.Answer(context.Background(), "anything at all", 3, domain.Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ans.Text != NoMatchAnswer {
		t.Errorf("expected the no-match answer, got %q", ans.Text)
	}
	if len(ans.CitedDocumentIDs) != 0 {
		t.Errorf("expected no citations, got %v", ans.CitedDocumentIDs)
	}
	if gen.calls != 0 {
		t.Errorf("generator must not be called on empty retrieval, got %d calls", gen.calls)
	}
}

func TestAnswer_ContextBudgetDropsLowestScoring(t *testing.T) {
	small := strings.Repeat("a", 40)  // 10 tokens
	large := strings.Repeat("b", 400) // 100 tokens

	embed := &mockEmbedder{vector: []float32{1, 0}}
	search := &mockSearcher{hits: domain.RetrievalResult{
		mkHit(t, "1", 0, small, 0.9),
		mkHit(t, "2", 0, large, 0.8),
		mkHit(t, "3", 0, small, 0.7),
	}}
	gen := &mockGenerator{text: "answer"}

	svc := newTestService(embed, search, gen).WithMaxContextTokens(30)
	ans, err := svc.Answer(context.Background(), "question text", 3, domain.Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only the top hit fits; the oversized second chunk stops selection so
	// the third never displaces it.
	if len(ans.CitedDocumentIDs) != 1 || ans.CitedDocumentIDs[0] != "1" {
		t.Errorf("expected citations [1], got %v", ans.CitedDocumentIDs)
	}
	if strings.Contains(gen.lastPrompt, large) {
		t.Error("oversized chunk leaked into the prompt")
	}
	if strings.Contains(gen.lastPrompt, "[Issue 3]") {
		t.Error("lower-scoring chunk displaced a higher-scoring one")
	}
}

func TestAnswer_BestHitAlwaysIncluded(t *testing.T) {
	large := strings.Repeat("x", 400) // 100 tokens, over any small budget

	embed := &mockEmbedder{vector: []float32{1, 0}}
	search := &mockSearcher{hits: domain.RetrievalResult{
		mkHit(t, "7", 0, large, 0.9),
	}}
	gen := &mockGenerator{text: "answer"}

	svc := newTestService(embed, search, gen).WithMaxContextTokens(1)
	ans, err := svc.Answer(context.Background(), "question text", 1, domain.Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gen.calls != 1 {
		t.Fatal("generator must be called when retrieval produced a hit")
	}
	if len(ans.CitedDocumentIDs) != 1 || ans.CitedDocumentIDs[0] != "7" {
		t.Errorf("expected citations [7], got %v", ans.CitedDocumentIDs)
	}
}

func TestAnswer_EmbedderError(t *testing.T) {
	embed := &mockEmbedder{err: fmt.Errorf("down: %w", domain.ErrEmbeddingProviderError)}
	svc := newTestService(embed, &mockSearcher{}, &mockGenerator{})

	_, err := svc.Answer(context.Background(), "question", 3, domain.Filters{})
	if !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected ErrEmbeddingProviderError, got %v", err)
	}
}

func TestAnswer_SearchError(t *testing.T) {
	embed := &mockEmbedder{vector: []float32{1, 0}}
	search := &mockSearcher{err: fmt.Errorf("redis: %w", domain.ErrIndexUnavailable)}
	svc := newTestService(embed, search, &mockGenerator{})

	_, err := svc.Answer(context.Background(), "question", 3, domain.Filters{})
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestAnswer_GeneratorError(t *testing.T) {
	embed := &mockEmbedder{vector: []float32{1, 0}}
	search := &mockSearcher{hits: domain.RetrievalResult{
		mkHit(t, "1", 0, "some context", 0.9),
	}}
	gen := &mockGenerator{err: fmt.Errorf("llm down: %w", domain.ErrGenerationProviderError)}

	svc := newTestService(embed, search, gen)
	ans, err := svc.Answer(context.Background(), "question", 3, domain.Filters{})
	if !errors.Is(err, domain.ErrGenerationProviderError) {
		t.Fatalf("expected ErrGenerationProviderError, got %v", err)
	}
	if ans.Text != "" || len(ans.CitedDocumentIDs) != 0 {
		t.Errorf("failed generation must not produce a partial answer: %+v", ans)
	}
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	embed := &mockEmbedder{vector: []float32{1, 0}}
	svc := newTestService(embed, &mockSearcher{}, &mockGenerator{})

	for _, q := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Answer(context.Background(), q, 3, domain.Filters{}); err == nil {
			t.Errorf("expected error for question %q", q)
		}
	}
	if embed.calls != 0 {
		t.Errorf("embedder must not run for empty questions, got %d calls", embed.calls)
	}
}

func TestAnswer_DefaultK(t *testing.T) {
	embed := &mockEmbedder{vector: []float32{1, 0}}
	search := &mockSearcher{}
	svc := newTestService(embed, search, &mockGenerator{})

	if _, err := svc.Answer(context.Background(), "question", 0, domain.Filters{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if search.lastK != domain.DefaultTopK {
		t.Errorf("expected default k=%d, got %d", domain.DefaultTopK, search.lastK)
	}
}

func TestAnswer_FiltersPassThrough(t *testing.T) {
	embed := &mockEmbedder{vector: []float32{1, 0}}
	search := &mockSearcher{}
	svc := newTestService(embed, search, &mockGenerator{})

	filters := domain.Filters{State: domain.IssueOpen, Labels: []string{"bug"}}
	if _, err := svc.Answer(context.Background(), "question", 3, filters); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if search.lastFilters.State != domain.IssueOpen || len(search.lastFilters.Labels) != 1 {
		t.Errorf("filters not forwarded: %+v", search.lastFilters)
	}
}
