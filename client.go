package issuepilot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/issuepilot/internal/chunker"
	"github.com/kailas-cloud/issuepilot/internal/corpus"
	"github.com/kailas-cloud/issuepilot/internal/db"
	dbMemory "github.com/kailas-cloud/issuepilot/internal/db/memory"
	dbRedis "github.com/kailas-cloud/issuepilot/internal/db/redis"
	"github.com/kailas-cloud/issuepilot/internal/domain"
	"github.com/kailas-cloud/issuepilot/internal/index"
	openaiTransport "github.com/kailas-cloud/issuepilot/internal/transport/openai"
	answeruc "github.com/kailas-cloud/issuepilot/internal/usecase/answer"
	healthuc "github.com/kailas-cloud/issuepilot/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/issuepilot/internal/usecase/ingest"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultMaxChunkSize     = 1200
	defaultOverlap          = 120
	defaultModelLabel       = "custom"
)

// Client is the issuepilot SDK entry point.
type Client struct {
	store     db.Store
	idx       *index.Index
	queryEmb  domain.Embedder
	ingestSvc *ingestuc.Service
	answerSvc *answeruc.Service
	healthSvc healthUseCase
}

// New creates an issuepilot Client, connects to the backing store, and loads
// any previously persisted index into memory.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		driver:       "memory",
		keyPrefix:    domain.KeyPrefix,
		maxChunkSize: defaultMaxChunkSize,
		overlap:      defaultOverlap,
		modelLabel:   defaultModelLabel,
	}
	for _, o := range opts {
		o(cfg)
	}

	store, err := createStore(cfg)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("issuepilot: database not ready: %w", err)
	}

	c, err := wireClient(ctx, store, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func createStore(cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "memory":
		return dbMemory.NewStore(), nil
	case "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("issuepilot: create redis store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("issuepilot: unknown driver %q", cfg.driver)
	}
}

func wireClient(ctx context.Context, store db.Store, cfg *clientConfig) (*Client, error) {
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	docEmb, queryEmb, modelLabel := buildEmbedders(cfg, logger)
	gen := buildGenerator(cfg, logger)

	idx := index.New(store, index.Config{
		KeyPrefix: cfg.keyPrefix,
		Model:     modelLabel,
		Dimension: cfg.dimensions,
	}, logger)
	if err := idx.Load(ctx); err != nil {
		return nil, fmt.Errorf("issuepilot: load index: %w", err)
	}

	splitter, err := chunker.New(cfg.maxChunkSize, cfg.overlap)
	if err != nil {
		return nil, fmt.Errorf("issuepilot: chunking: %w", err)
	}

	ingestSvc := ingestuc.New(corpus.NewLoader(), splitter, docEmb, idx, logger)
	if cfg.ingestWorkers > 0 {
		ingestSvc = ingestSvc.WithWorkers(cfg.ingestWorkers)
	}

	answerSvc := answeruc.New(queryEmb, idx, gen, logger)
	if cfg.maxContextTokens > 0 {
		answerSvc = answerSvc.WithMaxContextTokens(cfg.maxContextTokens)
	}

	return &Client{
		store:     store,
		idx:       idx,
		queryEmb:  queryEmb,
		ingestSvc: ingestSvc,
		answerSvc: answerSvc,
		// Provider checks stay nil: Health must not spend API calls.
		healthSvc: healthuc.New(store, nil, nil),
	}, nil
}

// buildEmbedders assembles the document and query embedding chains. They share
// one base embedder and differ only in the instruction prefix.
func buildEmbedders(cfg *clientConfig, logger *zap.Logger) (docEmb, queryEmb domain.Embedder, modelLabel string) {
	var base domain.Embedder
	modelLabel = cfg.modelLabel

	switch {
	case cfg.embeddingAPI != nil:
		api := cfg.embeddingAPI
		base = openaiTransport.NewEmbedder(&openaiTransport.Config{
			APIKey:     api.apiKey,
			BaseURL:    api.baseURL,
			Model:      api.model,
			Dimensions: cfg.dimensions,
			Provider:   "openai",
			Logger:     logger,
		})
		if cfg.modelLabel == defaultModelLabel {
			modelLabel = api.model
		}
	case cfg.embedder != nil:
		base = adaptEmbedder(cfg.embedder)
	default:
		base = noopEmbedder{}
	}

	docEmb, queryEmb = base, base
	if cfg.docInstruction != "" {
		docEmb = domain.NewInstructionEmbedder(base, cfg.docInstruction)
	}
	if cfg.queryInstruction != "" {
		queryEmb = domain.NewInstructionEmbedder(base, cfg.queryInstruction)
	}
	return docEmb, queryEmb, modelLabel
}

func buildGenerator(cfg *clientConfig, logger *zap.Logger) answeruc.Generator {
	switch {
	case cfg.generationAPI != nil:
		api := cfg.generationAPI
		return openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
			APIKey:  api.apiKey,
			BaseURL: api.baseURL,
			Model:   api.model,
			Logger:  logger,
		})
	case cfg.generator != nil:
		return &generatorAdapter{inner: cfg.generator}
	default:
		return noopGenerator{}
	}
}

// Close releases the backing store connection.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// Ping checks backing store connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Count returns the number of indexed chunks.
func (c *Client) Count() int {
	return c.idx.Size()
}

// Ingest chunks, embeds, and indexes the given issues. Invalid records and
// per-issue pipeline errors are reported in the result, never as an error.
func (c *Client) Ingest(ctx context.Context, issues []Issue) (IngestReport, error) {
	report := c.ingestSvc.Run(ctx, toRawIssues(issues))
	return fromIngestReport(report), nil
}

// IngestFile ingests an NDJSON issue dump from disk, one JSON object per
// line. Unparseable lines are reported as failures alongside pipeline errors.
func (c *Client) IngestFile(ctx context.Context, path string) (IngestReport, error) {
	raw, rejects, err := corpus.ReadFile(path)
	if err != nil {
		return IngestReport{}, fmt.Errorf("ingest file: %w", err)
	}

	out := fromIngestReport(c.ingestSvc.Run(ctx, raw))
	for _, rej := range rejects {
		out.Failed++
		out.Failures = append(out.Failures, IngestFailure{IssueID: rej.ID, Err: rej.Err})
	}
	return out, nil
}

// DeleteIssue removes every indexed chunk of one issue.
// Returns true when the issue was present.
func (c *Client) DeleteIssue(ctx context.Context, id string) (bool, error) {
	n, err := c.idx.DeleteByDocument(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete issue %s: %w", id, err)
	}
	return n > 0, nil
}

// Ask answers a natural-language question grounded in the indexed issues.
// When nothing relevant is found, the answer text is a fixed fallback and
// CitedIssueIDs is empty.
func (c *Client) Ask(ctx context.Context, question string) (Answer, error) {
	ans, err := c.answerSvc.Answer(ctx, question, domain.DefaultTopK, domain.Filters{})
	if err != nil {
		return Answer{}, fmt.Errorf("ask: %w", err)
	}
	return Answer{Text: ans.Text, CitedIssueIDs: ans.CitedDocumentIDs}, nil
}
