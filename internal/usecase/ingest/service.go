// Package ingest runs the document pipeline: normalize raw issues, chunk,
// embed, index. Per-document work fans out over a bounded worker pool; one
// bad record never fails the batch, but quota exhaustion cancels what is
// left of the run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/issuepilot/internal/corpus"
	"github.com/kailas-cloud/issuepilot/internal/domain"
	"github.com/kailas-cloud/issuepilot/internal/metrics"
)

// Pipeline defaults, overridable through the With* configurators.
const (
	DefaultWorkers    = 4
	DefaultMaxRetries = 3
)

// defaultRetryInterval is the first backoff delay between embedding retries.
const defaultRetryInterval = 500 * time.Millisecond

// Report summarizes one ingestion run. Results keeps the input record order,
// including records rejected before they became documents.
type Report struct {
	RunID     string
	Results   []domain.IngestResult
	Documents int // successfully indexed
	Chunks    int // total chunks indexed
	Failed    int
	Duration  time.Duration
}

// Service is the ingestion pipeline.
type Service struct {
	loader  Loader
	chunker Chunker
	embed   Embedder
	index   Indexer
	logger  *zap.Logger

	workers       int
	limiter       *rate.Limiter
	timeout       time.Duration // per embedding attempt
	maxRetries    uint64
	retryInterval time.Duration
}

// New creates an ingestion service with default worker and retry settings.
func New(loader Loader, chunker Chunker, embed Embedder, index Indexer, logger *zap.Logger) *Service {
	return &Service{
		loader:        loader,
		chunker:       chunker,
		embed:         embed,
		index:         index,
		logger:        logger,
		workers:       DefaultWorkers,
		maxRetries:    DefaultMaxRetries,
		retryInterval: defaultRetryInterval,
	}
}

// WithWorkers configures the worker pool size.
func (s *Service) WithWorkers(n int) *Service {
	if n > 0 {
		s.workers = n
	}
	return s
}

// WithRateLimit caps embedding calls per second. Zero disables the limiter.
func (s *Service) WithRateLimit(perSecond float64, burst int) *Service {
	if perSecond > 0 {
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return s
}

// WithEmbedTimeout bounds each embedding attempt.
func (s *Service) WithEmbedTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// WithMaxRetries configures how many times a failed embedding call is
// retried. Zero means a single attempt.
func (s *Service) WithMaxRetries(n int) *Service {
	if n >= 0 {
		s.maxRetries = uint64(n)
	}
	return s
}

// Run ingests a batch of raw issue records and reports the per-record
// outcome. Malformed records and per-document failures are reported but do
// not stop the run; an exhausted embedding quota cancels the remaining
// documents, which inherit the quota error in their results.
func (s *Service) Run(ctx context.Context, raw []corpus.RawIssue) Report {
	start := time.Now()
	runID := uuid.NewString()
	log := s.logger.With(zap.String("run_id", runID))

	docs, rejections := s.loader.Load(raw)
	results := make([]domain.IngestResult, len(raw))

	rejected := make(map[int]struct{}, len(rejections))
	for _, rej := range rejections {
		id := rej.ID
		if id == "" {
			id = fmt.Sprintf("record[%d]", rej.Position)
		}
		results[rej.Position] = domain.NewIngestError(id, rej.Err)
		rejected[rej.Position] = struct{}{}
		log.Warn("Skipping invalid issue record",
			zap.Int("position", rej.Position), zap.Error(rej.Err))
	}

	// Input positions of the records that became documents, in Load order.
	positions := make([]int, 0, len(docs))
	for i := range raw {
		if _, ok := rejected[i]; !ok {
			positions = append(positions, i)
		}
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for di, doc := range docs {
		pos := positions[di]
		g.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err // run already canceled, slot filled below
			}

			chunks, err := s.processDocument(groupCtx, doc)
			if err != nil {
				if errors.Is(err, domain.ErrEmbeddingQuotaExceeded) || errors.Is(err, context.Canceled) {
					return err // cancels the rest of the run
				}
				log.Warn("Document ingestion failed",
					zap.String("document_id", doc.ID()), zap.Error(err))
				results[pos] = domain.NewIngestError(doc.ID(), err)
				metrics.IngestDocumentsTotal.WithLabelValues("failed").Inc()
				return nil
			}

			results[pos] = domain.NewIngestOK(doc.ID(), chunks)
			metrics.IngestDocumentsTotal.WithLabelValues("ok").Inc()
			metrics.IngestChunksTotal.Add(float64(chunks))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Cascade: documents the canceled run never processed inherit the
		// terminal error.
		for di, doc := range docs {
			pos := positions[di]
			if results[pos].Status() == "" {
				results[pos] = domain.NewIngestError(doc.ID(), err)
				metrics.IngestDocumentsTotal.WithLabelValues("failed").Inc()
			}
		}
		log.Warn("Ingestion run canceled", zap.Error(err))
	}

	report := buildReport(runID, results, time.Since(start))
	metrics.IngestRunDuration.Observe(report.Duration.Seconds())
	log.Info("Ingestion run finished",
		zap.Int("records", len(raw)),
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Chunks),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report
}

// processDocument chunks, embeds and indexes one document. Returns the
// number of chunks indexed.
func (s *Service) processDocument(ctx context.Context, doc domain.Document) (int, error) {
	chunks := s.chunker.Split(doc)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %s produced no chunks: %w", doc.ID(), domain.ErrInvalidIssue)
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text()
	}

	res, err := s.embedWithRetry(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed document %s: %w", doc.ID(), err)
	}
	if len(res.Embeddings) != len(chunks) {
		return 0, fmt.Errorf("embed document %s: %d vectors for %d chunks: %w",
			doc.ID(), len(res.Embeddings), len(chunks), domain.ErrEmbeddingProviderError)
	}

	meta := doc.Metadata()
	entries := make([]domain.IndexEntry, len(chunks))
	for i, ch := range chunks {
		entry, err := domain.NewIndexEntry(ch, res.Embeddings[i], meta)
		if err != nil {
			return 0, fmt.Errorf("document %s chunk %d: %w", doc.ID(), i, err)
		}
		entries[i] = entry
	}

	if err := s.index.ReplaceDocument(ctx, doc.ID(), entries); err != nil {
		return 0, fmt.Errorf("index document %s: %w", doc.ID(), err)
	}
	return len(chunks), nil
}

// embedWithRetry embeds the chunk texts with bounded exponential backoff.
// Provider and rate-limit errors are retried; quota exhaustion and anything
// outside the embedding error family fail immediately.
func (s *Service) embedWithRetry(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	var result domain.BatchEmbeddingResult

	operation := func() error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		res, err := s.embedOnce(ctx, texts)
		if err != nil {
			if errors.Is(err, domain.ErrEmbeddingQuotaExceeded) {
				return backoff.Permanent(err)
			}
			if errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrEmbeddingProviderError) {
				return err
			}
			return backoff.Permanent(err)
		}

		result = res
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInterval

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx))
	return result, err
}

// embedOnce runs a single embedding attempt under the per-call timeout.
func (s *Service) embedOnce(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if be, ok := s.embed.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return domain.BatchFallback(ctx, s.embed, texts)
}

func buildReport(runID string, results []domain.IngestResult, elapsed time.Duration) Report {
	report := Report{RunID: runID, Results: results, Duration: elapsed}
	for _, r := range results {
		if r.Status() == domain.IngestOK {
			report.Documents++
			report.Chunks += r.Chunks()
		} else {
			report.Failed++
		}
	}
	return report
}
