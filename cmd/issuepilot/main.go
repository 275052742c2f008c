package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/issuepilot/internal/chunker"
	"github.com/kailas-cloud/issuepilot/internal/config"
	"github.com/kailas-cloud/issuepilot/internal/corpus"
	"github.com/kailas-cloud/issuepilot/internal/db"
	dbMemory "github.com/kailas-cloud/issuepilot/internal/db/memory"
	dbRedis "github.com/kailas-cloud/issuepilot/internal/db/redis"
	"github.com/kailas-cloud/issuepilot/internal/domain"
	"github.com/kailas-cloud/issuepilot/internal/index"
	logpkg "github.com/kailas-cloud/issuepilot/internal/logger"
	"github.com/kailas-cloud/issuepilot/internal/metrics"
	"github.com/kailas-cloud/issuepilot/internal/notes"
	budgetrepo "github.com/kailas-cloud/issuepilot/internal/repository/budget"
	"github.com/kailas-cloud/issuepilot/internal/repository/embcache"
	openaiTransport "github.com/kailas-cloud/issuepilot/internal/transport/openai"
	"github.com/kailas-cloud/issuepilot/internal/transport/ops"
	answeruc "github.com/kailas-cloud/issuepilot/internal/usecase/answer"
	embeddinguc "github.com/kailas-cloud/issuepilot/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/issuepilot/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/issuepilot/internal/usecase/ingest"
	"github.com/kailas-cloud/issuepilot/internal/version"
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting issuepilot",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("ops_port", cfg.Ops.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.String("generation_model", cfg.Generation.Model),
	)

	// Create database store based on driver
	var store db.Store
	switch cfg.Database.Driver {
	case "redis":
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
	case "memory":
		store = dbMemory.NewStore()
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterGenerationMetrics()
	metrics.RegisterPipelineMetrics()

	// Single BudgetTracker shared by both embedder chains.
	var budget *embeddinguc.BudgetTracker
	budgetCfg := cfg.Embedding.Budget
	if budgetCfg.DailyTokenLimit > 0 || budgetCfg.MonthlyTokenLimit > 0 {
		action := embeddinguc.BudgetActionWarn
		if budgetCfg.Action == "reject" {
			action = embeddinguc.BudgetActionReject
		}
		budget = embeddinguc.NewBudgetTracker(
			cfg.Embedding.Provider, budgetCfg.DailyTokenLimit, budgetCfg.MonthlyTokenLimit, action, logger,
		)
		// Connect persistence store — loads current counters from DB.
		budget.WithStore(ctx, budgetrepo.New(store, budgetrepo.DefaultDailyTTL, budgetrepo.DefaultMonthlyTTL))
	}

	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	// Go gotcha: (*BudgetTracker)(nil) wrapped in BudgetChecker != nil.
	var budgetChecker embeddinguc.BudgetChecker
	if budget != nil {
		budgetChecker = budget
	}

	docEmbedder := buildEmbedder(cfg.Embedding, cfg.Embedding.DocumentInstruction, store, budgetChecker, logger)
	queryEmbedder := buildEmbedder(cfg.Embedding, cfg.Embedding.QueryInstruction, store, budgetChecker, logger)
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	generator := openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		APIKey:      cfg.Generation.APIKey,
		BaseURL:     cfg.Generation.BaseURL,
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		Timeout:     time.Duration(cfg.Generation.TimeoutSec) * time.Second,
		Logger:      logger,
	})

	idx := index.New(store, index.Config{
		KeyPrefix: cfg.Index.KeyPrefix,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimensions,
	}, logger)
	if err := idx.Load(ctx); err != nil {
		logger.Fatal("Failed to load vector index", zap.Error(err))
	}

	splitter, err := chunker.New(cfg.Chunking.MaxChunkSize, cfg.Chunking.Overlap)
	if err != nil {
		logger.Fatal("Invalid chunking settings", zap.Error(err))
	}

	ingestSvc := ingestuc.New(corpus.NewLoader(), splitter, docEmbedder, idx, logger).
		WithWorkers(cfg.Ingest.Workers).
		WithRateLimit(cfg.Ingest.RateLimitPerSec, cfg.Ingest.Burst).
		WithEmbedTimeout(time.Duration(cfg.Ingest.TimeoutSec) * time.Second).
		WithMaxRetries(cfg.Ingest.MaxRetries)

	answerSvc := answeruc.New(queryEmbedder, idx, generator, logger).
		WithMaxContextTokens(cfg.Generation.MaxContextTokens)

	healthSvc := healthuc.New(store, newEmbeddingHealthChecker(docEmbedder), generator)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Ops.Port),
		Handler:      ops.NewRouter(healthSvc, logger, cfg.Ops.AuthTokens),
		ReadTimeout:  time.Duration(cfg.Ops.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Ops.WriteTimeoutSec) * time.Second,
	}
	go func() {
		logger.Info("Starting ops HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Ops HTTP server error", zap.Error(err))
		}
	}()

	if cfg.Corpus.Path != "" {
		ingestCorpus(ctx, cfg.Corpus.Path, ingestSvc, logger)
	}

	var recorder *notes.Recorder
	if cfg.Notes.Path != "" {
		recorder, err = notes.NewRecorder(cfg.Notes.Path)
		if err != nil {
			logger.Warn("Notes transcript disabled", zap.Error(err))
		}
	}

	// Interactive loop runs until "q", stdin EOF, or a shutdown signal.
	if !askLoop(ctx, answerSvc, recorder, logger) {
		logger.Info("Stdin closed, serving until shutdown signal")
		<-ctx.Done()
	}

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Ops.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during ops server shutdown", zap.Error(err))
	}

	logger.Info("Stopped gracefully")
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented -> Instruction.
func buildEmbedder(
	cfg config.EmbeddingConfig,
	instruction string,
	store db.Store,
	budget embeddinguc.BudgetChecker,
	logger *zap.Logger,
) domain.Embedder {
	// Base provider (with transport metrics built-in)
	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Provider:   cfg.Provider,
		Timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
		Logger:     logger,
	})

	var embedder domain.Embedder = embcache.New(
		base, store, metrics.EmbeddingCacheTotal,
		time.Duration(cfg.CacheTTLHours)*time.Hour, logger,
	)

	embedder = embeddinguc.NewInstrumentedEmbedder(
		embedder, cfg.Provider, cfg.Model, cfg.BatchSize, budget, logger,
	)

	// Instruction prefix (outermost — cache key includes instruction)
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}

	return embedder
}

// ingestCorpus feeds an NDJSON issue dump through the ingestion pipeline.
func ingestCorpus(ctx context.Context, path string, svc *ingestuc.Service, logger *zap.Logger) {
	raw, rejects, err := corpus.ReadFile(path)
	if err != nil {
		logger.Error("Failed to read corpus file", zap.String("path", path), zap.Error(err))
		return
	}
	for _, rej := range rejects {
		logger.Warn("Skipping unreadable corpus line",
			zap.Int("line", rej.Position), zap.Error(rej.Err))
	}

	report := svc.Run(ctx, raw)
	logger.Info("Corpus ingested",
		zap.String("path", path),
		zap.String("run_id", report.RunID),
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Chunks),
		zap.Int("failed", report.Failed),
	)
}

// askLoop reads questions from stdin and prints grounded answers. Returns
// false when stdin closed without an explicit quit, true otherwise.
func askLoop(ctx context.Context, svc *answeruc.Service, rec *notes.Recorder, logger *zap.Logger) bool {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Print("Ask a question about the repository's issues (q to quit): ")

		select {
		case <-ctx.Done():
			fmt.Println()
			return true
		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				return false
			}
			question := strings.TrimSpace(line)
			if question == "" {
				continue
			}
			if question == "q" {
				return true
			}

			ans, err := svc.Answer(ctx, question, domain.DefaultTopK, domain.Filters{})
			if err != nil {
				logger.Error("Failed to answer question", zap.Error(err))
				fmt.Println("Could not answer that question, see the log for details.")
				continue
			}

			fmt.Println(ans.Text)
			if len(ans.CitedDocumentIDs) > 0 {
				fmt.Printf("Sources: issues %s\n", strings.Join(ans.CitedDocumentIDs, ", "))
			}

			if rec != nil {
				if err := rec.Append(notes.Entry{
					Question:         question,
					Answer:           ans.Text,
					CitedDocumentIDs: ans.CitedDocumentIDs,
				}); err != nil {
					logger.Warn("Failed to append notes transcript", zap.Error(err))
				}
			}
		}
	}
}

// embeddingHealthChecker adapts the embedder chain to health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}
