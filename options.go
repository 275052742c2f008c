package issuepilot

import "go.uber.org/zap"

// Option configures the Client.
type Option func(*clientConfig)

type clientConfig struct {
	driver   string // "memory" or "redis"
	addrs    []string
	password string

	embedder  Embedder
	generator Generator

	embeddingAPI  *providerConfig
	generationAPI *providerConfig

	modelLabel string
	dimensions int

	docInstruction   string
	queryInstruction string

	maxChunkSize int
	overlap      int

	keyPrefix        string
	maxContextTokens int
	ingestWorkers    int

	logger *zap.Logger
}

// providerConfig points at an OpenAI-compatible HTTP endpoint.
type providerConfig struct {
	baseURL string
	apiKey  string
	model   string
}

// WithMemory keeps the index in process memory only. This is the default;
// nothing survives a restart.
func WithMemory() Option {
	return func(c *clientConfig) {
		c.driver = "memory"
	}
}

// WithRedis persists the index in a Redis instance so it survives restarts.
func WithRedis(addr, password string) Option {
	return func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	}
}

// WithEmbedder sets a custom text embedding provider.
// Required (or WithOpenAIEmbedder) for ingestion and querying.
func WithEmbedder(e Embedder) Option {
	return func(c *clientConfig) {
		c.embedder = e
	}
}

// WithGenerator sets a custom answer generation provider.
// Required (or WithOpenAIGenerator) for Ask.
func WithGenerator(g Generator) Option {
	return func(c *clientConfig) {
		c.generator = g
	}
}

// WithOpenAIEmbedder embeds through an OpenAI-compatible API
// (OpenAI, Ollama, vLLM, LM Studio). Overrides WithEmbedder.
func WithOpenAIEmbedder(baseURL, apiKey, model string) Option {
	return func(c *clientConfig) {
		c.embeddingAPI = &providerConfig{baseURL: baseURL, apiKey: apiKey, model: model}
	}
}

// WithOpenAIGenerator generates answers through an OpenAI-compatible API.
// Overrides WithGenerator.
func WithOpenAIGenerator(baseURL, apiKey, model string) Option {
	return func(c *clientConfig) {
		c.generationAPI = &providerConfig{baseURL: baseURL, apiKey: apiKey, model: model}
	}
}

// WithDimensions sets the expected vector width. Zero accepts whatever the
// first ingested batch produces.
func WithDimensions(dim int) Option {
	return func(c *clientConfig) {
		c.dimensions = dim
	}
}

// WithModelLabel names the embedding model in the persisted index metadata.
// A persisted index refuses to load under a different label. Defaults to the
// OpenAI embedder's model name, or "custom" for WithEmbedder providers.
func WithModelLabel(label string) Option {
	return func(c *clientConfig) {
		c.modelLabel = label
	}
}

// WithInstructions sets task prefixes prepended before embedding.
// Models like nomic-embed-text expect "search_document: " on indexed text
// and "search_query: " on queries. Empty strings disable a prefix.
func WithInstructions(document, query string) Option {
	return func(c *clientConfig) {
		c.docInstruction = document
		c.queryInstruction = query
	}
}

// WithChunking sets the splitter geometry in characters.
// Defaults: 1200 max chunk size, 120 overlap.
func WithChunking(maxChunkSize, overlap int) Option {
	return func(c *clientConfig) {
		c.maxChunkSize = maxChunkSize
		c.overlap = overlap
	}
}

// WithMaxContextTokens caps the estimated token budget for retrieved chunks
// in the generation prompt. Default: 2048.
func WithMaxContextTokens(n int) Option {
	return func(c *clientConfig) {
		c.maxContextTokens = n
	}
}

// WithIngestWorkers sets the number of concurrent ingestion workers.
// Default: 4.
func WithIngestWorkers(n int) Option {
	return func(c *clientConfig) {
		c.ingestWorkers = n
	}
}

// WithKeyPrefix namespaces all persisted keys. Default: "issuepilot:".
func WithKeyPrefix(prefix string) Option {
	return func(c *clientConfig) {
		c.keyPrefix = prefix
	}
}

// WithLogger enables structured logging for client operations.
// Default: logging disabled.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}
