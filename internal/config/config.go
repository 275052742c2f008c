package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the issuepilot service configuration.
type Config struct {
	Ops        OpsConfig        `yaml:"ops"`
	Database   DatabaseConfig   `yaml:"database"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Index      IndexConfig      `yaml:"index"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Notes      NotesConfig      `yaml:"notes"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// OpsConfig holds the operational HTTP server settings (health and metrics only).
type OpsConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	ShutdownSec     int      `yaml:"shutdown_timeout_sec"`
	AuthTokens      []string `yaml:"auth_tokens"` // empty disables auth on /metrics
}

// DatabaseConfig holds backing store settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, memory (default: redis)
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// BudgetConfig holds embedding token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider            string       `yaml:"provider"` // label for logs and metrics
	BaseURL             string       `yaml:"base_url"`
	APIKey              string       `yaml:"api_key"`
	Model               string       `yaml:"model"`
	Dimensions          int          `yaml:"dimensions"` // expected vector width, 0 = accept provider default
	BatchSize           int          `yaml:"batch_size"`
	TimeoutSec          int          `yaml:"timeout_sec"`
	DocumentInstruction string       `yaml:"document_instruction"`
	QueryInstruction    string       `yaml:"query_instruction"`
	CacheTTLHours       int          `yaml:"cache_ttl_hours"` // 0 = cache forever
	Budget              BudgetConfig `yaml:"budget"`
}

// GenerationConfig holds answer generation provider settings.
type GenerationConfig struct {
	BaseURL          string  `yaml:"base_url"`
	APIKey           string  `yaml:"api_key"`
	Model            string  `yaml:"model"`
	Temperature      float32 `yaml:"temperature"` // 0 = provider default
	MaxContextTokens int     `yaml:"max_context_tokens"`
	TimeoutSec       int     `yaml:"timeout_sec"`
}

// ChunkingConfig holds document splitting settings, in characters.
type ChunkingConfig struct {
	MaxChunkSize int `yaml:"max_chunk_size"`
	Overlap      int `yaml:"overlap"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	Workers         int     `yaml:"workers"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"` // 0 = unlimited
	Burst           int     `yaml:"burst"`
	TimeoutSec      int     `yaml:"timeout_sec"` // per embedding batch
	MaxRetries      int     `yaml:"max_retries"`
}

// IndexConfig holds vector index settings.
type IndexConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// CorpusConfig points at an NDJSON issue dump ingested on startup.
type CorpusConfig struct {
	Path string `yaml:"path"` // empty = no startup ingestion
}

// NotesConfig holds the Q&A transcript settings.
type NotesConfig struct {
	Path string `yaml:"path"` // empty = transcript disabled
}

// DefaultEmbeddingModel expects nomic task prefixes on documents and queries.
const (
	DefaultEmbeddingModel      = "nomic-embed-text"
	defaultDocumentInstruction = "search_document: "
	defaultQueryInstruction    = "search_query: "
)

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Ops.Port <= 0 {
		c.Ops.Port = 9091
	}
	if c.Ops.ReadTimeoutSec <= 0 {
		c.Ops.ReadTimeoutSec = 10
	}
	if c.Ops.WriteTimeoutSec <= 0 {
		c.Ops.WriteTimeoutSec = 10
	}
	if c.Ops.ShutdownSec <= 0 {
		c.Ops.ShutdownSec = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "ollama"
	}
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = "http://localhost:11434/v1"
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = "ollama" // Ollama ignores the key but the client requires one
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = DefaultEmbeddingModel
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 64
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}
	// Task prefixes are model-specific, so only the default model gets them
	// implicitly. Other models configure their own or none.
	if c.Embedding.Model == DefaultEmbeddingModel {
		if c.Embedding.DocumentInstruction == "" {
			c.Embedding.DocumentInstruction = defaultDocumentInstruction
		}
		if c.Embedding.QueryInstruction == "" {
			c.Embedding.QueryInstruction = defaultQueryInstruction
		}
	}
	if c.Generation.BaseURL == "" {
		c.Generation.BaseURL = c.Embedding.BaseURL
	}
	if c.Generation.APIKey == "" {
		c.Generation.APIKey = c.Embedding.APIKey
	}
	if c.Generation.Model == "" {
		c.Generation.Model = "llama3.2"
	}
	if c.Generation.MaxContextTokens <= 0 {
		c.Generation.MaxContextTokens = 3072
	}
	if c.Generation.TimeoutSec <= 0 {
		c.Generation.TimeoutSec = 60
	}
	if c.Chunking.MaxChunkSize <= 0 {
		c.Chunking.MaxChunkSize = 1200
	}
	if c.Chunking.Overlap <= 0 {
		c.Chunking.Overlap = c.Chunking.MaxChunkSize / 10
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 4
	}
	if c.Ingest.Burst <= 0 {
		c.Ingest.Burst = c.Ingest.Workers
	}
	if c.Ingest.TimeoutSec <= 0 {
		c.Ingest.TimeoutSec = 30
	}
	if c.Ingest.MaxRetries <= 0 {
		c.Ingest.MaxRetries = 3
	}
	if c.Index.KeyPrefix == "" {
		c.Index.KeyPrefix = "issuepilot:"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Ops.Port <= 0 || c.Ops.Port > 65535 {
		return fmt.Errorf("ops.port must be between 1 and 65535, got %d", c.Ops.Port)
	}
	switch c.Database.Driver {
	case "redis":
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for the redis driver")
		}
	case "memory":
		// no connection settings
	default:
		return fmt.Errorf("database.driver must be \"redis\" or \"memory\", got %q", c.Database.Driver)
	}
	switch c.Embedding.Budget.Action {
	case "", "warn", "reject":
		// ok
	default:
		return fmt.Errorf(
			"embedding.budget.action must be \"warn\" or \"reject\", got %q",
			c.Embedding.Budget.Action,
		)
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must be non-negative, got %d", c.Embedding.Dimensions)
	}
	if c.Chunking.Overlap >= c.Chunking.MaxChunkSize {
		return fmt.Errorf(
			"chunking.overlap must be smaller than chunking.max_chunk_size, got %d >= %d",
			c.Chunking.Overlap, c.Chunking.MaxChunkSize,
		)
	}
	if c.Ingest.RateLimitPerSec < 0 {
		return fmt.Errorf("ingest.rate_limit_per_sec must be non-negative, got %g", c.Ingest.RateLimitPerSec)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	// 0. Explicit override wins
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}

	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
