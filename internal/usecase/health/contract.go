package health

import "context"

// DBPinger checks index backing store availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// GenerationChecker checks generation provider availability.
type GenerationChecker interface {
	HealthCheck(ctx context.Context) error
}
