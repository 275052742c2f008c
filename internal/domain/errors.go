package domain

import "errors"

var (
	// ErrInvalidIssue signals a malformed raw issue record.
	ErrInvalidIssue = errors.New("invalid issue record")
	// ErrDimensionMismatch signals an embedding vector dimension conflict with the index.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrIndexUnavailable signals that the index backing store cannot be reached.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrEmbeddingQuotaExceeded signals an exhausted embedding token budget.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrRateLimited signals a provider rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrGenerationProviderError signals a generation provider failure.
	ErrGenerationProviderError = errors.New("generation provider error")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
)
