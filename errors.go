package issuepilot

import "github.com/kailas-cloud/issuepilot/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound                = domain.ErrNotFound
	ErrInvalidIssue            = domain.ErrInvalidIssue
	ErrDimensionMismatch       = domain.ErrDimensionMismatch
	ErrIndexUnavailable        = domain.ErrIndexUnavailable
	ErrRateLimited             = domain.ErrRateLimited
	ErrEmbeddingQuotaExceeded  = domain.ErrEmbeddingQuotaExceeded
	ErrEmbeddingProviderError  = domain.ErrEmbeddingProviderError
	ErrGenerationProviderError = domain.ErrGenerationProviderError
)
