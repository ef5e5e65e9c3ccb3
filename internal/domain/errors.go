package domain

import "errors"

var (
	// ErrInvalidQuery signals a search request that cannot be served as given.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrIndexUnavailable signals lost connectivity to the venue index or storage.
	// Callers should retry; no partial result is produced.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrVenueNotFound signals a missing venue.
	ErrVenueNotFound = errors.New("venue not found")
	// ErrReviewNotFound signals a missing review.
	ErrReviewNotFound = errors.New("review not found")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")

	// ErrEmbeddingQuotaExceeded signals an exhausted embedding quota at the provider.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrCompletionProviderError signals a completion provider failure (transport, timeout, quota).
	ErrCompletionProviderError = errors.New("completion provider error")
	// ErrMalformedOutput signals a model response that failed schema validation.
	ErrMalformedOutput = errors.New("malformed model output")

	// ErrInvalidTransition signals a review status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid extraction status transition")
	// ErrLeaseHeld signals that another worker currently owns the review.
	ErrLeaseHeld = errors.New("review lease held by another worker")
)
