package domain

import "errors"

// Error taxonomy for the evaluation pipeline.
//
// validation errors are never retried: the job is logged and discarded as
// unprocessable. scoring and infrastructure errors are transient and retried
// by redelivery up to the configured maximum attempt count. A lost claim or
// commit race is not an error at all; those surface as no-op results.
var (
	// ErrValidation marks malformed transaction or feature input.
	ErrValidation = errors.New("validation error")

	// ErrScoring marks a transient model-inference failure.
	ErrScoring = errors.New("scoring error")

	// ErrInfrastructure marks queue or store unavailability.
	ErrInfrastructure = errors.New("infrastructure error")
)

// Retryable reports whether the error should be retried via redelivery.
// Unclassified errors are treated as infrastructure failures and retried,
// so a transaction is never silently stranded by an unknown error.
func Retryable(err error) bool {
	return !errors.Is(err, ErrValidation)
}
