// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/client layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates optimistic concurrency failure: the stored updated_at
	// no longer equals the caller's baseline.
	ErrVersionConflict = errors.New("version conflict")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPermission indicates the acting identity may not read or write the entity.
	ErrPermission = errors.New("permission denied")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates a document or request failed validation.
	ErrValidation = errors.New("validation failed")

	// ErrTransport indicates a network, timeout or unknown backend failure. Recoverable.
	ErrTransport = errors.New("transport failure")
)

// Retryable reports whether err is worth retrying on the next natural tick.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
