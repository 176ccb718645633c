package models

import "errors"

// Error taxonomy shared by all components. Components wrap these sentinels
// with fmt.Errorf("...: %w", ...) and callers classify with errors.Is.
var (
	// ErrInvalidArgument indicates malformed input (empty query, wrong vector
	// dimension). Never retried; surfaced to the caller verbatim.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates a referenced document or page does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable indicates a transient patch store connectivity
	// failure. Safe to retry with backoff.
	ErrStoreUnavailable = errors.New("patch store unavailable")

	// ErrEmbeddingUnavailable indicates the embedding model cannot be
	// reached or loaded. Treated as transient.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrInvalidDocument indicates unparseable document bytes. A subclass of
	// invalid input: never retried.
	ErrInvalidDocument = errors.New("invalid document")
)

// IsRetryable reports whether err belongs to the transient class
// (store or embedder unreachable) and may be retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrEmbeddingUnavailable)
}

// IsInvalidInput reports whether err is a validation failure that must not
// be retried.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrInvalidDocument)
}
