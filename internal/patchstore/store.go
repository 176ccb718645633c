// Package patchstore provides persistence and similarity search for
// patch-level page embeddings. Each stored record is one patch: (document id,
// page number, patch index, vector). Pages are written as one atomic batch
// and only become searchable once the whole batch has committed.
package patchstore

import "context"

// Hit is a single patch-level search result. The patch index is internal to
// the store and never exposed: callers rank pages, not patches.
type Hit struct {
	DocID      string  `json:"doc_id"`
	PageNumber int     `json:"page_number"`
	Score      float64 `json:"score"`
}

// Store defines patch persistence and nearest-neighbor search.
//
// Implementations must be safe for concurrent use. Dimension mismatches are
// reported as models.ErrInvalidArgument and store nothing; backend
// connectivity failures as models.ErrStoreUnavailable (retryable).
type Store interface {
	// EnsureSchema idempotently provisions the patch collection and its
	// similarity index. Safe to call concurrently and repeatedly; a second
	// call when the schema already exists is a no-op.
	EnsureSchema(ctx context.Context) error

	// InsertPage writes len(vectors) patch records (patch index = slice
	// position) as a single page write. Pages exceeding the per-page patch
	// cap are truncated (first N by index kept); the returned count is what
	// was actually stored, so callers observe truncation as stored < len(vectors).
	InsertPage(ctx context.Context, docID string, pageNumber int, vectors [][]float32) (int, error)

	// SearchPatch returns the topK stored patches nearest to query by inner
	// product, optionally restricted to one document. Ties are broken by
	// insertion order, so identical inputs always produce identical output.
	SearchPatch(ctx context.Context, query []float32, topK int, docIDFilter string) ([]*Hit, error)

	// DeleteDocument removes every patch for docID and returns how many were
	// removed. A document with no patches yields 0, not an error.
	DeleteDocument(ctx context.Context, docID string) (int, error)

	// Count returns the total number of stored patches.
	Count(ctx context.Context) (int64, error)

	// Disconnect releases the underlying connection. Safe to call when never
	// connected.
	Disconnect() error
}
