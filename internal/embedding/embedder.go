// Package embedding produces patch-level vector embeddings for page images
// and queries.
package embedding

import (
	"context"
	"image"
)

// Embedder maps page images and query text to ordered sequences of
// fixed-dimension patch vectors. Patch 0 is the global/summary patch; the
// remaining patches cover spatial regions in row-major order. All vectors
// are unit-normalized so inner product equals cosine similarity.
type Embedder interface {
	// EmbedPage returns one vector per patch for a page image.
	EmbedPage(ctx context.Context, img image.Image) ([][]float32, error)
	// EmbedPages embeds pages in order.
	EmbedPages(ctx context.Context, imgs []image.Image) ([][][]float32, error)
	// EmbedQuery returns one vector per query token (plus the global patch).
	EmbedQuery(ctx context.Context, text string) ([][]float32, error)
	Dimensions() int
	Close() error
}
