// Package raster converts document bytes into ordered page images for the
// visual embedder.
package raster

import (
	"context"
	"image"
)

// Page is one rasterized document page. Numbers are 1-based.
type Page struct {
	Number int
	Image  image.Image
}

// Rasterizer turns raw document bytes into an ordered sequence of page
// images at the requested dpi. maxPages > 0 truncates to the first pages.
// Unparseable input fails with models.ErrInvalidDocument.
type Rasterizer interface {
	Rasterize(ctx context.Context, documentBytes []byte, dpi, maxPages int) ([]Page, error)
}
