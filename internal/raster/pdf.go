package raster

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/hyperjump/miru/internal/models"
)

// PDFRasterizer rasterizes PDF documents. Page content is extracted with
// ledongthuc/pdf and laid out onto a dpi-scaled canvas; the output is a
// deterministic function of (bytes, dpi).
type PDFRasterizer struct{}

// NewPDFRasterizer creates a PDF rasterizer.
func NewPDFRasterizer() *PDFRasterizer {
	return &PDFRasterizer{}
}

// Rasterize parses the PDF and renders each page. maxPages > 0 limits output
// to the first pages; dpi <= 0 falls back to 72.
func (r *PDFRasterizer) Rasterize(ctx context.Context, documentBytes []byte, dpi, maxPages int) ([]Page, error) {
	if len(documentBytes) == 0 {
		return nil, fmt.Errorf("%w: empty document", models.ErrInvalidDocument)
	}
	reader, err := pdf.NewReader(bytes.NewReader(documentBytes), int64(len(documentBytes)))
	if err != nil {
		return nil, fmt.Errorf("%w: open PDF: %v", models.ErrInvalidDocument, err)
	}
	if dpi <= 0 {
		dpi = 72
	}
	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("%w: PDF has no pages", models.ErrInvalidDocument)
	}
	if maxPages > 0 && numPages > maxPages {
		numPages = maxPages
	}

	pages := make([]Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		page := reader.Page(i)
		var text string
		if !page.V.IsNull() {
			text, err = page.GetPlainText(nil)
			if err != nil {
				return nil, fmt.Errorf("%w: extract page %d: %v", models.ErrInvalidDocument, i, err)
			}
		}
		pages = append(pages, Page{Number: i, Image: RenderPage(text, dpi)})
	}
	return pages, nil
}
