// Package models defines core data structures for documents, retrieval requests, and results.
package models

import "time"

// Document represents an ingested document. The ID is content-derived
// (sha256 of the raw bytes) unless the caller supplied an explicit ID at
// ingest time; Name is unique per storage namespace and comes from the
// uploaded filename.
type Document struct {
	ID        string    `json:"doc_id" db:"id"`
	Name      string    `json:"name" db:"name"`
	PageCount int       `json:"page_count" db:"page_count"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IngestInput is a request to ingest one document.
type IngestInput struct {
	// DocID optionally pins the document ID; when empty the ID is derived
	// from the content hash.
	DocID string `json:"doc_id,omitempty"`
	Name  string `json:"name"`
	Data  []byte `json:"-"`
	// DPI and MaxPages override the configured rasterization settings when
	// positive.
	DPI      int `json:"dpi,omitempty"`
	MaxPages int `json:"max_pages,omitempty"`
}

// IngestResult is the outcome of a successful ingestion.
type IngestResult struct {
	DocID            string `json:"doc_id"`
	Name             string `json:"name,omitempty"`
	PagesIndexed     int    `json:"pages_indexed"`
	PatchesStored    int    `json:"patches_stored"`
	PatchesTruncated int    `json:"patches_truncated,omitempty"`
}
