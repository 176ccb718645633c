// Package ingest provides document ingestion into the patch store and registry.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
)

// IDPrefix marks content-derived document IDs.
const IDPrefix = "doc:"

// DocID returns a stable document ID for the given document bytes.
// Same content always yields the same ID, so re-ingesting an unchanged
// document addresses the existing one.
func DocID(data []byte) string {
	hash := sha256.Sum256(data)
	return IDPrefix + hex.EncodeToString(hash[:])
}
