// Package cli provides CLI utilities for Miru.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/miru/internal/models"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(v string) (OutputFormat, error) {
	switch v {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", v)
	}
}

// WriteRetrieveResults writes retrieval results to w in the given format.
func WriteRetrieveResults(w io.Writer, response *models.RetrieveResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d page(s) in %dms for %q\n\n",
		len(response.Results), response.QueryTime, response.Query)
	for _, page := range response.Results {
		name := page.Name
		if name == "" {
			name = page.DocID
		}
		fmt.Fprintf(w, "%3d. %-40s page %-4d score %.4f\n",
			page.Rank, Truncate(name, 40), page.PageNumber, page.Score)
	}
	return nil
}

// WriteDocumentList writes a document listing to w in the given format.
func WriteDocumentList(w io.Writer, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return nil
	}
	for _, doc := range docs {
		fmt.Fprintf(w, "%s  %4d page(s)  %s  %s\n",
			doc.CreatedAt.Format("2006-01-02 15:04"), doc.PageCount, doc.ID[:minInt(16, len(doc.ID))], doc.Name)
	}
	return nil
}

// WriteIngestResult writes an ingestion outcome to w in the given format.
func WriteIngestResult(w io.Writer, result *models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	fmt.Fprintf(w, "Ingested %s: %d page(s), %d patch(es)\n",
		result.Name, result.PagesIndexed, result.PatchesStored)
	if result.PatchesTruncated > 0 {
		fmt.Fprintf(w, "  %d patch(es) truncated at the per-page cap\n", result.PatchesTruncated)
	}
	fmt.Fprintf(w, "  doc_id: %s\n", result.DocID)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
