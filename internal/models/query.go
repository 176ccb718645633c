package models

import (
	"fmt"
	"strings"
)

// RetrieveRequest represents a page retrieval request.
type RetrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
	// DocID restricts the search to one document when non-empty.
	DocID string `json:"doc_id,omitempty"`
}

// Validate checks the request and sets defaults. An empty or whitespace-only
// query is rejected; TopK is clamped to [1, maxTopK].
func (r *RetrieveRequest) Validate(defaultTopK, maxTopK int) error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidArgument)
	}
	if r.TopK <= 0 {
		r.TopK = defaultTopK
	}
	if r.TopK > maxTopK {
		r.TopK = maxTopK
	}
	return nil
}
