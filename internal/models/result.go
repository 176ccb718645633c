package models

// RankedPage is a single retrieval result: one document page with its
// late-interaction aggregate score.
type RankedPage struct {
	DocID      string  `json:"doc_id"`
	Name       string  `json:"name,omitempty"`
	PageNumber int     `json:"page_number"`
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
}

// RetrieveResponse is the response for a retrieval request.
type RetrieveResponse struct {
	Results   []*RankedPage `json:"results"`
	QueryTime int64         `json:"query_time_ms"`
	Query     string        `json:"query"`
}
