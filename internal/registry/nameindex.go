package registry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// NameHit is a fuzzy name lookup match.
type NameHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// NameIndex provides fuzzy lookup of documents by name, backed by Bleve.
type NameIndex struct {
	index bleve.Index
}

type nameDoc struct {
	Name string `json:"name"`
}

// NewNameIndex creates or opens a Bleve index at path. An existing index is
// opened and reused; remove the directory to force a rebuild after mapping changes.
func NewNameIndex(path string) (*NameIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	nameFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so "invoice" matches
	// exactly; stemming would fold distinct report names together.
	nameFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("name", nameFieldMapping)
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open name index: %w", openErr)
		}
		return &NameIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create name index: %w", err)
	}
	return &NameIndex{index: index}, nil
}

// Index adds or updates the name for a document ID.
// Underscores are indexed as spaces so "q3_sales_report.pdf" is searchable
// as "q3 sales report" (the standard analyzer does not split on underscore).
func (n *NameIndex) Index(ctx context.Context, id, name string) error {
	return n.index.Index(id, nameDoc{Name: strings.ReplaceAll(name, "_", " ")})
}

// Search returns up to limit documents whose names match query, best first.
// Each query term matches fuzzily (edit distance 1) for typo tolerance.
func (n *NameIndex) Search(ctx context.Context, query string, limit int) ([]*NameHit, error) {
	terms := strings.Fields(strings.ToLower(query))
	var q blevequery.Query
	switch len(terms) {
	case 0:
		q = bleve.NewMatchAllQuery()
	case 1:
		q = fuzzyTerm(terms[0])
	default:
		queries := make([]blevequery.Query, len(terms))
		for i, t := range terms {
			queries[i] = fuzzyTerm(t)
		}
		q = bleve.NewDisjunctionQuery(queries...)
	}
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := n.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("name search failed: %w", err)
	}
	out := make([]*NameHit, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &NameHit{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

func fuzzyTerm(term string) blevequery.Query {
	fq := bleve.NewFuzzyQuery(term)
	fq.SetFuzziness(1)
	fq.SetField("name")
	return fq
}

// Delete removes a document from the index.
func (n *NameIndex) Delete(ctx context.Context, id string) error {
	return n.index.Delete(id)
}

// DocCount returns the number of indexed names.
func (n *NameIndex) DocCount() (uint64, error) {
	return n.index.DocCount()
}

// Close closes the underlying index.
func (n *NameIndex) Close() error {
	return n.index.Close()
}
