package registry

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestNameIndex(t *testing.T) *NameIndex {
	t.Helper()
	idx, err := NewNameIndex(filepath.Join(t.TempDir(), "names.bleve"))
	if err != nil {
		t.Fatalf("NewNameIndex failed: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func indexNames(t *testing.T, idx *NameIndex, names map[string]string) {
	t.Helper()
	for id, name := range names {
		if err := idx.Index(context.Background(), id, name); err != nil {
			t.Fatalf("Index(%s, %s) failed: %v", id, name, err)
		}
	}
}

func hitIDs(hits []*NameHit) map[string]bool {
	ids := make(map[string]bool, len(hits))
	for _, h := range hits {
		ids[h.ID] = true
	}
	return ids
}

func TestNameIndex_SearchExact(t *testing.T) {
	idx := newTestNameIndex(t)
	indexNames(t, idx, map[string]string{
		"doc:1": "invoice-march.pdf",
		"doc:2": "sales report.pdf",
	})

	hits, err := idx.Search(context.Background(), "invoice", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !hitIDs(hits)["doc:1"] {
		t.Errorf("exact term did not match: hits = %+v", hits)
	}
}

func TestNameIndex_SearchFuzzy(t *testing.T) {
	idx := newTestNameIndex(t)
	indexNames(t, idx, map[string]string{"doc:1": "invoice-march.pdf"})

	// One edit away.
	hits, err := idx.Search(context.Background(), "invoce", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !hitIDs(hits)["doc:1"] {
		t.Errorf("fuzzy term did not match: hits = %+v", hits)
	}
}

func TestNameIndex_UnderscoresSplit(t *testing.T) {
	idx := newTestNameIndex(t)
	indexNames(t, idx, map[string]string{"doc:1": "q3_sales_report.pdf"})

	hits, err := idx.Search(context.Background(), "sales", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !hitIDs(hits)["doc:1"] {
		t.Errorf("underscore-separated word did not match: hits = %+v", hits)
	}
}

func TestNameIndex_MultiTermDisjunction(t *testing.T) {
	idx := newTestNameIndex(t)
	indexNames(t, idx, map[string]string{
		"doc:1": "budget 2025.pdf",
		"doc:2": "travel notes.pdf",
	})

	hits, err := idx.Search(context.Background(), "budget travel", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	ids := hitIDs(hits)
	if !ids["doc:1"] || !ids["doc:2"] {
		t.Errorf("disjunction should match both: hits = %+v", hits)
	}
}

func TestNameIndex_EmptyQueryMatchesAll(t *testing.T) {
	idx := newTestNameIndex(t)
	indexNames(t, idx, map[string]string{
		"doc:1": "a.pdf",
		"doc:2": "b.pdf",
	})

	hits, err := idx.Search(context.Background(), "   ", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits, want 2", len(hits))
	}
}

func TestNameIndex_Delete(t *testing.T) {
	idx := newTestNameIndex(t)
	indexNames(t, idx, map[string]string{"doc:1": "gone.pdf"})

	if err := idx.Delete(context.Background(), "doc:1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	count, err := idx.DocCount()
	if err != nil {
		t.Fatalf("DocCount failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d after delete, want 0", count)
	}
	hits, err := idx.Search(context.Background(), "gone", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("deleted document still matches: %+v", hits)
	}
}
