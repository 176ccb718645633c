package retrieval

import (
	"testing"

	"github.com/hyperjump/miru/internal/patchstore"
)

func hit(docID string, page int, score float64) *patchstore.Hit {
	return &patchstore.Hit{DocID: docID, PageNumber: page, Score: score}
}

func TestAggregateMaxSim_SumsPerPatchMaxima(t *testing.T) {
	// Two query patches. Page A matches both moderately; page B matches the
	// first patch strongly and the second not at all. A must win: 0.6+0.6 >
	// 0.9+0.
	hitsPerPatch := [][]*patchstore.Hit{
		{hit("docB", 1, 0.9), hit("docA", 1, 0.6)},
		{hit("docA", 1, 0.6)},
	}
	scores := AggregateMaxSim(hitsPerPatch)
	if len(scores) != 2 {
		t.Fatalf("got %d pages, want 2", len(scores))
	}
	if scores[0].DocID != "docA" || scores[0].Score != 1.2 {
		t.Errorf("top = %+v, want docA with 1.2", scores[0])
	}
	if scores[1].DocID != "docB" || scores[1].Score != 0.9 {
		t.Errorf("second = %+v, want docB with 0.9", scores[1])
	}
}

func TestAggregateMaxSim_TakesMaxPerPageWithinPatch(t *testing.T) {
	// Two stored patches of the same page in one candidate list; only the
	// best contributes.
	hitsPerPatch := [][]*patchstore.Hit{
		{hit("doc", 3, 0.4), hit("doc", 3, 0.7), hit("doc", 3, 0.1)},
	}
	scores := AggregateMaxSim(hitsPerPatch)
	if len(scores) != 1 {
		t.Fatalf("got %d pages, want 1", len(scores))
	}
	if scores[0].Score != 0.7 {
		t.Errorf("score = %f, want 0.7", scores[0].Score)
	}
}

func TestAggregateMaxSim_EmptyInput(t *testing.T) {
	if got := AggregateMaxSim(nil); len(got) != 0 {
		t.Errorf("nil input: got %d pages", len(got))
	}
	if got := AggregateMaxSim([][]*patchstore.Hit{{}, {}}); len(got) != 0 {
		t.Errorf("empty lists: got %d pages", len(got))
	}
}

func TestAggregateMaxSim_TieBreakByDocThenPage(t *testing.T) {
	hitsPerPatch := [][]*patchstore.Hit{
		{hit("docB", 1, 0.5), hit("docA", 9, 0.5), hit("docA", 2, 0.5)},
	}
	for run := 0; run < 3; run++ {
		scores := AggregateMaxSim(hitsPerPatch)
		if len(scores) != 3 {
			t.Fatalf("got %d pages, want 3", len(scores))
		}
		want := []struct {
			docID string
			page  int
		}{{"docA", 2}, {"docA", 9}, {"docB", 1}}
		for i, w := range want {
			if scores[i].DocID != w.docID || scores[i].PageNumber != w.page {
				t.Fatalf("run %d: scores[%d] = %+v, want %v", run, i, scores[i], w)
			}
		}
	}
}
