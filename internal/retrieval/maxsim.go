// Package retrieval provides late-interaction page retrieval and MaxSim fusion.
package retrieval

import (
	"sort"

	"github.com/hyperjump/miru/internal/patchstore"
)

// PageScore holds a page identity and its aggregated relevance score.
type PageScore struct {
	DocID      string
	PageNumber int
	Score      float64
}

type pageKey struct {
	docID string
	page  int
}

// AggregateMaxSim fuses per-query-patch candidate lists into page scores.
// For each query patch, a page contributes its best-matching stored patch;
// the page's score is the sum of those best matches across all query patches.
// A page absent from a patch's candidates contributes zero for that patch, so
// the result is a lower bound that tightens as candidate lists widen.
// Duplicate hits for the same page within one patch's list keep only the best.
func AggregateMaxSim(hitsPerPatch [][]*patchstore.Hit) []*PageScore {
	totals := make(map[pageKey]float64)
	for _, hits := range hitsPerPatch {
		best := make(map[pageKey]float64, len(hits))
		for _, h := range hits {
			key := pageKey{docID: h.DocID, page: h.PageNumber}
			if s, ok := best[key]; !ok || h.Score > s {
				best[key] = h.Score
			}
		}
		for key, s := range best {
			totals[key] += s
		}
	}

	scores := make([]*PageScore, 0, len(totals))
	for key, s := range totals {
		scores = append(scores, &PageScore{DocID: key.docID, PageNumber: key.page, Score: s})
	}
	// Equal scores order by (doc ID, page number) so rankings are reproducible.
	sort.Slice(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DocID != b.DocID {
			return a.DocID < b.DocID
		}
		return a.PageNumber < b.PageNumber
	})
	return scores
}
