package patchstore

import (
	"fmt"
	"sort"

	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/pkg/utils"
)

// patch is one in-memory patch record. Slices of patch preserve insertion
// order, which is what makes tie-breaking deterministic.
type patch struct {
	docID      string
	pageNumber int
	patchIndex int
	vector     []float32
}

// scanHits brute-force scans patches for the topK nearest to query by inner
// product. The sort is stable over insertion order so equal scores rank in
// the order they were stored.
func scanHits(patches []patch, query []float32, topK int, docIDFilter string) []*Hit {
	if topK <= 0 || len(patches) == 0 {
		return nil
	}
	type scored struct {
		pos   int
		score float64
	}
	scores := make([]scored, 0, len(patches))
	for i := range patches {
		if docIDFilter != "" && patches[i].docID != docIDFilter {
			continue
		}
		scores = append(scores, scored{pos: i, score: utils.InnerProduct(query, patches[i].vector)})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK > len(scores) {
		topK = len(scores)
	}
	hits := make([]*Hit, topK)
	for i := 0; i < topK; i++ {
		p := &patches[scores[i].pos]
		hits[i] = &Hit{DocID: p.docID, PageNumber: p.pageNumber, Score: scores[i].score}
	}
	return hits
}

// checkDimensions validates every vector against the store dimension before
// anything is written, so a bad batch stores nothing.
func checkDimensions(vectors [][]float32, dimensions int) error {
	for i, vec := range vectors {
		if len(vec) != dimensions {
			return fmt.Errorf("%w: vector %d has dimension %d, expected %d",
				models.ErrInvalidArgument, i, len(vec), dimensions)
		}
	}
	return nil
}

// truncateToCap applies the per-page patch cap, keeping the first maxPatches
// by index. Returns the kept slice and how many were dropped.
func truncateToCap(vectors [][]float32, maxPatches int) ([][]float32, int) {
	if maxPatches <= 0 || len(vectors) <= maxPatches {
		return vectors, 0
	}
	return vectors[:maxPatches], len(vectors) - maxPatches
}
