// Package retrieval provides the late-interaction page retrieval engine.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/internal/patchstore"
	"github.com/hyperjump/miru/internal/registry"
)

// Engine ranks document pages against a text query with late interaction:
// the query is embedded into patch vectors, each patch probes the store
// independently, and per-page best matches are summed into a MaxSim score.
type Engine struct {
	store    patchstore.Store
	registry registry.Registry
	embedder embedding.Embedder
	config   *config.RetrievalConfig
}

// NewEngine creates a retrieval engine with the given dependencies.
// reg may be nil; when nil, results carry no document names.
func NewEngine(
	store patchstore.Store,
	reg registry.Registry,
	embedder embedding.Embedder,
	cfg *config.RetrievalConfig,
) *Engine {
	return &Engine{
		store:    store,
		registry: reg,
		embedder: embedder,
		config:   cfg,
	}
}

// Retrieve runs a retrieval request and returns the top pages, best first.
// An empty store or a query with no candidates yields an empty result, not an
// error. Any failing patch probe aborts the whole request.
func (e *Engine) Retrieve(ctx context.Context, req *models.RetrieveRequest) (*models.RetrieveResponse, error) {
	startTime := time.Now()
	if err := req.Validate(e.config.DefaultTopK, e.config.MaxTopK); err != nil {
		return nil, err
	}
	if req.DocID != "" && e.registry != nil {
		if _, err := e.registry.GetDocument(ctx, req.DocID); err != nil {
			return nil, err
		}
	}

	queryVectors, err := e.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hitsPerPatch := make([][]*patchstore.Hit, len(queryVectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, vec := range queryVectors {
		i, vec := i, vec
		g.Go(func() error {
			hits, err := e.store.SearchPatch(gctx, vec, e.config.CandidateK, req.DocID)
			if err != nil {
				return fmt.Errorf("patch probe %d failed: %w", i, err)
			}
			hitsPerPatch[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := AggregateMaxSim(hitsPerPatch)
	if len(scores) > req.TopK {
		scores = scores[:req.TopK]
	}

	response := &models.RetrieveResponse{
		Results:   make([]*models.RankedPage, 0, len(scores)),
		QueryTime: time.Since(startTime).Milliseconds(),
		Query:     req.Query,
	}
	names := e.lookupNames(ctx, scores)
	for i, s := range scores {
		response.Results = append(response.Results, &models.RankedPage{
			DocID:      s.DocID,
			Name:       names[s.DocID],
			PageNumber: s.PageNumber,
			Score:      s.Score,
			Rank:       i + 1,
		})
	}
	return response, nil
}

// PatchCount returns the number of patch vectors currently stored.
func (e *Engine) PatchCount(ctx context.Context) (int64, error) {
	return e.store.Count(ctx)
}

// lookupNames resolves document names for the result pages. Documents deleted
// since the probe ran are left unnamed rather than failing the request.
func (e *Engine) lookupNames(ctx context.Context, scores []*PageScore) map[string]string {
	names := make(map[string]string)
	if e.registry == nil {
		return names
	}
	for _, s := range scores {
		if _, ok := names[s.DocID]; ok {
			continue
		}
		doc, err := e.registry.GetDocument(ctx, s.DocID)
		if err != nil {
			continue
		}
		names[s.DocID] = doc.Name
	}
	return names
}
