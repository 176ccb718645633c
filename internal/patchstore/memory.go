package patchstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/miru/internal/models"
)

// MemoryStore is an in-memory patch store using brute-force inner product
// search. Suitable for tests and small corpora; contents are lost on restart.
type MemoryStore struct {
	dimensions int
	maxPatches int
	mu         sync.RWMutex
	patches    []patch
}

// NewMemoryStore creates an in-memory patch store for vectors of the given
// dimension, capping pages at maxPatches vectors (0 = no cap).
func NewMemoryStore(dimensions, maxPatches int) (*MemoryStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", models.ErrInvalidArgument)
	}
	return &MemoryStore{dimensions: dimensions, maxPatches: maxPatches}, nil
}

// EnsureSchema is a no-op for MemoryStore.
func (m *MemoryStore) EnsureSchema(ctx context.Context) error {
	return nil
}

// InsertPage stores the page's vectors as one batch under the write lock, so
// concurrent searches see either none or all of the page's patches.
func (m *MemoryStore) InsertPage(ctx context.Context, docID string, pageNumber int, vectors [][]float32) (int, error) {
	if err := checkDimensions(vectors, m.dimensions); err != nil {
		return 0, err
	}
	vectors, _ = truncateToCap(vectors, m.maxPatches)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, vec := range vectors {
		v := make([]float32, m.dimensions)
		copy(v, vec)
		m.patches = append(m.patches, patch{
			docID:      docID,
			pageNumber: pageNumber,
			patchIndex: i,
			vector:     v,
		})
	}
	return len(vectors), nil
}

// SearchPatch returns the topK nearest patches to query by inner product.
func (m *MemoryStore) SearchPatch(ctx context.Context, query []float32, topK int, docIDFilter string) ([]*Hit, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("%w: query dimension %d, expected %d",
			models.ErrInvalidArgument, len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return scanHits(m.patches, query, topK, docIDFilter), nil
}

// DeleteDocument removes every patch for docID. Unknown documents yield 0.
func (m *MemoryStore) DeleteDocument(ctx context.Context, docID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.patches[:0]
	deleted := 0
	for _, p := range m.patches {
		if p.docID == docID {
			deleted++
			continue
		}
		kept = append(kept, p)
	}
	m.patches = kept
	return deleted, nil
}

// Count returns the number of stored patches.
func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.patches)), nil
}

// Disconnect is a no-op for MemoryStore.
func (m *MemoryStore) Disconnect() error {
	return nil
}
