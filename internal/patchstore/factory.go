package patchstore

import (
	"fmt"

	"github.com/hyperjump/miru/internal/config"
)

// Backend identifies a patch store implementation.
type Backend string

const (
	// BackendSQLite persists patches in a local SQLite file with an
	// in-memory scan cache. The default.
	BackendSQLite Backend = "sqlite"
	// BackendMemory keeps patches in memory only. Tests and throwaway runs.
	BackendMemory Backend = "memory"
	// BackendQdrant delegates storage and per-patch search to a Qdrant
	// server; aggregation stays client-side.
	BackendQdrant Backend = "qdrant"
)

// NewStore creates a patch store for the configured backend.
// Supported backends: "sqlite" (default), "memory", "qdrant".
func NewStore(cfg *config.StorageConfig, dimensions, maxPatches int) (Store, error) {
	switch Backend(cfg.Backend) {
	case BackendSQLite, "":
		return NewSQLiteStore(cfg.DatabasePath, dimensions, maxPatches)
	case BackendMemory:
		return NewMemoryStore(dimensions, maxPatches)
	case BackendQdrant:
		return NewQdrantStore(QdrantOptions{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Dimensions: dimensions,
			MaxPatches: maxPatches,
		})
	default:
		return nil, fmt.Errorf("unknown patch store backend: %s (supported: sqlite, memory, qdrant)", cfg.Backend)
	}
}
