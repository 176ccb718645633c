package patchstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/miru/internal/models"
)

// SQLiteStore persists patches in SQLite and keeps an in-memory copy of all
// vectors for inner product scans. The database is the source of truth; the
// cache is rebuilt from it on open and updated in lockstep with committed
// writes, so a searcher never observes a partially inserted page.
type SQLiteStore struct {
	db         *sql.DB
	dimensions int
	maxPatches int

	mu      sync.RWMutex
	patches []patch
	loaded  bool
}

// NewSQLiteStore opens or creates a SQLite database at dbPath for vectors of
// the given dimension. Parent directories are created if they do not exist.
// Call EnsureSchema before first use.
func NewSQLiteStore(dbPath string, dimensions, maxPatches int) (*SQLiteStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", models.ErrInvalidArgument)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", models.ErrStoreUnavailable, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: enable WAL: %v", models.ErrStoreUnavailable, err)
	}
	return &SQLiteStore{db: db, dimensions: dimensions, maxPatches: maxPatches}, nil
}

// EnsureSchema creates the patches table and its indexes if missing. Safe to
// call concurrently and repeatedly; an existing schema is a no-op.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS patches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id TEXT NOT NULL,
		page_number INTEGER NOT NULL,
		patch_index INTEGER NOT NULL,
		vector BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_patches_doc_id ON patches(doc_id);
	CREATE INDEX IF NOT EXISTS idx_patches_doc_page ON patches(doc_id, page_number, patch_index);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: create schema: %v", models.ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadCacheLocked(ctx)
}

// loadCacheLocked reads all patches from the database into memory, in
// insertion (rowid) order. Must be called with mu held for writing.
func (s *SQLiteStore) loadCacheLocked(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, page_number, patch_index, vector FROM patches ORDER BY id`)
	if err != nil {
		return fmt.Errorf("%w: load patches: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var patches []patch
	for rows.Next() {
		var p patch
		var blob []byte
		if err := rows.Scan(&p.docID, &p.pageNumber, &p.patchIndex, &blob); err != nil {
			return fmt.Errorf("%w: scan patch: %v", models.ErrStoreUnavailable, err)
		}
		p.vector = bytesToFloat32Slice(blob)
		if len(p.vector) != s.dimensions {
			return fmt.Errorf("%w: stored vector has dimension %d, store expects %d",
				models.ErrInvalidArgument, len(p.vector), s.dimensions)
		}
		patches = append(patches, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterate patches: %v", models.ErrStoreUnavailable, err)
	}
	s.patches = patches
	s.loaded = true
	return nil
}

func (s *SQLiteStore) ensureLoaded(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	return s.loadCacheLocked(ctx)
}

// InsertPage writes the page's patches in one transaction and exposes them to
// searches only after the commit succeeds.
func (s *SQLiteStore) InsertPage(ctx context.Context, docID string, pageNumber int, vectors [][]float32) (int, error) {
	if err := checkDimensions(vectors, s.dimensions); err != nil {
		return 0, err
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	vectors, _ = truncateToCap(vectors, s.maxPatches)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin insert: %v", models.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO patches (doc_id, page_number, patch_index, vector) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare insert: %v", models.ErrStoreUnavailable, err)
	}
	defer stmt.Close()

	for i, vec := range vectors {
		if _, err := stmt.ExecContext(ctx, docID, pageNumber, i, float32SliceToBytes(vec)); err != nil {
			return 0, fmt.Errorf("%w: insert patch %d: %v", models.ErrStoreUnavailable, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit page: %v", models.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	for i, vec := range vectors {
		v := make([]float32, s.dimensions)
		copy(v, vec)
		s.patches = append(s.patches, patch{
			docID:      docID,
			pageNumber: pageNumber,
			patchIndex: i,
			vector:     v,
		})
	}
	s.mu.Unlock()
	return len(vectors), nil
}

// SearchPatch returns the topK nearest patches to query by inner product.
func (s *SQLiteStore) SearchPatch(ctx context.Context, query []float32, topK int, docIDFilter string) ([]*Hit, error) {
	if len(query) != s.dimensions {
		return nil, fmt.Errorf("%w: query dimension %d, expected %d",
			models.ErrInvalidArgument, len(query), s.dimensions)
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanHits(s.patches, query, topK, docIDFilter), nil
}

// DeleteDocument removes every patch for docID from the database and the
// cache. A document with no patches yields 0, not an error.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, docID string) (int, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM patches WHERE doc_id = ?`, docID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete document: %v", models.ErrStoreUnavailable, err)
	}
	n, _ := result.RowsAffected()

	s.mu.Lock()
	kept := s.patches[:0]
	for _, p := range s.patches {
		if p.docID != docID {
			kept = append(kept, p)
		}
	}
	s.patches = kept
	s.mu.Unlock()
	return int(n), nil
}

// Count returns the total number of stored patches.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patches`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count patches: %v", models.ErrStoreUnavailable, err)
	}
	return count, nil
}

// Disconnect closes the database. Safe to call when never connected.
func (s *SQLiteStore) Disconnect() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
