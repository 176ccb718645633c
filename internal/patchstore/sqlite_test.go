package patchstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hyperjump/miru/internal/models"
)

func newTestSQLiteStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(path, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestSQLiteStore_EnsureSchemaIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patches.db")
	store := newTestSQLiteStore(t, path)
	defer store.Disconnect()
	ctx := context.Background()

	if _, err := store.InsertPage(ctx, "doc1", 1, [][]float32{{1, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	// Second provisioning must not lose data.
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestSQLiteStore_InsertSearchDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patches.db")
	store := newTestSQLiteStore(t, path)
	defer store.Disconnect()
	ctx := context.Background()

	n, err := store.InsertPage(ctx, "doc1", 1, [][]float32{{1, 0, 0}, {0, 1, 0}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("stored = %d, want 2", n)
	}
	_, _ = store.InsertPage(ctx, "doc1", 2, [][]float32{{0, 0, 1}})
	_, _ = store.InsertPage(ctx, "doc2", 1, [][]float32{{0.9, 0, 0}})

	hits, err := store.SearchPatch(ctx, []float32{1, 0, 0}, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].DocID != "doc1" || hits[0].PageNumber != 1 {
		t.Errorf("top hit = %+v", hits[0])
	}
	if hits[1].DocID != "doc2" {
		t.Errorf("second hit = %+v", hits[1])
	}

	hits, _ = store.SearchPatch(ctx, []float32{1, 0, 0}, 5, "doc2")
	if len(hits) != 1 || hits[0].DocID != "doc2" {
		t.Errorf("filtered hits = %+v", hits)
	}

	deleted, err := store.DeleteDocument(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
	deleted, _ = store.DeleteDocument(ctx, "doc1")
	if deleted != 0 {
		t.Errorf("second delete = %d, want 0", deleted)
	}
	count, _ := store.Count(ctx)
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestSQLiteStore_DimensionMismatchStoresNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patches.db")
	store := newTestSQLiteStore(t, path)
	defer store.Disconnect()
	ctx := context.Background()

	_, err := store.InsertPage(ctx, "doc1", 1, [][]float32{{1, 0, 0}, {1, 0}})
	if !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	count, _ := store.Count(ctx)
	if count != 0 {
		t.Errorf("count = %d, want 0 after rejected batch", count)
	}
}

func TestSQLiteStore_PersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patches.db")
	ctx := context.Background()

	store := newTestSQLiteStore(t, path)
	_, _ = store.InsertPage(ctx, "doc1", 1, [][]float32{{1, 0, 0}})
	_, _ = store.InsertPage(ctx, "doc1", 2, [][]float32{{0, 1, 0}})
	firstHits, err := store.SearchPatch(ctx, []float32{0, 1, 0}, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Disconnect(); err != nil {
		t.Fatal(err)
	}

	reopened := newTestSQLiteStore(t, path)
	defer reopened.Disconnect()
	count, err := reopened.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("count after reopen = %d, want 2", count)
	}
	hits, err := reopened.SearchPatch(ctx, []float32{0, 1, 0}, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != len(firstHits) {
		t.Fatalf("got %d hits after reopen, want %d", len(hits), len(firstHits))
	}
	for i := range hits {
		if *hits[i] != *firstHits[i] {
			t.Errorf("hit %d changed across reopen: %+v vs %+v", i, hits[i], firstHits[i])
		}
	}
}

func TestSQLiteStore_PatchCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patches.db")
	store, err := NewSQLiteStore(path, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Disconnect()
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	vectors := [][]float32{{1, 0}, {0.8, 0}, {0.6, 0}, {0.4, 0}, {0.2, 0}}
	n, err := store.InsertPage(ctx, "doc1", 1, vectors)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("stored = %d, want 3 (cap)", n)
	}
	count, _ := store.Count(ctx)
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	// The first three by index survive; the best is still {1,0}.
	hits, _ := store.SearchPatch(ctx, []float32{1, 0}, 3, "")
	if len(hits) != 3 || hits[0].Score != 1 {
		t.Errorf("hits = %+v", hits)
	}
}

func TestFloat32BytesRoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 3.25e-5}
	out := bytesToFloat32Slice(float32SliceToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("value %d: %f != %f", i, in[i], out[i])
		}
	}
}
