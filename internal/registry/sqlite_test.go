package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/miru/internal/models"
)

func newTestRegistry(t *testing.T) *SQLiteRegistry {
	t.Helper()
	reg, err := NewSQLiteRegistry(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRegistry failed: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestSQLiteRegistry_CreateGetDelete(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	doc := &models.Document{ID: "doc:abc", Name: "report.pdf", PageCount: 4}
	if err := reg.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}
	if doc.CreatedAt.IsZero() {
		t.Error("CreateDocument did not stamp CreatedAt")
	}

	got, err := reg.GetDocument(ctx, "doc:abc")
	if err != nil {
		t.Fatalf("GetDocument failed: %v", err)
	}
	if got.Name != "report.pdf" || got.PageCount != 4 {
		t.Errorf("got %+v", got)
	}

	byName, err := reg.GetDocumentByName(ctx, "report.pdf")
	if err != nil {
		t.Fatalf("GetDocumentByName failed: %v", err)
	}
	if byName.ID != "doc:abc" {
		t.Errorf("lookup by name returned ID %q", byName.ID)
	}

	if err := reg.DeleteDocument(ctx, "doc:abc"); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}
	if _, err := reg.GetDocument(ctx, "doc:abc"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("after delete: err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRegistry_GetUnknown(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.GetDocument(ctx, "doc:nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetDocument: err = %v, want ErrNotFound", err)
	}
	if _, err := reg.GetDocumentByName(ctx, "nope.pdf"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetDocumentByName: err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteRegistry_DeleteUnknownIsNoop(t *testing.T) {
	reg := newTestRegistry(t)
	if err := reg.DeleteDocument(context.Background(), "doc:nope"); err != nil {
		t.Errorf("DeleteDocument on unknown ID: %v", err)
	}
}

func TestSQLiteRegistry_DuplicateNameRejected(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.CreateDocument(ctx, &models.Document{ID: "doc:a", Name: "same.pdf", PageCount: 1}); err != nil {
		t.Fatalf("first CreateDocument failed: %v", err)
	}
	err := reg.CreateDocument(ctx, &models.Document{ID: "doc:b", Name: "same.pdf", PageCount: 1})
	if !errors.Is(err, models.ErrInvalidArgument) {
		t.Errorf("duplicate name: err = %v, want ErrInvalidArgument", err)
	}
}

func TestSQLiteRegistry_ListAndCount(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		doc := &models.Document{
			ID:        fmt.Sprintf("doc:%d", i),
			Name:      fmt.Sprintf("file-%d.pdf", i),
			PageCount: 1,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := reg.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("CreateDocument %d failed: %v", i, err)
		}
	}

	count, err := reg.CountDocuments(ctx)
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}

	docs, err := reg.ListDocuments(ctx, 0, 3)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3", len(docs))
	}
	// Newest first.
	if docs[0].ID != "doc:4" || docs[2].ID != "doc:2" {
		t.Errorf("order = [%s %s %s]", docs[0].ID, docs[1].ID, docs[2].ID)
	}

	rest, err := reg.ListDocuments(ctx, 3, 10)
	if err != nil {
		t.Fatalf("ListDocuments with offset failed: %v", err)
	}
	if len(rest) != 2 {
		t.Errorf("got %d documents past offset 3, want 2", len(rest))
	}
}

func TestResolve(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.CreateDocument(ctx, &models.Document{ID: "doc:abc", Name: "report.pdf", PageCount: 2}); err != nil {
		t.Fatalf("CreateDocument failed: %v", err)
	}

	byID, err := Resolve(ctx, reg, "doc:abc")
	if err != nil || byID.ID != "doc:abc" {
		t.Errorf("Resolve by ID: doc = %+v, err = %v", byID, err)
	}
	byName, err := Resolve(ctx, reg, "report.pdf")
	if err != nil || byName.ID != "doc:abc" {
		t.Errorf("Resolve by name: doc = %+v, err = %v", byName, err)
	}
	if _, err := Resolve(ctx, reg, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Resolve unknown: err = %v, want ErrNotFound", err)
	}
}
