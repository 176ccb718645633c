package registry

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/miru/internal/models"
)

func TestFileStore_SaveLoadRemove(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	data := []byte("%PDF-1.4 fake")
	if err := fs.Save("doc:abc", data); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := fs.Load("doc:abc")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("loaded %q, want %q", got, data)
	}

	// Save replaces.
	if err := fs.Save("doc:abc", []byte("v2")); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	got, _ = fs.Load("doc:abc")
	if string(got) != "v2" {
		t.Errorf("loaded %q after replace, want v2", got)
	}

	if err := fs.Remove("doc:abc"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := fs.Load("doc:abc"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Load after remove: err = %v, want ErrNotFound", err)
	}
}

func TestFileStore_IDNeverEscapesDir(t *testing.T) {
	parent := t.TempDir()
	fs, err := NewFileStore(filepath.Join(parent, "docs"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := fs.Save("../breakout", []byte("x")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(parent, "breakout.pdf")); !os.IsNotExist(err) {
		t.Errorf("file landed outside the store dir: stat err = %v", err)
	}
	// The path components are stripped, so the file lives under the dir.
	if _, err := os.Stat(filepath.Join(parent, "docs", "breakout.pdf")); err != nil {
		t.Errorf("stored file missing: %v", err)
	}
	if err := fs.Remove("../breakout"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
}

func TestFileStore_RemoveUnknownIsNoop(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := fs.Remove("doc:nope"); err != nil {
		t.Errorf("Remove of unknown ID: %v", err)
	}
}

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := fs.Save("doc:a", make([]byte, 100)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := fs.Save("doc:b", make([]byte, 50)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	total, err := DiskUsageBytes(dir)
	if err != nil {
		t.Fatalf("DiskUsageBytes failed: %v", err)
	}
	if total != 150 {
		t.Errorf("total = %d, want 150", total)
	}

	total, err = DiskUsageBytes(dir, "/does/not/exist", "")
	if err != nil {
		t.Fatalf("DiskUsageBytes with missing path failed: %v", err)
	}
	if total != 150 {
		t.Errorf("total with missing path = %d, want 150", total)
	}
}
