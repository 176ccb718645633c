package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/miru/internal/models"
)

// FileStore keeps the original document bytes on disk, one file per document
// keyed by document ID. The bytes are the source of truth for re-ingestion, so
// content hashes are always recomputed from the file rather than cached.
type FileStore struct {
	dir string
}

// NewFileStore creates the store directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create documents directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// path maps docID to its on-disk file. The ID is used as a bare file name;
// path components inside it are never honored.
func (f *FileStore) path(docID string) string {
	return filepath.Join(f.dir, filepath.Base(docID)+".pdf")
}

// Save writes the document bytes for docID, replacing any previous copy.
func (f *FileStore) Save(docID string, data []byte) error {
	if err := os.WriteFile(f.path(docID), data, 0644); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// Load returns the stored bytes for docID.
func (f *FileStore) Load(docID string) ([]byte, error) {
	data, err := os.ReadFile(f.path(docID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return data, nil
}

// Remove deletes the stored bytes for docID. Unknown IDs are a no-op.
func (f *FileStore) Remove(docID string) error {
	err := os.Remove(f.path(docID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove document: %w", err)
	}
	return nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing or inaccessible paths are skipped (contribute 0); errors during walk are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if info.IsDir() {
			n, err := dirSize(p)
			if err != nil {
				return 0, err
			}
			total += n
		} else {
			total += info.Size()
		}
	}
	return total, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info != nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
