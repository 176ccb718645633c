// Package registry defines the persistence interface for document metadata.
package registry

import (
	"context"

	"github.com/hyperjump/miru/internal/models"
)

// Registry defines document metadata persistence operations.
// Document IDs are content hashes; names are unique across the registry.
type Registry interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByName(ctx context.Context, name string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	// DeleteDocument removes a document by ID. Deleting an unknown ID is a no-op.
	DeleteDocument(ctx context.Context, id string) error

	CountDocuments(ctx context.Context) (int64, error)

	Close() error
}

// Resolve returns the document matching idOrName, trying ID first and then
// the exact name. Returns models.ErrNotFound when neither matches.
func Resolve(ctx context.Context, reg Registry, idOrName string) (*models.Document, error) {
	if doc, err := reg.GetDocument(ctx, idOrName); err == nil {
		return doc, nil
	}
	return reg.GetDocumentByName(ctx, idOrName)
}
