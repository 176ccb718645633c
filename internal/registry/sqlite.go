package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/miru/internal/models"
)

// SQLiteRegistry implements Registry using SQLite.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist. The same
// database file can be shared with the patch store; the tables are disjoint.
func NewSQLiteRegistry(dbPath string) (*SQLiteRegistry, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", models.ErrStoreUnavailable, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL: %v", models.ErrStoreUnavailable, err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", models.ErrStoreUnavailable, err)
	}

	return &SQLiteRegistry{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		page_count INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateDocument inserts a document. The caller is responsible for resolving
// name collisions before inserting; a conflicting name is reported as an
// invalid argument.
func (r *SQLiteRegistry) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (id, name, page_count, created_at)
		 VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Name, doc.PageCount, doc.CreatedAt,
	)
	if err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("%w: document %q already registered", models.ErrInvalidArgument, doc.Name)
		}
		return fmt.Errorf("%w: failed to store document: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// GetDocument returns a document by ID.
func (r *SQLiteRegistry) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return r.getOne(ctx, `SELECT id, name, page_count, created_at FROM documents WHERE id = ?`, id)
}

// GetDocumentByName returns a document by its exact name.
func (r *SQLiteRegistry) GetDocumentByName(ctx context.Context, name string) (*models.Document, error) {
	return r.getOne(ctx, `SELECT id, name, page_count, created_at FROM documents WHERE name = ?`, name)
}

func (r *SQLiteRegistry) getOne(ctx context.Context, query, arg string) (*models.Document, error) {
	var doc models.Document
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&doc.ID, &doc.Name, &doc.PageCount, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return &doc, nil
}

// ListDocuments returns documents ordered by creation time descending.
func (r *SQLiteRegistry) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, page_count, created_at
		 FROM documents ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.PageCount, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return docs, nil
}

// DeleteDocument removes a document by ID. Unknown IDs are a no-op.
func (r *SQLiteRegistry) DeleteDocument(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

// CountDocuments returns the total number of registered documents.
func (r *SQLiteRegistry) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return count, nil
}

// Close closes the database connection.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

// isConstraintErr matches go-sqlite3 constraint violations by message so callers
// do not need the driver's error types.
func isConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
