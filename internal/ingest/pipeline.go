// Package ingest provides document ingestion into the patch store and registry.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/internal/patchstore"
	"github.com/hyperjump/miru/internal/raster"
	"github.com/hyperjump/miru/internal/registry"
)

// Pipeline ingests documents: rasterize pages, embed patches, store vectors,
// then register the document. A page is stored atomically; a failure on any
// page rolls back everything already stored for the document, so the patch
// store never holds a partially ingested document.
type Pipeline struct {
	store      patchstore.Store
	registry   registry.Registry
	files      *registry.FileStore
	names      *registry.NameIndex
	rasterizer raster.Rasterizer
	embedder   embedding.Embedder
	config     *config.IngestConfig
	logger     *zap.Logger // optional; when set, logs debug events
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets a logger for debug output (document ingested, rolled back, etc.).
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// NewPipeline creates an ingestion pipeline with the given dependencies.
// files and names may be nil; when nil, original bytes are not kept and
// fuzzy name lookup is not maintained.
func NewPipeline(
	store patchstore.Store,
	reg registry.Registry,
	files *registry.FileStore,
	names *registry.NameIndex,
	rasterizer raster.Rasterizer,
	embedder embedding.Embedder,
	cfg *config.IngestConfig,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		store:      store,
		registry:   reg,
		files:      files,
		names:      names,
		rasterizer: rasterizer,
		embedder:   embedder,
		config:     cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IngestDocument ingests a document from raw bytes. The document ID is
// derived from the content unless input.DocID pins it, so unchanged content
// re-ingests onto the same ID. A previous document with the same ID or the
// same name is replaced, but only once the new version has rasterized and
// embedded cleanly; a bad upload leaves the old version untouched. The
// registry entry is written only after every page's patches are committed; on
// any failure everything stored for the document is rolled back and the root
// cause is returned.
func (p *Pipeline) IngestDocument(ctx context.Context, input *models.IngestInput) (*models.IngestResult, error) {
	name := input.Name
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: document name must not be empty", models.ErrInvalidArgument)
	}
	if len(input.Data) == 0 {
		return nil, fmt.Errorf("%w: empty document", models.ErrInvalidDocument)
	}

	docID := input.DocID
	if docID == "" {
		docID = DocID(input.Data)
	} else if err := validateDocID(docID); err != nil {
		return nil, err
	}
	runID := uuid.New().String()
	if p.logger != nil {
		p.logger.Debug("ingest starting",
			zap.String("run_id", runID),
			zap.String("name", name),
			zap.String("doc_id", docID))
	}

	dpi := p.config.DPI
	if input.DPI > 0 {
		dpi = input.DPI
	}
	maxPages := p.config.MaxPages
	if input.MaxPages > 0 {
		maxPages = input.MaxPages
	}
	pages, err := p.rasterizer.Rasterize(ctx, input.Data, dpi, maxPages)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize document: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: document has no pages", models.ErrInvalidDocument)
	}

	// Embed every page before touching stored state, so a corrupt upload or
	// an unavailable embedder cannot destroy a previous version of this
	// document. Nothing below writes until all embeddings are in hand.
	embedded := make([][][]float32, len(pages))
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vectors, err := p.embedder.EmbedPage(ctx, page.Image)
		if err != nil {
			return nil, fmt.Errorf("failed to embed page %d: %w", page.Number, err)
		}
		embedded[i] = vectors
	}

	if err := p.replaceExisting(ctx, docID, name); err != nil {
		return nil, err
	}

	result := &models.IngestResult{DocID: docID, Name: name}
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, p.rollback(ctx, docID, runID, err)
		}
		stored, err := p.store.InsertPage(ctx, docID, page.Number, embedded[i])
		if err != nil {
			return nil, p.rollback(ctx, docID, runID, fmt.Errorf("failed to store page %d: %w", page.Number, err))
		}
		result.PagesIndexed++
		result.PatchesStored += stored
		result.PatchesTruncated += len(embedded[i]) - stored
	}

	if result.PatchesTruncated > 0 && p.logger != nil {
		p.logger.Warn("patches truncated at page cap",
			zap.String("run_id", runID),
			zap.String("doc_id", docID),
			zap.Int("truncated", result.PatchesTruncated))
	}

	if p.files != nil {
		if err := p.files.Save(docID, input.Data); err != nil {
			return nil, p.rollback(ctx, docID, runID, err)
		}
	}
	doc := &models.Document{ID: docID, Name: name, PageCount: result.PagesIndexed}
	if err := p.registry.CreateDocument(ctx, doc); err != nil {
		return nil, p.rollback(ctx, docID, runID, err)
	}
	if p.names != nil {
		if err := p.names.Index(ctx, docID, name); err != nil {
			return nil, p.rollback(ctx, docID, runID, fmt.Errorf("failed to index name: %w", err))
		}
	}

	if p.logger != nil {
		p.logger.Debug("ingest finished",
			zap.String("run_id", runID),
			zap.String("doc_id", docID),
			zap.Int("pages", result.PagesIndexed),
			zap.Int("patches", result.PatchesStored),
			zap.Int("truncated", result.PatchesTruncated))
	}
	return result, nil
}

// replaceExisting removes any previous document occupying this ID or name.
// Re-ingesting a renamed or modified file replaces the earlier version.
// Called only after the replacement has fully embedded, so the earlier
// version survives any failure up to that point.
func (p *Pipeline) replaceExisting(ctx context.Context, docID, name string) error {
	if old, err := p.registry.GetDocumentByName(ctx, name); err == nil && old.ID != docID {
		if _, err := p.DeleteDocument(ctx, old.ID); err != nil {
			return fmt.Errorf("failed to replace document %q: %w", name, err)
		}
	}
	_, err := p.DeleteDocument(ctx, docID)
	return err
}

// validateDocID rejects explicit document IDs that cannot serve as a safe
// file name component. The ID names the stored copy on disk, so anything
// resembling a path is refused outright.
func validateDocID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: document ID must not be blank", models.ErrInvalidArgument)
	}
	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: document ID must not contain path separators", models.ErrInvalidArgument)
	}
	return nil
}

// rollback removes everything stored for docID and returns cause. Cleanup
// runs on a fresh context so cancellation of the ingest does not strand
// partial state.
func (p *Pipeline) rollback(ctx context.Context, docID, runID string, cause error) error {
	cleanupCtx := context.WithoutCancel(ctx)
	removed, err := p.store.DeleteDocument(cleanupCtx, docID)
	_ = p.registry.DeleteDocument(cleanupCtx, docID)
	if p.names != nil {
		_ = p.names.Delete(cleanupCtx, docID)
	}
	if p.files != nil {
		_ = p.files.Remove(docID)
	}
	if p.logger != nil {
		p.logger.Debug("ingest rolled back",
			zap.String("run_id", runID),
			zap.String("doc_id", docID),
			zap.Int("patches_removed", removed),
			zap.NamedError("cleanup_error", err),
			zap.Error(cause))
	}
	return cause
}

// DeleteDocument removes a document from the patch store, registry, name
// index, and file store, returning the number of patches removed. Deleting
// an unknown document is a no-op.
func (p *Pipeline) DeleteDocument(ctx context.Context, docID string) (int, error) {
	removed, err := p.store.DeleteDocument(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete patches: %w", err)
	}
	if p.names != nil {
		if err := p.names.Delete(ctx, docID); err != nil {
			return removed, fmt.Errorf("failed to delete from name index: %w", err)
		}
	}
	if err := p.registry.DeleteDocument(ctx, docID); err != nil {
		return removed, err
	}
	if p.files != nil {
		if err := p.files.Remove(docID); err != nil {
			return removed, err
		}
	}
	if p.logger != nil {
		p.logger.Debug("document deleted", zap.String("doc_id", docID), zap.Int("patches_removed", removed))
	}
	return removed, nil
}

// IngestFile reads a file from path and ingests it. The document name is the
// file's base name. If allowedExts is non-nil and non-empty, the file's
// extension must be in the list (case-insensitive).
func (p *Pipeline) IngestFile(ctx context.Context, path string, allowedExts []string) (*models.IngestResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return nil, fmt.Errorf("%w: extension %q not in allowed list", models.ErrInvalidArgument, ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", models.ErrInvalidArgument, absPath)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return p.IngestDocument(ctx, &models.IngestInput{Name: filepath.Base(absPath), Data: data})
}

// IngestDirectory walks dir recursively and ingests each regular file whose
// extension is in allowedExts (if non-nil and non-empty; otherwise all files).
// Returns the number of files ingested and the first error encountered, if any.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string, allowedExts []string) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
			return nil
		}
		// Resolve symlinks so we only ingest regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil {
			return nil
		}
		if !finfo.Mode().IsRegular() {
			return nil
		}
		if _, ingestErr := p.IngestFile(ctx, path, allowedExts); ingestErr != nil {
			return ingestErr
		}
		n++
		return nil
	})
	return n, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
