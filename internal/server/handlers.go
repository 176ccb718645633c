package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/ingest"
	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/internal/registry"
)

// maxUploadBytes caps multipart ingest uploads.
const maxUploadBytes = 128 << 20

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	input := &models.IngestInput{
		DocID: r.FormValue("doc_id"),
		Name:  header.Filename,
		Data:  data,
	}
	if name := r.FormValue("name"); name != "" {
		input.Name = name
	}
	if v := r.FormValue("dpi"); v != "" {
		input.DPI, _ = strconv.Atoi(v)
	}
	if v := r.FormValue("max_pages"); v != "" {
		input.MaxPages, _ = strconv.Atoi(v)
	}

	s.logger.Debug("ingest request", zap.String("name", input.Name), zap.Int("bytes", len(data)))
	result, err := s.pipeline.IngestDocument(r.Context(), input)
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, result)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req models.RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))
	response, err := s.engine.Retrieve(r.Context(), &req)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	q := r.URL.Query().Get("q")
	if q == "" || s.names == nil {
		docs, err := s.registry.ListDocuments(ctx, offset, limit)
		if err != nil {
			s.respondError(w, statusForError(err), err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
		return
	}

	hits, err := s.names.Search(ctx, q, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	docs := make([]*models.Document, 0, len(hits))
	for _, hit := range hits {
		doc, err := s.registry.GetDocument(ctx, hit.ID)
		if err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	idOrName := chi.URLParam(r, "id")
	doc, err := registry.Resolve(r.Context(), s.registry, idOrName)
	if err != nil {
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	idOrName := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", idOrName))

	docID := idOrName
	doc, err := registry.Resolve(r.Context(), s.registry, idOrName)
	if err == nil {
		docID = doc.ID
	} else if !errors.Is(err, models.ErrNotFound) || !strings.HasPrefix(idOrName, ingest.IDPrefix) {
		// Unknown names cannot be resolved; a raw doc ID deletes as a no-op.
		s.respondError(w, statusForError(err), err.Error())
		return
	}

	removed, err := s.pipeline.DeleteDocument(r.Context(), docID)
	if err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"doc_id":          docID,
		"patches_deleted": removed,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.registry.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	patchCount, err := s.engine.PatchCount(ctx)
	if err != nil {
		s.logger.Error("status: count patches failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	resp := map[string]interface{}{
		"documents": docCount,
		"patches":   patchCount,
	}
	resp["config"] = map[string]interface{}{
		"backend":              s.config.Storage.Backend,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"max_patches_per_page": s.config.Embedding.MaxPatchesPerPage,
		"candidate_k":          s.config.Retrieval.CandidateK,
		"database_path":        s.config.Storage.DatabasePath,
		"documents_dir":        s.config.Storage.DocumentsDir,
		"name_index_path":      s.config.Storage.NameIndexPath,
	}
	diskBytes, err := registry.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.DocumentsDir,
		s.config.Storage.NameIndexPath,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	s.config.Watch.Directories = s.watch.Directories()
	err := config.Save(s.configPath, s.config)
	s.configMu.Unlock()
	if err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case models.IsInvalidInput(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case models.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
