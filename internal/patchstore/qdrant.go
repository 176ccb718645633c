package patchstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/miru/internal/models"
)

// QdrantStore is a patch store backed by a Qdrant server over its REST API.
// One point per patch, Dot (inner product) distance, doc_id/page_number/
// patch_index in the payload. Point IDs are deterministic UUIDs derived from
// (doc_id, page_number, patch_index) so re-inserting the same page upserts
// rather than duplicating.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	dimensions int
	maxPatches int
	client     *http.Client
}

// QdrantOptions configures a QdrantStore.
type QdrantOptions struct {
	URL        string
	APIKey     string
	Collection string
	Dimensions int
	MaxPatches int
	Timeout    time.Duration
}

// NewQdrantStore creates a Qdrant-backed patch store. Call EnsureSchema
// before first use.
func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", models.ErrInvalidArgument)
	}
	if opts.URL == "" || opts.Collection == "" {
		return nil, fmt.Errorf("%w: qdrant url and collection are required", models.ErrInvalidArgument)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		dimensions: opts.Dimensions,
		maxPatches: opts.MaxPatches,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// EnsureSchema creates the collection with Dot distance and a keyword payload
// index on doc_id if they do not exist. Repeated calls are no-ops.
func (q *QdrantStore) EnsureSchema(ctx context.Context) error {
	status, _, err := q.do(ctx, http.MethodGet, "/collections/"+q.collection, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimensions,
			"distance": "Dot",
		},
	}
	if err := q.expect2xx(ctx, http.MethodPut, "/collections/"+q.collection, body); err != nil {
		return err
	}
	// Exact-match filter support for doc_id. Qdrant answers 4xx if the index
	// already exists, which is fine for idempotence.
	idx := map[string]any{"field_name": "doc_id", "field_schema": "keyword"}
	status, respBody, err := q.do(ctx, http.MethodPut, "/collections/"+q.collection+"/index?wait=true", idx)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		return nil
	}
	if strings.Contains(string(respBody), "already exists") {
		return nil
	}
	return fmt.Errorf("%w: create doc_id index: status %d: %s", models.ErrStoreUnavailable, status, respBody)
}

// InsertPage upserts the page's patches as one wait=true batch; the page is
// only searchable once Qdrant acknowledges the whole batch.
func (q *QdrantStore) InsertPage(ctx context.Context, docID string, pageNumber int, vectors [][]float32) (int, error) {
	if err := checkDimensions(vectors, q.dimensions); err != nil {
		return 0, err
	}
	vectors, _ = truncateToCap(vectors, q.maxPatches)
	points := make([]map[string]any, len(vectors))
	for i, vec := range vectors {
		points[i] = map[string]any{
			"id":     patchPointID(docID, pageNumber, i),
			"vector": vec,
			"payload": map[string]any{
				"doc_id":      docID,
				"page_number": pageNumber,
				"patch_index": i,
			},
		}
	}
	body := map[string]any{"points": points}
	path := fmt.Sprintf("/collections/%s/points?wait=true", q.collection)
	if err := q.expect2xx(ctx, http.MethodPut, path, body); err != nil {
		return 0, err
	}
	return len(vectors), nil
}

// SearchPatch runs a single-vector top-K search, optionally filtered to one
// document.
func (q *QdrantStore) SearchPatch(ctx context.Context, query []float32, topK int, docIDFilter string) ([]*Hit, error) {
	if len(query) != q.dimensions {
		return nil, fmt.Errorf("%w: query dimension %d, expected %d",
			models.ErrInvalidArgument, len(query), q.dimensions)
	}
	if topK <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       query,
		"limit":        topK,
		"with_payload": true,
	}
	if docIDFilter != "" {
		req["filter"] = docIDMatch(docIDFilter)
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", q.collection)
	if err := q.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	hits := make([]*Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hit := &Hit{Score: r.Score}
		if v, ok := r.Payload["doc_id"].(string); ok {
			hit.DocID = v
		}
		if v, ok := r.Payload["page_number"].(float64); ok {
			hit.PageNumber = int(v)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteDocument removes every patch for docID. Qdrant does not report a
// delete count, so the patches are counted first; the two calls are not
// atomic but deletion itself is idempotent.
func (q *QdrantStore) DeleteDocument(ctx context.Context, docID string) (int, error) {
	count, err := q.countFiltered(ctx, docIDMatch(docID))
	if err != nil {
		return 0, err
	}
	body := map[string]any{"filter": docIDMatch(docID)}
	path := fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collection)
	if err := q.expect2xx(ctx, http.MethodPost, path, body); err != nil {
		return 0, err
	}
	return int(count), nil
}

// Count returns the total number of stored patches.
func (q *QdrantStore) Count(ctx context.Context) (int64, error) {
	return q.countFiltered(ctx, nil)
}

// Disconnect closes idle connections. Safe to call when never connected.
func (q *QdrantStore) Disconnect() error {
	if q.client != nil {
		q.client.CloseIdleConnections()
	}
	return nil
}

func (q *QdrantStore) countFiltered(ctx context.Context, filter map[string]any) (int64, error) {
	req := map[string]any{"exact": true}
	if filter != nil {
		req["filter"] = filter
	}
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", q.collection)
	if err := q.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func docIDMatch(docID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "doc_id", "match": map[string]any{"value": docID}},
		},
	}
}

// patchPointID derives a stable UUID for a patch from its coordinates.
func patchPointID(docID string, pageNumber, patchIndex int) string {
	key := fmt.Sprintf("%s:%d:%d", docID, pageNumber, patchIndex)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// do sends one request and returns the status code and body. Transport
// failures are reported as ErrStoreUnavailable.
func (q *QdrantStore) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", models.ErrStoreUnavailable, err)
	}
	return resp.StatusCode, data, nil
}

func (q *QdrantStore) expect2xx(ctx context.Context, method, path string, body any) error {
	status, respBody, err := q.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		return nil
	}
	if status >= 400 && status < 500 {
		return fmt.Errorf("%w: qdrant %s %s: status %d: %s", models.ErrInvalidArgument, method, path, status, respBody)
	}
	return fmt.Errorf("%w: qdrant %s %s: status %d: %s", models.ErrStoreUnavailable, method, path, status, respBody)
}

func (q *QdrantStore) doJSON(ctx context.Context, method, path string, body, out any) error {
	status, respBody, err := q.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		if status >= 400 && status < 500 {
			return fmt.Errorf("%w: qdrant %s %s: status %d: %s", models.ErrInvalidArgument, method, path, status, respBody)
		}
		return fmt.Errorf("%w: qdrant %s %s: status %d: %s", models.ErrStoreUnavailable, method, path, status, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}
