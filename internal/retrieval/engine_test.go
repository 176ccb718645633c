package retrieval

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/internal/patchstore"
	"github.com/hyperjump/miru/internal/registry"
)

const testDims = 16

func newMemStore(t *testing.T) *patchstore.MemoryStore {
	t.Helper()
	store, err := patchstore.NewMemoryStore(testDims, 0)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	return store
}

func testRetrievalConfig() *config.RetrievalConfig {
	return &config.RetrievalConfig{
		DefaultTopK: 10,
		MaxTopK:     100,
		CandidateK:  100,
	}
}

func solidImage(c uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = c
	}
	return img
}

// indexPage embeds a solid-color page and stores its patches.
func indexPage(t *testing.T, store patchstore.Store, emb embedding.Embedder, docID string, page int, shade uint8) {
	t.Helper()
	vectors, err := emb.EmbedPage(context.Background(), solidImage(shade))
	if err != nil {
		t.Fatalf("EmbedPage failed: %v", err)
	}
	if _, err := store.InsertPage(context.Background(), docID, page, vectors); err != nil {
		t.Fatalf("InsertPage failed: %v", err)
	}
}

func TestEngine_Retrieve(t *testing.T) {
	store := newMemStore(t)
	emb := embedding.NewMockEmbedder(testDims, 2)
	engine := NewEngine(store, nil, emb, testRetrievalConfig())

	indexPage(t, store, emb, "doc:aaa", 1, 40)
	indexPage(t, store, emb, "doc:aaa", 2, 200)
	indexPage(t, store, emb, "doc:bbb", 1, 120)

	resp, err := engine.Retrieve(context.Background(), &models.RetrieveRequest{Query: "quarterly revenue chart"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Results))
	}
	for i, r := range resp.Results {
		if r.Rank != i+1 {
			t.Errorf("result %d has rank %d", i, r.Rank)
		}
		if i > 0 && r.Score > resp.Results[i-1].Score {
			t.Errorf("results not sorted: %f after %f", r.Score, resp.Results[i-1].Score)
		}
	}
	if resp.Query != "quarterly revenue chart" {
		t.Errorf("response query = %q", resp.Query)
	}
}

func TestEngine_RetrieveTopKLimit(t *testing.T) {
	store := newMemStore(t)
	emb := embedding.NewMockEmbedder(testDims, 2)
	engine := NewEngine(store, nil, emb, testRetrievalConfig())

	for page := 1; page <= 5; page++ {
		indexPage(t, store, emb, "doc:aaa", page, uint8(page*40))
	}

	resp, err := engine.Retrieve(context.Background(), &models.RetrieveRequest{Query: "invoice", TopK: 2})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Errorf("got %d results, want 2", len(resp.Results))
	}
}

func TestEngine_RetrieveDeterministic(t *testing.T) {
	store := newMemStore(t)
	emb := embedding.NewMockEmbedder(testDims, 2)
	engine := NewEngine(store, nil, emb, testRetrievalConfig())

	// Three identical pages force exact score ties; insertion order differs
	// from the (docID, page) tie-break order on purpose.
	indexPage(t, store, emb, "doc:bbb", 2, 128)
	indexPage(t, store, emb, "doc:aaa", 2, 128)
	indexPage(t, store, emb, "doc:aaa", 1, 128)
	indexPage(t, store, emb, "doc:ccc", 1, 64)

	first, err := engine.Retrieve(context.Background(), &models.RetrieveRequest{Query: "annual report figures"})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(first.Results) != 4 {
		t.Fatalf("got %d results, want 4", len(first.Results))
	}
	for run := 0; run < 5; run++ {
		resp, err := engine.Retrieve(context.Background(), &models.RetrieveRequest{Query: "annual report figures"})
		if err != nil {
			t.Fatalf("run %d: Retrieve failed: %v", run, err)
		}
		if !reflect.DeepEqual(resp.Results, first.Results) {
			t.Fatalf("run %d returned a different ordering:\n%+v\nvs\n%+v", run, resp.Results, first.Results)
		}
	}

	// The tied pages rank by document ID then page number.
	pos := func(docID string, page int) int {
		for i, r := range first.Results {
			if r.DocID == docID && r.PageNumber == page {
				return i
			}
		}
		t.Fatalf("missing result %s page %d", docID, page)
		return -1
	}
	a1, a2, b2 := pos("doc:aaa", 1), pos("doc:aaa", 2), pos("doc:bbb", 2)
	if a1 >= a2 || a2 >= b2 {
		t.Errorf("tied pages out of order: positions %d, %d, %d", a1, a2, b2)
	}
}

func TestEngine_RetrieveEmptyQuery(t *testing.T) {
	store := newMemStore(t)
	engine := NewEngine(store, nil, embedding.NewMockEmbedder(testDims, 2), testRetrievalConfig())

	for _, query := range []string{"", "   ", "\t\n"} {
		_, err := engine.Retrieve(context.Background(), &models.RetrieveRequest{Query: query})
		if !errors.Is(err, models.ErrInvalidArgument) {
			t.Errorf("query %q: err = %v, want ErrInvalidArgument", query, err)
		}
	}
}

func TestEngine_RetrieveEmptyStore(t *testing.T) {
	store := newMemStore(t)
	engine := NewEngine(store, nil, embedding.NewMockEmbedder(testDims, 2), testRetrievalConfig())

	resp, err := engine.Retrieve(context.Background(), &models.RetrieveRequest{Query: "anything"})
	if err != nil {
		t.Fatalf("Retrieve on empty store failed: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("got %d results, want 0", len(resp.Results))
	}
}

func TestEngine_RetrieveUnknownDocFilter(t *testing.T) {
	dir := t.TempDir()
	reg, err := registry.NewSQLiteRegistry(filepath.Join(dir, "registry.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRegistry failed: %v", err)
	}
	defer reg.Close()

	store := newMemStore(t)
	engine := NewEngine(store, reg, embedding.NewMockEmbedder(testDims, 2), testRetrievalConfig())

	_, err = engine.Retrieve(context.Background(), &models.RetrieveRequest{
		Query: "anything",
		DocID: "doc:does-not-exist",
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestEngine_RetrieveDocFilter(t *testing.T) {
	store := newMemStore(t)
	emb := embedding.NewMockEmbedder(testDims, 2)
	engine := NewEngine(store, nil, emb, testRetrievalConfig())

	indexPage(t, store, emb, "doc:aaa", 1, 60)
	indexPage(t, store, emb, "doc:bbb", 1, 180)

	resp, err := engine.Retrieve(context.Background(), &models.RetrieveRequest{
		Query: "report",
		DocID: "doc:bbb",
	})
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(resp.Results))
	}
	if resp.Results[0].DocID != "doc:bbb" {
		t.Errorf("result doc = %q, want doc:bbb", resp.Results[0].DocID)
	}
}

// failingStore returns an error from every patch probe.
type failingStore struct {
	patchstore.Store
}

func (s *failingStore) SearchPatch(ctx context.Context, query []float32, topK int, docIDFilter string) ([]*patchstore.Hit, error) {
	return nil, errors.New("probe exploded")
}

func TestEngine_RetrieveProbeFailureAborts(t *testing.T) {
	store := &failingStore{Store: newMemStore(t)}
	engine := NewEngine(store, nil, embedding.NewMockEmbedder(testDims, 2), testRetrievalConfig())

	_, err := engine.Retrieve(context.Background(), &models.RetrieveRequest{Query: "anything"})
	if err == nil {
		t.Fatal("expected error from failing probes")
	}
}

func TestEngine_PatchCount(t *testing.T) {
	store := newMemStore(t)
	emb := embedding.NewMockEmbedder(testDims, 2)
	engine := NewEngine(store, nil, emb, testRetrievalConfig())

	indexPage(t, store, emb, "doc:aaa", 1, 90)

	count, err := engine.PatchCount(context.Background())
	if err != nil {
		t.Fatalf("PatchCount failed: %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
}
