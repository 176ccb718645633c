package embedding

import (
	"context"
	"image"
	"math"
	"testing"
)

func grayImage(shade uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	return img
}

func assertUnitNorm(t *testing.T, vec []float32) {
	t.Helper()
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(sum)-1.0) > 1e-4 {
		t.Errorf("norm = %f, want 1.0", math.Sqrt(sum))
	}
}

func TestMockEmbedder_EmbedPage(t *testing.T) {
	emb := NewMockEmbedder(16, 2)
	ctx := context.Background()

	patches, err := emb.EmbedPage(ctx, grayImage(100))
	if err != nil {
		t.Fatalf("EmbedPage failed: %v", err)
	}
	// Global patch plus 2x2 grid.
	if len(patches) != 5 {
		t.Fatalf("got %d patches, want 5", len(patches))
	}
	for i, p := range patches {
		if len(p) != 16 {
			t.Errorf("patch %d has %d dims, want 16", i, len(p))
		}
		assertUnitNorm(t, p)
	}
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	emb := NewMockEmbedder(16, 2)
	ctx := context.Background()

	a, err := emb.EmbedPage(ctx, grayImage(100))
	if err != nil {
		t.Fatal(err)
	}
	b, err := emb.EmbedPage(ctx, grayImage(100))
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("patch %d dim %d differs across runs", i, j)
			}
		}
	}
}

func TestMockEmbedder_DistinctImagesDistinctVectors(t *testing.T) {
	emb := NewMockEmbedder(16, 2)
	ctx := context.Background()

	a, _ := emb.EmbedPage(ctx, grayImage(30))
	b, _ := emb.EmbedPage(ctx, grayImage(220))
	same := true
	for j := range a[0] {
		if a[0][j] != b[0][j] {
			same = false
			break
		}
	}
	if same {
		t.Error("visually distinct pages produced identical global patches")
	}
}

func TestMockEmbedder_EmbedQuery(t *testing.T) {
	emb := NewMockEmbedder(16, 2)
	ctx := context.Background()

	vecs, err := emb.EmbedQuery(ctx, "quarterly sales report")
	if err != nil {
		t.Fatalf("EmbedQuery failed: %v", err)
	}
	// Global vector plus one per token.
	if len(vecs) != 4 {
		t.Fatalf("got %d vectors, want 4", len(vecs))
	}
	for _, v := range vecs {
		if len(v) != 16 {
			t.Errorf("vector has %d dims, want 16", len(v))
		}
		assertUnitNorm(t, v)
	}

	again, _ := emb.EmbedQuery(ctx, "quarterly sales report")
	if again[1][0] != vecs[1][0] {
		t.Error("query embedding not deterministic")
	}
}

func TestMockEmbedder_EmbedPages(t *testing.T) {
	emb := NewMockEmbedder(8, 2)
	out, err := emb.EmbedPages(context.Background(), []image.Image{grayImage(10), grayImage(200)})
	if err != nil {
		t.Fatalf("EmbedPages failed: %v", err)
	}
	if len(out) != 2 || len(out[0]) != 5 || len(out[1]) != 5 {
		t.Errorf("shape = %d pages", len(out))
	}
}

func TestMockEmbedder_DefaultsOnBadArgs(t *testing.T) {
	emb := NewMockEmbedder(0, 0)
	if emb.Dimensions() != 128 {
		t.Errorf("dimensions = %d, want 128", emb.Dimensions())
	}
	patches, err := emb.EmbedPage(context.Background(), grayImage(50))
	if err != nil {
		t.Fatal(err)
	}
	if len(patches) != 5 {
		t.Errorf("got %d patches with default grid, want 5", len(patches))
	}
}

func TestSplitWords(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"one", 1},
		{"two words", 2},
		{"  padded \t words \n here ", 3},
	}
	for _, c := range cases {
		if got := SplitWords(c.in); len(got) != c.want {
			t.Errorf("SplitWords(%q) = %v, want %d words", c.in, got, c.want)
		}
	}
}

func TestHashString_Stable(t *testing.T) {
	if HashString("abc") != HashString("abc") {
		t.Error("hash not stable")
	}
	if HashString("abc") == HashString("abd") {
		t.Error("distinct strings collided")
	}
}
