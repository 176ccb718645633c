package embedding

import (
	"context"
	"hash/fnv"
	"image"
	"math"

	"github.com/hyperjump/miru/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests. Page patches are
// derived from region colors (so visually distinct pages get distinct
// vectors) and query patches from token hashes; the same input always
// produces the same embedding.
type MockEmbedder struct {
	dimensions int
	gridSize   int // spatial patches per side; total page patches = 1 + gridSize^2
}

// NewMockEmbedder returns an embedder producing deterministic embeddings of
// the given dimensions with a gridSize x gridSize spatial patch grid plus a
// global patch.
func NewMockEmbedder(dimensions, gridSize int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 128
	}
	if gridSize <= 0 {
		gridSize = 2
	}
	return &MockEmbedder{dimensions: dimensions, gridSize: gridSize}
}

// EmbedPage returns 1 + gridSize^2 vectors: the global patch from the whole
// image's mean color, then one per grid cell.
func (e *MockEmbedder) EmbedPage(ctx context.Context, img image.Image) ([][]float32, error) {
	bounds := img.Bounds()
	patches := make([][]float32, 0, 1+e.gridSize*e.gridSize)
	patches = append(patches, e.vectorFromSeed(meanColorSeed(img, bounds)))

	cellW := bounds.Dx() / e.gridSize
	cellH := bounds.Dy() / e.gridSize
	for row := 0; row < e.gridSize; row++ {
		for col := 0; col < e.gridSize; col++ {
			cell := image.Rect(
				bounds.Min.X+col*cellW,
				bounds.Min.Y+row*cellH,
				bounds.Min.X+(col+1)*cellW,
				bounds.Min.Y+(row+1)*cellH,
			)
			patches = append(patches, e.vectorFromSeed(meanColorSeed(img, cell)))
		}
	}
	return patches, nil
}

// EmbedPages calls EmbedPage for each image.
func (e *MockEmbedder) EmbedPages(ctx context.Context, imgs []image.Image) ([][][]float32, error) {
	out := make([][][]float32, len(imgs))
	for i, img := range imgs {
		patches, err := e.EmbedPage(ctx, img)
		if err != nil {
			return nil, err
		}
		out[i] = patches
	}
	return out, nil
}

// EmbedQuery returns one vector for the whole query followed by one per token.
func (e *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([][]float32, error) {
	tokens := SplitWords(text)
	vectors := make([][]float32, 0, 1+len(tokens))
	vectors = append(vectors, e.vectorFromSeed(HashString(text)))
	for _, tok := range tokens {
		vectors = append(vectors, e.vectorFromSeed(HashString(tok)))
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

func (e *MockEmbedder) vectorFromSeed(seed uint64) []float32 {
	vec := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		vec[i] = float32(math.Sin(float64(seed%100003)*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(vec)
	return vec
}

// meanColorSeed reduces a region to a seed from its quantized mean color.
// Sampling a bounded grid keeps it cheap on large pages.
func meanColorSeed(img image.Image, region image.Rectangle) uint64 {
	const samples = 8
	if region.Empty() {
		return 0
	}
	var r, g, b, n uint64
	stepX := region.Dx() / samples
	stepY := region.Dy() / samples
	if stepX == 0 {
		stepX = 1
	}
	if stepY == 0 {
		stepY = 1
	}
	for y := region.Min.Y; y < region.Max.Y; y += stepY {
		for x := region.Min.X; x < region.Max.X; x += stepX {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			r += uint64(pr >> 8)
			g += uint64(pg >> 8)
			b += uint64(pb >> 8)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	// Quantize to 4 bits per channel so anti-aliasing noise maps to the same seed.
	return ((r / n) >> 4 << 8) | ((g / n) >> 4 << 4) | ((b / n) >> 4)
}

// HashString returns a stable 64-bit hash of s.
func HashString(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	var words []string
	word := ""
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			if word != "" {
				words = append(words, word)
				word = ""
			}
		} else {
			word += string(r)
		}
	}
	if word != "" {
		words = append(words, word)
	}
	return words
}
