//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
	"image"
)

// ONNXEmbedder stub type when built without CGO (see onnx.go for the real
// implementation).
type ONNXEmbedder struct{}

// ONNXOptions mirrors the CGO build's options so callers compile either way.
type ONNXOptions struct {
	VisionModelPath string
	TextModelPath   string
	Dimensions      int
	PagePatches     int
	MaxQueryTokens  int
	CacheSize       int
}

var errNoCGO = errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// NewONNXEmbedder returns an error when built without CGO (ONNX not available).
func NewONNXEmbedder(_ ONNXOptions) (*ONNXEmbedder, error) {
	return nil, errNoCGO
}

// EmbedPage is not implemented without CGO.
func (e *ONNXEmbedder) EmbedPage(ctx context.Context, img image.Image) ([][]float32, error) {
	return nil, errNoCGO
}

// EmbedPages is not implemented without CGO.
func (e *ONNXEmbedder) EmbedPages(ctx context.Context, imgs []image.Image) ([][][]float32, error) {
	return nil, errNoCGO
}

// EmbedQuery is not implemented without CGO.
func (e *ONNXEmbedder) EmbedQuery(ctx context.Context, text string) ([][]float32, error) {
	return nil, errNoCGO
}

// Dimensions returns 0 without CGO.
func (e *ONNXEmbedder) Dimensions() int {
	return 0
}

// Close is a no-op without CGO.
func (e *ONNXEmbedder) Close() error {
	return nil
}
