//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	xdraw "golang.org/x/image/draw"

	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/pkg/utils"
)

// Vision encoder input geometry. Pages are resized to a square canvas; the
// model emits one global patch plus one vector per spatial patch.
const (
	visionInputSize = 448
	visionChannels  = 3
)

// ONNXOptions configures an ONNXEmbedder.
type ONNXOptions struct {
	// VisionModelPath is the page encoder; TextModelPath the query encoder.
	VisionModelPath string
	TextModelPath   string
	Dimensions      int
	// PagePatches is the patch count the vision model emits per page
	// (including the global patch).
	PagePatches    int
	MaxQueryTokens int
	CacheSize      int
}

// ONNXEmbedder runs a late-interaction vision/text encoder pair with ONNX
// Runtime. Requires CGO and the onnxruntime shared library.
type ONNXEmbedder struct {
	dimensions     int
	pagePatches    int
	maxQueryTokens int
	cache          *QueryCache
	tokenizer      Tokenizer

	// Pre-allocated tensors; data is overwritten per Run().
	visionSession *ort.AdvancedSession
	pixelTensor   *ort.Tensor[float32]
	visionOutput  *ort.Tensor[float32]

	textSession   *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	textOutput    *ort.Tensor[float32]

	mu sync.Mutex
}

// NewONNXEmbedder creates an ONNX embedder. InitializeEnvironment is called
// if not already done. Model load failures are reported as
// models.ErrEmbeddingUnavailable.
func NewONNXEmbedder(opts ONNXOptions) (*ONNXEmbedder, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: initialize ONNX runtime: %v", models.ErrEmbeddingUnavailable, err)
	}
	e := &ONNXEmbedder{
		dimensions:     opts.Dimensions,
		pagePatches:    opts.PagePatches,
		maxQueryTokens: opts.MaxQueryTokens,
		cache:          NewQueryCache(opts.CacheSize),
		tokenizer:      &SimpleTokenizer{},
	}

	pixelData := make([]float32, visionChannels*visionInputSize*visionInputSize)
	pixelTensor, err := ort.NewTensor(
		ort.NewShape(1, visionChannels, visionInputSize, visionInputSize), pixelData)
	if err != nil {
		return nil, fmt.Errorf("%w: create pixel tensor: %v", models.ErrEmbeddingUnavailable, err)
	}
	visionOut := make([]float32, opts.PagePatches*opts.Dimensions)
	visionOutput, err := ort.NewTensor(
		ort.NewShape(1, int64(opts.PagePatches), int64(opts.Dimensions)), visionOut)
	if err != nil {
		pixelTensor.Destroy()
		return nil, fmt.Errorf("%w: create vision output tensor: %v", models.ErrEmbeddingUnavailable, err)
	}
	visionSession, err := ort.NewAdvancedSession(
		opts.VisionModelPath,
		[]string{"pixel_values"},
		[]string{"patch_embeddings"},
		[]ort.ArbitraryTensor{pixelTensor},
		[]ort.ArbitraryTensor{visionOutput},
		nil,
	)
	if err != nil {
		pixelTensor.Destroy()
		visionOutput.Destroy()
		return nil, fmt.Errorf("%w: load vision model: %v", models.ErrEmbeddingUnavailable, err)
	}
	e.visionSession = visionSession
	e.pixelTensor = pixelTensor
	e.visionOutput = visionOutput

	ids, mask, _ := e.tokenizer.Tokenize("", opts.MaxQueryTokens)
	inputIDs, err := ort.NewTensor(ort.NewShape(1, int64(opts.MaxQueryTokens)), ids)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("%w: create input_ids tensor: %v", models.ErrEmbeddingUnavailable, err)
	}
	attentionMask, err := ort.NewTensor(ort.NewShape(1, int64(opts.MaxQueryTokens)), mask)
	if err != nil {
		inputIDs.Destroy()
		e.Close()
		return nil, fmt.Errorf("%w: create attention_mask tensor: %v", models.ErrEmbeddingUnavailable, err)
	}
	textOut := make([]float32, opts.MaxQueryTokens*opts.Dimensions)
	textOutput, err := ort.NewTensor(
		ort.NewShape(1, int64(opts.MaxQueryTokens), int64(opts.Dimensions)), textOut)
	if err != nil {
		inputIDs.Destroy()
		attentionMask.Destroy()
		e.Close()
		return nil, fmt.Errorf("%w: create text output tensor: %v", models.ErrEmbeddingUnavailable, err)
	}
	textSession, err := ort.NewAdvancedSession(
		opts.TextModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"token_embeddings"},
		[]ort.ArbitraryTensor{inputIDs, attentionMask},
		[]ort.ArbitraryTensor{textOutput},
		nil,
	)
	if err != nil {
		inputIDs.Destroy()
		attentionMask.Destroy()
		textOutput.Destroy()
		e.Close()
		return nil, fmt.Errorf("%w: load text model: %v", models.ErrEmbeddingUnavailable, err)
	}
	e.textSession = textSession
	e.inputIDs = inputIDs
	e.attentionMask = attentionMask
	e.textOutput = textOutput
	return e, nil
}

// EmbedPage resizes the page onto the model canvas and returns one vector per
// emitted patch.
func (e *ONNXEmbedder) EmbedPage(ctx context.Context, img image.Image) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fillPixelData(e.pixelTensor.GetData(), img)
	if err := e.visionSession.Run(); err != nil {
		return nil, fmt.Errorf("%w: vision inference: %v", models.ErrEmbeddingUnavailable, err)
	}
	out := e.visionOutput.GetData()
	patches := make([][]float32, e.pagePatches)
	for p := 0; p < e.pagePatches; p++ {
		vec := make([]float32, e.dimensions)
		copy(vec, out[p*e.dimensions:(p+1)*e.dimensions])
		utils.NormalizeL2(vec)
		patches[p] = vec
	}
	return patches, nil
}

// EmbedPages calls EmbedPage for each image.
func (e *ONNXEmbedder) EmbedPages(ctx context.Context, imgs []image.Image) ([][][]float32, error) {
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

// EmbedQuery returns one vector per attended query token, using the cache
// when available.
func (e *ONNXEmbedder) EmbedQuery(ctx context.Context, text string) ([][]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ids, mask, _ := e.tokenizer.Tokenize(text, e.maxQueryTokens)
	copy(e.inputIDs.GetData(), ids)
	copy(e.attentionMask.GetData(), mask)
	if err := e.textSession.Run(); err != nil {
		return nil, fmt.Errorf("%w: text inference: %v", models.ErrEmbeddingUnavailable, err)
	}

	out := e.textOutput.GetData()
	var vectors [][]float32
	for t := 0; t < e.maxQueryTokens; t++ {
		if mask[t] == 0 {
			continue
		}
		vec := make([]float32, e.dimensions)
		copy(vec, out[t*e.dimensions:(t+1)*e.dimensions])
		utils.NormalizeL2(vec)
		vectors = append(vectors, vec)
	}
	e.cache.Set(text, vectors)
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the sessions and tensors.
func (e *ONNXEmbedder) Close() error {
	var err error
	if e.visionSession != nil {
		err = e.visionSession.Destroy()
		e.visionSession = nil
	}
	if e.textSession != nil {
		if derr := e.textSession.Destroy(); err == nil {
			err = derr
		}
		e.textSession = nil
	}
	if e.pixelTensor != nil {
		_ = e.pixelTensor.Destroy()
		e.pixelTensor = nil
	}
	if e.visionOutput != nil {
		_ = e.visionOutput.Destroy()
		e.visionOutput = nil
	}
	if e.inputIDs != nil {
		_ = e.inputIDs.Destroy()
		e.inputIDs = nil
	}
	if e.attentionMask != nil {
		_ = e.attentionMask.Destroy()
		e.attentionMask = nil
	}
	if e.textOutput != nil {
		_ = e.textOutput.Destroy()
		e.textOutput = nil
	}
	return err
}

// fillPixelData resizes img to the model canvas and writes CHW pixel values
// normalized to [-1, 1].
func fillPixelData(dst []float32, img image.Image) {
	resized := image.NewRGBA(image.Rect(0, 0, visionInputSize, visionInputSize))
	xdraw.ApproxBiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	plane := visionInputSize * visionInputSize
	for y := 0; y < visionInputSize; y++ {
		for x := 0; x < visionInputSize; x++ {
			i := y*visionInputSize + x
			r, g, b, _ := resized.At(x, y).RGBA()
			dst[i] = float32(r>>8)/127.5 - 1
			dst[plane+i] = float32(g>>8)/127.5 - 1
			dst[2*plane+i] = float32(b>>8)/127.5 - 1
		}
	}
}
