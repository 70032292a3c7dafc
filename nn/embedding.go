package nn

import (
	"fmt"
	"math/rand"

	"github.com/djeday123/charseq/tensor"
)

// Embedding is a lookup table for token embeddings.
type Embedding struct {
	Weight    *tensor.Tensor // [vocabSize, embedDim]
	VocabSize int
	EmbedDim  int
}

// NewEmbedding creates an embedding layer with normal initialization.
func NewEmbedding(vocabSize, embedDim int) (*Embedding, error) {
	data := make([]float32, vocabSize*embedDim)
	for i := range data {
		data[i] = float32(rand.NormFloat64() * 0.02)
	}

	w, err := tensor.FromSlice(data, tensor.Shape{vocabSize, embedDim})
	if err != nil {
		return nil, err
	}
	return &Embedding{Weight: w, VocabSize: vocabSize, EmbedDim: embedDim}, nil
}

// Forward looks up embeddings for given token indices.
// indices: [n] (int64) → output: [n, embedDim]
func (e *Embedding) Forward(indices *tensor.Tensor) (*tensor.Tensor, error) {
	n := indices.NumElements()
	iData := indices.ToInt64Slice()
	wData := e.Weight.ToFloat32Slice()

	out := make([]float32, n*e.EmbedDim)
	for s := 0; s < n; s++ {
		idx := int(iData[s])
		if idx < 0 || idx >= e.VocabSize {
			return nil, fmt.Errorf("embedding index %d out of range [0, %d)", idx, e.VocabSize)
		}
		copy(out[s*e.EmbedDim:(s+1)*e.EmbedDim], wData[idx*e.EmbedDim:(idx+1)*e.EmbedDim])
	}
	return tensor.FromSlice(out, tensor.Shape{n, e.EmbedDim})
}

// Parameters returns trainable parameters.
func (e *Embedding) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{e.Weight}
}
