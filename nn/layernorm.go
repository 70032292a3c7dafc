package nn

import (
	"math"

	"github.com/djeday123/charseq/tensor"
)

// LayerNorm implements layer normalization over the last axis.
type LayerNorm struct {
	Gamma *tensor.Tensor // [normSize] scale
	Beta  *tensor.Tensor // [normSize] shift
	Eps   float64
}

// NewLayerNorm creates a layer norm with gamma=1, beta=0.
func NewLayerNorm(normSize int, eps float64) (*LayerNorm, error) {
	gData := make([]float32, normSize)
	for i := range gData {
		gData[i] = 1
	}
	gamma, err := tensor.FromSlice(gData, tensor.Shape{normSize})
	if err != nil {
		return nil, err
	}

	beta, err := tensor.FromSlice(make([]float32, normSize), tensor.Shape{normSize})
	if err != nil {
		return nil, err
	}

	return &LayerNorm{Gamma: gamma, Beta: beta, Eps: eps}, nil
}

// Forward applies layer normalization.
// x: [..., normSize] → same shape
func (ln *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	xData := x.ToFloat32Slice()
	gammaData := ln.Gamma.ToFloat32Slice()
	betaData := ln.Beta.ToFloat32Slice()

	normSize := len(gammaData)
	batchSize := x.NumElements() / normSize

	out := make([]float32, len(xData))
	for b := 0; b < batchSize; b++ {
		off := b * normSize

		mean := float32(0)
		for i := 0; i < normSize; i++ {
			mean += xData[off+i]
		}
		mean /= float32(normSize)

		variance := float32(0)
		for i := 0; i < normSize; i++ {
			d := xData[off+i] - mean
			variance += d * d
		}
		variance /= float32(normSize)
		invStd := float32(1.0 / math.Sqrt(float64(variance)+ln.Eps))

		for i := 0; i < normSize; i++ {
			out[off+i] = (xData[off+i]-mean)*invStd*gammaData[i] + betaData[i]
		}
	}
	return tensor.FromSlice(out, x.Shape())
}

// Parameters returns trainable parameters.
func (ln *LayerNorm) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{ln.Gamma, ln.Beta}
}
