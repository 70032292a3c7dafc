package nn

import (
	"math"
	"math/rand"

	"github.com/djeday123/charseq/ops"
	"github.com/djeday123/charseq/tensor"
)

// Linear implements y = x @ W^T + bias
type Linear struct {
	Weight *tensor.Tensor // [outFeatures, inFeatures]
	Bias   *tensor.Tensor // [outFeatures] or nil
	InF    int
	OutF   int
}

// NewLinear creates a linear layer with Kaiming initialization.
func NewLinear(inFeatures, outFeatures int, bias bool) (*Linear, error) {
	// Kaiming He init: scale = sqrt(2 / fan_in)
	scale := math.Sqrt(2.0 / float64(inFeatures))

	wData := make([]float32, outFeatures*inFeatures)
	for i := range wData {
		wData[i] = float32(rand.NormFloat64() * scale)
	}

	w, err := tensor.FromSlice(wData, tensor.Shape{outFeatures, inFeatures})
	if err != nil {
		return nil, err
	}

	l := &Linear{Weight: w, InF: inFeatures, OutF: outFeatures}

	if bias {
		bData := make([]float32, outFeatures)
		b, err := tensor.FromSlice(bData, tensor.Shape{outFeatures})
		if err != nil {
			return nil, err
		}
		l.Bias = b
	}

	return l, nil
}

// Forward computes y = x @ W^T + bias.
// x: [n, inFeatures] → output: [n, outFeatures]
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	wT, err := l.transposedWeight()
	if err != nil {
		return nil, err
	}

	out, err := ops.MatMul(x, wT)
	if err != nil {
		return nil, err
	}

	if l.Bias != nil {
		out, err = ops.Add(out, l.Bias)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// transposedWeight materializes W^T [inF, outF] contiguously.
func (l *Linear) transposedWeight() (*tensor.Tensor, error) {
	w := l.Weight.ToFloat32Slice()
	wt := make([]float32, len(w))
	for o := 0; o < l.OutF; o++ {
		for i := 0; i < l.InF; i++ {
			wt[i*l.OutF+o] = w[o*l.InF+i]
		}
	}
	return tensor.FromSlice(wt, tensor.Shape{l.InF, l.OutF})
}

// Parameters returns all trainable parameters.
func (l *Linear) Parameters() []*tensor.Tensor {
	if l.Bias != nil {
		return []*tensor.Tensor{l.Weight, l.Bias}
	}
	return []*tensor.Tensor{l.Weight}
}
