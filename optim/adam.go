package optim

import (
	"math"

	"github.com/djeday123/charseq/tensor"
)

// Adam implements the Adam optimizer with optional global-norm
// gradient clipping applied inside Step.
type Adam struct {
	Params      []*tensor.Tensor
	LR          float64 // learning rate
	Beta1       float64 // first moment decay (default 0.9)
	Beta2       float64 // second moment decay (default 0.999)
	Eps         float64 // numerical stability (default 1e-8)
	WeightDecay float64 // L2 regularization (default 0)
	MaxGradNorm float64 // gradient clipping (0 = disabled)

	// State
	m    [][]float32 // first moment (mean of gradients)
	v    [][]float32 // second moment (mean of squared gradients)
	step int
}

// NewAdam creates an optimizer with standard defaults.
func NewAdam(params []*tensor.Tensor, lr float64) *Adam {
	m := make([][]float32, len(params))
	v := make([][]float32, len(params))
	for i, p := range params {
		n := p.NumElements()
		m[i] = make([]float32, n)
		v[i] = make([]float32, n)
	}

	return &Adam{
		Params: params,
		LR:     lr,
		Beta1:  0.9,
		Beta2:  0.999,
		Eps:    1e-8,
		m:      m,
		v:      v,
	}
}

// Step performs one optimization step.
// Gradients must be accumulated on each parameter tensor before calling.
func (opt *Adam) Step() {
	opt.step++

	if opt.MaxGradNorm > 0 {
		ClipGradNorm(opt.Params, opt.MaxGradNorm)
	}

	// Bias correction factors
	bc1 := 1.0 - math.Pow(opt.Beta1, float64(opt.step))
	bc2 := 1.0 - math.Pow(opt.Beta2, float64(opt.step))

	lr := opt.LR

	for i, param := range opt.Params {
		pData := param.ToFloat32Slice()
		gData := param.Grad().ToFloat32Slice()
		m := opt.m[i]
		v := opt.v[i]

		for j := 0; j < len(pData); j++ {
			g := gData[j]

			m[j] = float32(opt.Beta1)*m[j] + float32(1-opt.Beta1)*g
			v[j] = float32(opt.Beta2)*v[j] + float32(1-opt.Beta2)*g*g

			mHat := float64(m[j]) / bc1
			vHat := float64(v[j]) / bc2

			update := mHat / (math.Sqrt(vHat) + opt.Eps)

			pData[j] -= float32(lr) * (float32(update) + float32(opt.WeightDecay)*pData[j])
		}
	}
}

// ZeroGrad clears all gradients.
func (opt *Adam) ZeroGrad() {
	for _, p := range opt.Params {
		gData := p.Grad().ToFloat32Slice()
		for i := range gData {
			gData[i] = 0
		}
	}
}

// ClipGradNorm scales gradients so their global L2 norm does not
// exceed maxNorm. Returns the pre-clip norm.
func ClipGradNorm(params []*tensor.Tensor, maxNorm float64) float64 {
	totalNorm := float64(0)
	for _, p := range params {
		gData := p.Grad().ToFloat32Slice()
		for _, g := range gData {
			totalNorm += float64(g) * float64(g)
		}
	}
	totalNorm = math.Sqrt(totalNorm)

	if totalNorm <= maxNorm {
		return totalNorm
	}

	scale := float32(maxNorm / totalNorm)
	for _, p := range params {
		gData := p.Grad().ToFloat32Slice()
		for i := range gData {
			gData[i] *= scale
		}
	}
	return totalNorm
}

// GetLR returns current learning rate.
func (opt *Adam) GetLR() float64 {
	return opt.LR
}

// SetLR updates the learning rate (for scheduling).
func (opt *Adam) SetLR(lr float64) {
	opt.LR = lr
}
