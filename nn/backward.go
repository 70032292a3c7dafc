package nn

import (
	"math"

	"github.com/djeday123/charseq/tensor"
)

// ---- Linear Backward ----

// Backward computes gradients for Linear.
// x: [n, inF], dout: [n, outF] → dx: [n, inF].
// Accumulates gradients on Weight and Bias.
func (l *Linear) Backward(x, dout *tensor.Tensor) (*tensor.Tensor, error) {
	n := x.NumElements() / l.InF

	xData := x.ToFloat32Slice()
	doutData := dout.ToFloat32Slice()
	wData := l.Weight.ToFloat32Slice()

	// dx = dout @ W  (W is [outF, inF])
	dxData := make([]float32, n*l.InF)
	for b := 0; b < n; b++ {
		for o := 0; o < l.OutF; o++ {
			d := doutData[b*l.OutF+o]
			if d == 0 {
				continue
			}
			for i := 0; i < l.InF; i++ {
				dxData[b*l.InF+i] += d * wData[o*l.InF+i]
			}
		}
	}

	// dW = dout^T @ x → [outF, inF]
	dWData := make([]float32, l.OutF*l.InF)
	for b := 0; b < n; b++ {
		for o := 0; o < l.OutF; o++ {
			d := doutData[b*l.OutF+o]
			if d == 0 {
				continue
			}
			for i := 0; i < l.InF; i++ {
				dWData[o*l.InF+i] += d * xData[b*l.InF+i]
			}
		}
	}

	dW, err := tensor.FromSlice(dWData, tensor.Shape{l.OutF, l.InF})
	if err != nil {
		return nil, err
	}
	accumulateGrad(l.Weight, dW)

	// dBias = sum(dout, axis=0)
	if l.Bias != nil {
		dBData := make([]float32, l.OutF)
		for b := 0; b < n; b++ {
			for o := 0; o < l.OutF; o++ {
				dBData[o] += doutData[b*l.OutF+o]
			}
		}
		dB, err := tensor.FromSlice(dBData, tensor.Shape{l.OutF})
		if err != nil {
			return nil, err
		}
		accumulateGrad(l.Bias, dB)
	}

	return tensor.FromSlice(dxData, x.Shape())
}

// ---- LayerNorm Backward ----

// Backward computes gradients for LayerNorm.
func (ln *LayerNorm) Backward(x, dout *tensor.Tensor) (*tensor.Tensor, error) {
	xData := x.ToFloat32Slice()
	doutData := dout.ToFloat32Slice()
	gammaData := ln.Gamma.ToFloat32Slice()

	normSize := len(gammaData)
	batchSize := x.NumElements() / normSize

	dxData := make([]float32, len(xData))
	dGamma := make([]float32, normSize)
	dBeta := make([]float32, normSize)

	for b := 0; b < batchSize; b++ {
		off := b * normSize

		// Recompute forward stats
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

		xNorm := make([]float32, normSize)
		for i := 0; i < normSize; i++ {
			xNorm[i] = (xData[off+i] - mean) * invStd
		}

		for i := 0; i < normSize; i++ {
			dGamma[i] += doutData[off+i] * xNorm[i]
			dBeta[i] += doutData[off+i]
		}

		// dx = invStd/N * (N*dyHat - sum(dyHat) - xNorm*sum(dyHat*xNorm))
		// where dyHat = dout * gamma
		dyHat := make([]float32, normSize)
		sumDyHat := float32(0)
		sumDyHatXnorm := float32(0)
		for i := 0; i < normSize; i++ {
			dyHat[i] = doutData[off+i] * gammaData[i]
			sumDyHat += dyHat[i]
			sumDyHatXnorm += dyHat[i] * xNorm[i]
		}

		invN := float32(1.0) / float32(normSize)
		for i := 0; i < normSize; i++ {
			dxData[off+i] = invStd * invN * (float32(normSize)*dyHat[i] - sumDyHat - xNorm[i]*sumDyHatXnorm)
		}
	}

	dG, _ := tensor.FromSlice(dGamma, tensor.Shape{normSize})
	dB, _ := tensor.FromSlice(dBeta, tensor.Shape{normSize})
	accumulateGrad(ln.Gamma, dG)
	accumulateGrad(ln.Beta, dB)

	return tensor.FromSlice(dxData, x.Shape())
}

// ---- FeedForward Backward ----

// Backward computes gradients for the FFN, recomputing the forward
// intermediates from x.
func (ff *FeedForward) Backward(x, dout *tensor.Tensor) (*tensor.Tensor, error) {
	w1out, err := ff.W1.Forward(x)
	if err != nil {
		return nil, err
	}
	h := reluForward(w1out)

	dH, err := ff.W2.Backward(h, dout)
	if err != nil {
		return nil, err
	}

	dRelu := reluBackward(w1out, dH)
	return ff.W1.Backward(x, dRelu)
}

// ---- Embedding Backward ----

// Backward scatters dout back into the weight gradient.
// indices: [n] int64, dout: [n, embedDim].
func (e *Embedding) Backward(indices, dout *tensor.Tensor) error {
	iData := indices.ToInt64Slice()
	doutData := dout.ToFloat32Slice()

	dWData := make([]float32, e.VocabSize*e.EmbedDim)
	for s := range iData {
		idx := int(iData[s])
		for d := 0; d < e.EmbedDim; d++ {
			dWData[idx*e.EmbedDim+d] += doutData[s*e.EmbedDim+d]
		}
	}

	dW, err := tensor.FromSlice(dWData, tensor.Shape{e.VocabSize, e.EmbedDim})
	if err != nil {
		return err
	}
	accumulateGrad(e.Weight, dW)
	return nil
}

// ---- Helper functions ----

func accumulateGrad(param, grad *tensor.Tensor) {
	pGrad := param.Grad().ToFloat32Slice()
	gData := grad.ToFloat32Slice()
	for i := range pGrad {
		pGrad[i] += gData[i]
	}
}

func reluForward(x *tensor.Tensor) *tensor.Tensor {
	data := x.ToFloat32Slice()
	out := make([]float32, len(data))
	for i, v := range data {
		if v > 0 {
			out[i] = v
		}
	}
	t, _ := tensor.FromSlice(out, x.Shape())
	return t
}

func reluBackward(x, dout *tensor.Tensor) *tensor.Tensor {
	xData := x.ToFloat32Slice()
	dData := dout.ToFloat32Slice()
	out := make([]float32, len(xData))
	for i, v := range xData {
		if v > 0 {
			out[i] = dData[i]
		}
	}
	t, _ := tensor.FromSlice(out, x.Shape())
	return t
}

func addTensors(a, b *tensor.Tensor) *tensor.Tensor {
	aData := a.ToFloat32Slice()
	bData := b.ToFloat32Slice()
	out := make([]float32, len(aData))
	for i := range out {
		out[i] = aData[i] + bData[i]
	}
	t, _ := tensor.FromSlice(out, a.Shape())
	return t
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-x))))
}

func tanh32(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// ArgMax returns the index of the largest value.
func ArgMax(logits []float32) int {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return best
}
