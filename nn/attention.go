package nn

import (
	"fmt"
	"math"

	"github.com/djeday123/charseq/tensor"
)

// MultiHeadAttention covers both self-attention (memory == query) and
// cross-attention (memory = encoder output). Keys marked in the key
// padding mask, and future keys under a causal mask, score -1e9 before
// the softmax so they carry no weight and no gradient.
type MultiHeadAttention struct {
	Wq *Linear
	Wk *Linear
	Wv *Linear
	Wo *Linear

	Dim      int
	NumHeads int
	HeadDim  int
}

// NewMultiHeadAttention creates the four biased projections.
func NewMultiHeadAttention(dim, numHeads int) (*MultiHeadAttention, error) {
	if dim%numHeads != 0 {
		return nil, fmt.Errorf("attention: dim %d not divisible by %d heads", dim, numHeads)
	}
	var err error
	mha := &MultiHeadAttention{Dim: dim, NumHeads: numHeads, HeadDim: dim / numHeads}
	if mha.Wq, err = NewLinear(dim, dim, true); err != nil {
		return nil, err
	}
	if mha.Wk, err = NewLinear(dim, dim, true); err != nil {
		return nil, err
	}
	if mha.Wv, err = NewLinear(dim, dim, true); err != nil {
		return nil, err
	}
	if mha.Wo, err = NewLinear(dim, dim, true); err != nil {
		return nil, err
	}
	return mha, nil
}

// AttentionCache stores intermediates needed for Backward.
type AttentionCache struct {
	Query  *tensor.Tensor // [Tq*lanes, dim] view of the query input
	Memory *tensor.Tensor // [Tk*lanes, dim] view of the key/value input

	QArr, KArr, VArr []float32 // [lanes, heads, T, headDim]
	Scores           []float32 // [lanes, heads, Tq, Tk] post-softmax

	Tq, Tk, Lanes int
}

// ForwardWithCache computes attention over time-major activations.
// query: [Tq*lanes, dim]; memory: [Tk*lanes, dim]; keyPad: [lanes*Tk]
// true where the key position is padding (nil = no padding mask);
// causal forbids key j > query i (requires Tq == Tk).
func (mha *MultiHeadAttention) ForwardWithCache(query, memory *tensor.Tensor, Tq, Tk, lanes int, keyPad []bool, causal bool) (*tensor.Tensor, *AttentionCache, error) {
	if causal && Tq != Tk {
		return nil, nil, fmt.Errorf("attention: causal mask needs square scores, got %d x %d", Tq, Tk)
	}
	if keyPad != nil && len(keyPad) != lanes*Tk {
		return nil, nil, fmt.Errorf("attention: key pad mask has %d entries, need %d", len(keyPad), lanes*Tk)
	}

	q, err := mha.Wq.Forward(query)
	if err != nil {
		return nil, nil, err
	}
	k, err := mha.Wk.Forward(memory)
	if err != nil {
		return nil, nil, err
	}
	v, err := mha.Wv.Forward(memory)
	if err != nil {
		return nil, nil, err
	}

	heads := mha.NumHeads
	hd := mha.HeadDim

	qArr := rearrangeTBHD(q.ToFloat32Slice(), Tq, lanes, heads, hd)
	kArr := rearrangeTBHD(k.ToFloat32Slice(), Tk, lanes, heads, hd)
	vArr := rearrangeTBHD(v.ToFloat32Slice(), Tk, lanes, heads, hd)

	scale := float32(1.0 / math.Sqrt(float64(hd)))
	scores := make([]float32, lanes*heads*Tq*Tk)
	outArr := make([]float32, lanes*heads*Tq*hd)

	for b := 0; b < lanes; b++ {
		for h := 0; h < heads; h++ {
			qOff := (b*heads + h) * Tq * hd
			kOff := (b*heads + h) * Tk * hd
			scOff := (b*heads + h) * Tq * Tk

			for i := 0; i < Tq; i++ {
				for j := 0; j < Tk; j++ {
					dot := float32(0)
					for d := 0; d < hd; d++ {
						dot += qArr[qOff+i*hd+d] * kArr[kOff+j*hd+d]
					}
					s := dot * scale
					if causal && j > i {
						s = -1e9
					}
					if keyPad != nil && keyPad[b*Tk+j] {
						s = -1e9
					}
					scores[scOff+i*Tk+j] = s
				}
			}

			// Softmax per query row
			for i := 0; i < Tq; i++ {
				maxVal := float32(-math.MaxFloat32)
				for j := 0; j < Tk; j++ {
					if scores[scOff+i*Tk+j] > maxVal {
						maxVal = scores[scOff+i*Tk+j]
					}
				}
				sumExp := float32(0)
				for j := 0; j < Tk; j++ {
					scores[scOff+i*Tk+j] = float32(math.Exp(float64(scores[scOff+i*Tk+j] - maxVal)))
					sumExp += scores[scOff+i*Tk+j]
				}
				for j := 0; j < Tk; j++ {
					scores[scOff+i*Tk+j] /= sumExp
				}
			}

			// Attn @ V
			for i := 0; i < Tq; i++ {
				for d := 0; d < hd; d++ {
					sum := float32(0)
					for j := 0; j < Tk; j++ {
						sum += scores[scOff+i*Tk+j] * vArr[kOff+j*hd+d]
					}
					outArr[qOff+i*hd+d] = sum
				}
			}
		}
	}

	outFlat := rearrangeBHTD(outArr, Tq, lanes, heads, hd)
	outTensor, err := tensor.FromSlice(outFlat, tensor.Shape{Tq * lanes, mha.Dim})
	if err != nil {
		return nil, nil, err
	}

	result, err := mha.Wo.Forward(outTensor)
	if err != nil {
		return nil, nil, err
	}

	cache := &AttentionCache{
		Query: query, Memory: memory,
		QArr: qArr, KArr: kArr, VArr: vArr,
		Scores: scores, Tq: Tq, Tk: Tk, Lanes: lanes,
	}
	return result, cache, nil
}

// Backward computes gradients, returning separate query-path and
// memory-path input gradients (equal inputs in self-attention must be
// summed by the caller).
func (mha *MultiHeadAttention) Backward(cache *AttentionCache, dout *tensor.Tensor) (dQuery, dMemory *tensor.Tensor, err error) {
	heads := mha.NumHeads
	hd := mha.HeadDim
	Tq, Tk, lanes := cache.Tq, cache.Tk, cache.Lanes
	scores := cache.Scores

	// Recompute attn output for Wo backward.
	outArr := make([]float32, lanes*heads*Tq*hd)
	for b := 0; b < lanes; b++ {
		for h := 0; h < heads; h++ {
			qOff := (b*heads + h) * Tq * hd
			kOff := (b*heads + h) * Tk * hd
			scOff := (b*heads + h) * Tq * Tk
			for i := 0; i < Tq; i++ {
				for d := 0; d < hd; d++ {
					sum := float32(0)
					for j := 0; j < Tk; j++ {
						sum += scores[scOff+i*Tk+j] * cache.VArr[kOff+j*hd+d]
					}
					outArr[qOff+i*hd+d] = sum
				}
			}
		}
	}
	outFlat := rearrangeBHTD(outArr, Tq, lanes, heads, hd)
	attnOut, err := tensor.FromSlice(outFlat, tensor.Shape{Tq * lanes, mha.Dim})
	if err != nil {
		return nil, nil, err
	}

	dAttnOut, err := mha.Wo.Backward(attnOut, dout)
	if err != nil {
		return nil, nil, err
	}
	dOutArr := rearrangeTBHD(dAttnOut.ToFloat32Slice(), Tq, lanes, heads, hd)

	scale := float32(1.0 / math.Sqrt(float64(hd)))
	dQArr := make([]float32, len(cache.QArr))
	dKArr := make([]float32, len(cache.KArr))
	dVArr := make([]float32, len(cache.VArr))

	for b := 0; b < lanes; b++ {
		for h := 0; h < heads; h++ {
			qOff := (b*heads + h) * Tq * hd
			kOff := (b*heads + h) * Tk * hd
			scOff := (b*heads + h) * Tq * Tk

			// dV = scores^T @ dOut
			for j := 0; j < Tk; j++ {
				for d := 0; d < hd; d++ {
					sum := float32(0)
					for i := 0; i < Tq; i++ {
						sum += scores[scOff+i*Tk+j] * dOutArr[qOff+i*hd+d]
					}
					dVArr[kOff+j*hd+d] = sum
				}
			}

			// dScores = dOut @ V^T
			dScores := make([]float32, Tq*Tk)
			for i := 0; i < Tq; i++ {
				for j := 0; j < Tk; j++ {
					sum := float32(0)
					for d := 0; d < hd; d++ {
						sum += dOutArr[qOff+i*hd+d] * cache.VArr[kOff+j*hd+d]
					}
					dScores[i*Tk+j] = sum
				}
			}

			// Softmax backward: dPre = scores * (dScores - sum(dScores*scores)) * scale
			for i := 0; i < Tq; i++ {
				dot := float32(0)
				for j := 0; j < Tk; j++ {
					dot += dScores[i*Tk+j] * scores[scOff+i*Tk+j]
				}
				for j := 0; j < Tk; j++ {
					dScores[i*Tk+j] = scores[scOff+i*Tk+j] * (dScores[i*Tk+j] - dot) * scale
				}
			}

			// dQ = dPre @ K
			for i := 0; i < Tq; i++ {
				for d := 0; d < hd; d++ {
					sum := float32(0)
					for j := 0; j < Tk; j++ {
						sum += dScores[i*Tk+j] * cache.KArr[kOff+j*hd+d]
					}
					dQArr[qOff+i*hd+d] = sum
				}
			}

			// dK = dPre^T @ Q
			for j := 0; j < Tk; j++ {
				for d := 0; d < hd; d++ {
					sum := float32(0)
					for i := 0; i < Tq; i++ {
						sum += dScores[i*Tk+j] * cache.QArr[qOff+i*hd+d]
					}
					dKArr[kOff+j*hd+d] = sum
				}
			}
		}
	}

	dQFlat := rearrangeBHTD(dQArr, Tq, lanes, heads, hd)
	dKFlat := rearrangeBHTD(dKArr, Tk, lanes, heads, hd)
	dVFlat := rearrangeBHTD(dVArr, Tk, lanes, heads, hd)

	dQ, err := tensor.FromSlice(dQFlat, tensor.Shape{Tq * lanes, mha.Dim})
	if err != nil {
		return nil, nil, err
	}
	dK, err := tensor.FromSlice(dKFlat, tensor.Shape{Tk * lanes, mha.Dim})
	if err != nil {
		return nil, nil, err
	}
	dV, err := tensor.FromSlice(dVFlat, tensor.Shape{Tk * lanes, mha.Dim})
	if err != nil {
		return nil, nil, err
	}

	dQuery, err = mha.Wq.Backward(cache.Query, dQ)
	if err != nil {
		return nil, nil, err
	}
	dMemK, err := mha.Wk.Backward(cache.Memory, dK)
	if err != nil {
		return nil, nil, err
	}
	dMemV, err := mha.Wv.Backward(cache.Memory, dV)
	if err != nil {
		return nil, nil, err
	}
	return dQuery, addTensors(dMemK, dMemV), nil
}

// Parameters returns trainable parameters.
func (mha *MultiHeadAttention) Parameters() []*tensor.Tensor {
	params := mha.Wq.Parameters()
	params = append(params, mha.Wk.Parameters()...)
	params = append(params, mha.Wv.Parameters()...)
	return append(params, mha.Wo.Parameters()...)
}

// rearrangeTBHD: [T*lanes, heads*headDim] time-major → [lanes, heads, T, headDim] flat.
func rearrangeTBHD(data []float32, T, lanes, heads, hd int) []float32 {
	out := make([]float32, len(data))
	for t := 0; t < T; t++ {
		for b := 0; b < lanes; b++ {
			for h := 0; h < heads; h++ {
				for d := 0; d < hd; d++ {
					srcIdx := (t*lanes+b)*heads*hd + h*hd + d
					dstIdx := ((b*heads+h)*T+t)*hd + d
					out[dstIdx] = data[srcIdx]
				}
			}
		}
	}
	return out
}

// rearrangeBHTD: [lanes, heads, T, headDim] flat → [T*lanes, heads*headDim] time-major.
func rearrangeBHTD(data []float32, T, lanes, heads, hd int) []float32 {
	out := make([]float32, len(data))
	for b := 0; b < lanes; b++ {
		for h := 0; h < heads; h++ {
			for t := 0; t < T; t++ {
				for d := 0; d < hd; d++ {
					srcIdx := ((b*heads+h)*T+t)*hd + d
					dstIdx := (t*lanes+b)*heads*hd + h*hd + d
					out[dstIdx] = data[srcIdx]
				}
			}
		}
	}
	return out
}
