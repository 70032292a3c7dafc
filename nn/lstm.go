package nn

import (
	"math"
	"math/rand"

	"github.com/djeday123/charseq/tensor"
)

// LSTMCell holds one recurrent layer's parameters with the four gates
// stacked along the leading dimension in i, f, g, o order.
type LSTMCell struct {
	Wx *tensor.Tensor // [4*hidden, inDim]
	Wh *tensor.Tensor // [4*hidden, hidden]
	B  *tensor.Tensor // [4*hidden]

	InDim  int
	Hidden int
}

// NewLSTMCell creates a cell with uniform init scaled by 1/sqrt(hidden).
func NewLSTMCell(inDim, hidden int) (*LSTMCell, error) {
	scale := 1.0 / math.Sqrt(float64(hidden))
	randSlice := func(n int) []float32 {
		s := make([]float32, n)
		for i := range s {
			s[i] = float32((rand.Float64()*2 - 1) * scale)
		}
		return s
	}

	wx, err := tensor.FromSlice(randSlice(4*hidden*inDim), tensor.Shape{4 * hidden, inDim})
	if err != nil {
		return nil, err
	}
	wh, err := tensor.FromSlice(randSlice(4*hidden*hidden), tensor.Shape{4 * hidden, hidden})
	if err != nil {
		return nil, err
	}
	b, err := tensor.FromSlice(randSlice(4*hidden), tensor.Shape{4 * hidden})
	if err != nil {
		return nil, err
	}

	return &LSTMCell{Wx: wx, Wh: wh, B: b, InDim: inDim, Hidden: hidden}, nil
}

// cellCache holds one timestep's intermediates for one layer.
type cellCache struct {
	x     []float32 // [bsz, inDim] layer input
	hPrev []float32 // [bsz, hidden]
	cPrev []float32 // [bsz, hidden]

	i, f, g, o []float32 // [bsz, hidden] post-activation gates
	c          []float32 // [bsz, hidden] new cell
	tanhC      []float32 // [bsz, hidden]
}

// Step advances the cell one timestep for bsz lanes.
func (cell *LSTMCell) Step(x, hPrev, cPrev []float32, bsz int) (h, c []float32, cache *cellCache) {
	H := cell.Hidden
	wx := cell.Wx.ToFloat32Slice()
	wh := cell.Wh.ToFloat32Slice()
	bias := cell.B.ToFloat32Slice()

	// a = x @ Wx^T + hPrev @ Wh^T + b, shape [bsz, 4H]
	a := make([]float32, bsz*4*H)
	for b := 0; b < bsz; b++ {
		for r := 0; r < 4*H; r++ {
			sum := bias[r]
			for k := 0; k < cell.InDim; k++ {
				sum += x[b*cell.InDim+k] * wx[r*cell.InDim+k]
			}
			for k := 0; k < H; k++ {
				sum += hPrev[b*H+k] * wh[r*H+k]
			}
			a[b*4*H+r] = sum
		}
	}

	cache = &cellCache{
		x: x, hPrev: hPrev, cPrev: cPrev,
		i: make([]float32, bsz*H), f: make([]float32, bsz*H),
		g: make([]float32, bsz*H), o: make([]float32, bsz*H),
		c: make([]float32, bsz*H), tanhC: make([]float32, bsz*H),
	}
	h = make([]float32, bsz*H)

	for b := 0; b < bsz; b++ {
		for k := 0; k < H; k++ {
			off := b*4*H + k
			iv := sigmoid(a[off])
			fv := sigmoid(a[off+H])
			gv := tanh32(a[off+2*H])
			ov := sigmoid(a[off+3*H])

			cv := fv*cPrev[b*H+k] + iv*gv
			tc := tanh32(cv)

			idx := b*H + k
			cache.i[idx] = iv
			cache.f[idx] = fv
			cache.g[idx] = gv
			cache.o[idx] = ov
			cache.c[idx] = cv
			cache.tanhC[idx] = tc
			h[idx] = ov * tc
		}
	}
	return h, cache.c, cache
}

// StepBackward propagates dh and dc for one timestep, accumulating
// parameter gradients and returning gradients for the layer input and
// the previous step's state.
func (cell *LSTMCell) StepBackward(cache *cellCache, dh, dc []float32, bsz int) (dx, dhPrev, dcPrev []float32) {
	H := cell.Hidden
	wx := cell.Wx.ToFloat32Slice()
	wh := cell.Wh.ToFloat32Slice()

	dWx := cell.Wx.Grad().ToFloat32Slice()
	dWh := cell.Wh.Grad().ToFloat32Slice()
	dB := cell.B.Grad().ToFloat32Slice()

	// Pre-activation gradients, [bsz, 4H] in i,f,g,o order.
	da := make([]float32, bsz*4*H)
	dcPrev = make([]float32, bsz*H)

	for b := 0; b < bsz; b++ {
		for k := 0; k < H; k++ {
			idx := b*H + k
			iv, fv, gv, ov := cache.i[idx], cache.f[idx], cache.g[idx], cache.o[idx]
			tc := cache.tanhC[idx]

			do := dh[idx] * tc
			dcTotal := dc[idx] + dh[idx]*ov*(1-tc*tc)

			di := dcTotal * gv
			df := dcTotal * cache.cPrev[idx]
			dg := dcTotal * iv
			dcPrev[idx] = dcTotal * fv

			off := b*4*H + k
			da[off] = di * iv * (1 - iv)
			da[off+H] = df * fv * (1 - fv)
			da[off+2*H] = dg * (1 - gv*gv)
			da[off+3*H] = do * ov * (1 - ov)
		}
	}

	// dWx += da^T @ x; dWh += da^T @ hPrev; dB += sum(da)
	for b := 0; b < bsz; b++ {
		for r := 0; r < 4*H; r++ {
			d := da[b*4*H+r]
			if d == 0 {
				continue
			}
			dB[r] += d
			for k := 0; k < cell.InDim; k++ {
				dWx[r*cell.InDim+k] += d * cache.x[b*cell.InDim+k]
			}
			for k := 0; k < H; k++ {
				dWh[r*H+k] += d * cache.hPrev[b*H+k]
			}
		}
	}

	// dx = da @ Wx; dhPrev = da @ Wh
	dx = make([]float32, bsz*cell.InDim)
	dhPrev = make([]float32, bsz*H)
	for b := 0; b < bsz; b++ {
		for r := 0; r < 4*H; r++ {
			d := da[b*4*H+r]
			if d == 0 {
				continue
			}
			for k := 0; k < cell.InDim; k++ {
				dx[b*cell.InDim+k] += d * wx[r*cell.InDim+k]
			}
			for k := 0; k < H; k++ {
				dhPrev[b*H+k] += d * wh[r*H+k]
			}
		}
	}
	return dx, dhPrev, dcPrev
}

// Parameters returns trainable parameters.
func (cell *LSTMCell) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{cell.Wx, cell.Wh, cell.B}
}
