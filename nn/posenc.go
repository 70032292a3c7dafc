package nn

import (
	"fmt"
	"math"
)

// PositionalEncoding is the fixed sinusoidal position signal, computed
// once up to maxLen and added to embeddings. Not trained.
type PositionalEncoding struct {
	pe     []float32 // [maxLen, dModel]
	MaxLen int
	DModel int
}

// NewPositionalEncoding precomputes the table.
func NewPositionalEncoding(dModel, maxLen int) *PositionalEncoding {
	pe := make([]float32, maxLen*dModel)
	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < dModel; i += 2 {
			div := math.Exp(float64(i) * (-math.Log(10000.0) / float64(dModel)))
			angle := float64(pos) * div
			pe[pos*dModel+i] = float32(math.Sin(angle))
			if i+1 < dModel {
				pe[pos*dModel+i+1] = float32(math.Cos(angle))
			}
		}
	}
	return &PositionalEncoding{pe: pe, MaxLen: maxLen, DModel: dModel}
}

// Apply adds the position signal in place to x laid out [T, lanes, dModel].
// Sequences at or beyond maxLen are rejected before any compute.
func (p *PositionalEncoding) Apply(x []float32, T, lanes int) error {
	if T >= p.MaxLen {
		return fmt.Errorf("posenc: sequence length %d exceeds maximum %d", T, p.MaxLen)
	}
	for t := 0; t < T; t++ {
		row := p.pe[t*p.DModel : (t+1)*p.DModel]
		for b := 0; b < lanes; b++ {
			off := (t*lanes + b) * p.DModel
			for d := 0; d < p.DModel; d++ {
				x[off+d] += row[d]
			}
		}
	}
	return nil
}

// At returns the encoding row for one position.
func (p *PositionalEncoding) At(pos int) []float32 {
	return p.pe[pos*p.DModel : (pos+1)*p.DModel]
}
