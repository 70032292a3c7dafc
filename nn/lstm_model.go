package nn

import (
	"fmt"

	"github.com/djeday123/charseq/backend"
	"github.com/djeday123/charseq/tensor"
)

// State is the recurrent (hidden, cell) pair, shape [layers, lanes, hidden].
// It is owned by the training loop: re-initialized once per epoch,
// detached once per step, narrowed when the lane count shrinks.
type State struct {
	H *tensor.Tensor
	C *tensor.Tensor

	Layers int
	Lanes  int
	Hidden int
}

// Detach returns a value-preserving copy severed from gradient history.
func (s *State) Detach() (*State, error) {
	h, err := s.H.Detach()
	if err != nil {
		return nil, err
	}
	c, err := s.C.Detach()
	if err != nil {
		return nil, err
	}
	return &State{H: h, C: c, Layers: s.Layers, Lanes: s.Lanes, Hidden: s.Hidden}, nil
}

// Narrow truncates the lane dimension to the first lanes entries,
// keeping the retained lanes' values. Used when the final ragged
// window has fewer lanes than the carried state.
func (s *State) Narrow(lanes int) (*State, error) {
	if lanes > s.Lanes {
		return nil, fmt.Errorf("state: cannot widen %d lanes to %d", s.Lanes, lanes)
	}
	if lanes == s.Lanes {
		return s, nil
	}

	copyLanes := func(src *tensor.Tensor) (*tensor.Tensor, error) {
		dst, err := tensor.Zeros(tensor.Shape{s.Layers, lanes, s.Hidden}, tensor.Float32, src.Device())
		if err != nil {
			return nil, err
		}
		sData := src.ToFloat32Slice()
		dData := dst.ToFloat32Slice()
		for l := 0; l < s.Layers; l++ {
			for b := 0; b < lanes; b++ {
				copy(dData[(l*lanes+b)*s.Hidden:(l*lanes+b+1)*s.Hidden],
					sData[(l*s.Lanes+b)*s.Hidden:(l*s.Lanes+b+1)*s.Hidden])
			}
		}
		return dst, nil
	}

	h, err := copyLanes(s.H)
	if err != nil {
		return nil, err
	}
	c, err := copyLanes(s.C)
	if err != nil {
		return nil, err
	}
	return &State{H: h, C: c, Layers: s.Layers, Lanes: lanes, Hidden: s.Hidden}, nil
}

// LSTMModel is the character language model:
// embedding → stacked LSTM layers → projection to vocabulary logits.
type LSTMModel struct {
	Embed *Embedding
	Cells []*LSTMCell
	Out   *Linear

	VocabSize int
	EmbDim    int
	Hidden    int
	NumLayers int
}

// LSTMConfig mirrors the model hyperparameters.
type LSTMConfig struct {
	VocabSize int
	EmbDim    int
	Hidden    int
	NumLayers int
}

// DefaultLSTMConfig returns the standard configuration; VocabSize must
// be filled in after the corpus vocabulary is built.
func DefaultLSTMConfig() LSTMConfig {
	return LSTMConfig{EmbDim: 64, Hidden: 2048, NumLayers: 1}
}

// NewLSTMModel builds the model for a given configuration.
func NewLSTMModel(cfg LSTMConfig) (*LSTMModel, error) {
	if cfg.VocabSize <= 0 {
		return nil, fmt.Errorf("lstm: vocab size must be positive, got %d", cfg.VocabSize)
	}
	embed, err := NewEmbedding(cfg.VocabSize, cfg.EmbDim)
	if err != nil {
		return nil, err
	}

	cells := make([]*LSTMCell, cfg.NumLayers)
	inDim := cfg.EmbDim
	for l := range cells {
		cells[l], err = NewLSTMCell(inDim, cfg.Hidden)
		if err != nil {
			return nil, err
		}
		inDim = cfg.Hidden
	}

	out, err := NewLinear(cfg.Hidden, cfg.VocabSize, true)
	if err != nil {
		return nil, err
	}

	return &LSTMModel{
		Embed: embed, Cells: cells, Out: out,
		VocabSize: cfg.VocabSize, EmbDim: cfg.EmbDim,
		Hidden: cfg.Hidden, NumLayers: cfg.NumLayers,
	}, nil
}

// InitState returns a zero-filled state for the given lane count.
func (m *LSTMModel) InitState(lanes int) (*State, error) {
	shape := tensor.Shape{m.NumLayers, lanes, m.Hidden}
	h, err := tensor.Zeros(shape, tensor.Float32, backend.CPU0)
	if err != nil {
		return nil, err
	}
	c, err := tensor.Zeros(shape, tensor.Float32, backend.CPU0)
	if err != nil {
		return nil, err
	}
	return &State{H: h, C: c, Layers: m.NumLayers, Lanes: lanes, Hidden: m.Hidden}, nil
}

// LSTMCache holds a window's intermediates for Backward.
type LSTMCache struct {
	Input  *tensor.Tensor // [T, lanes] int64
	Steps  [][]*cellCache // [T][layer]
	Hidden *tensor.Tensor // [T*lanes, hidden] top-layer outputs
	Lanes  int
	TSteps int
}

// ForwardWithCache runs the model over one window.
// input: [T, lanes] int64; state lanes must match input lanes.
// Returns logits [T*lanes, vocab] (time-major flattened), the updated
// state, and the cache for Backward.
func (m *LSTMModel) ForwardWithCache(input *tensor.Tensor, state *State) (*tensor.Tensor, *State, *LSTMCache, error) {
	shape := input.Shape()
	if len(shape) != 2 {
		return nil, nil, nil, fmt.Errorf("lstm: input must be [time, lanes], got %v", shape)
	}
	T := shape[0]
	lanes := shape[1]
	if lanes != state.Lanes {
		return nil, nil, nil, fmt.Errorf("lstm: input has %d lanes, state has %d", lanes, state.Lanes)
	}

	emb, err := m.Embed.Forward(input)
	if err != nil {
		return nil, nil, nil, err
	}
	embData := emb.ToFloat32Slice() // [T*lanes, embDim]

	H := m.Hidden
	hState := state.H.ToFloat32Slice()
	cState := state.C.ToFloat32Slice()

	// Per-layer carried slices, copied out of the state tensors.
	hCur := make([][]float32, m.NumLayers)
	cCur := make([][]float32, m.NumLayers)
	for l := 0; l < m.NumLayers; l++ {
		hCur[l] = append([]float32(nil), hState[l*lanes*H:(l+1)*lanes*H]...)
		cCur[l] = append([]float32(nil), cState[l*lanes*H:(l+1)*lanes*H]...)
	}

	cache := &LSTMCache{Input: input, Lanes: lanes, TSteps: T}
	cache.Steps = make([][]*cellCache, T)
	topOut := make([]float32, T*lanes*H)

	for t := 0; t < T; t++ {
		x := embData[t*lanes*m.EmbDim : (t+1)*lanes*m.EmbDim]
		cache.Steps[t] = make([]*cellCache, m.NumLayers)
		for l, cell := range m.Cells {
			var sc *cellCache
			x, cCur[l], sc = cell.Step(x, hCur[l], cCur[l], lanes)
			hCur[l] = x
			cache.Steps[t][l] = sc
		}
		copy(topOut[t*lanes*H:(t+1)*lanes*H], x)
	}

	hiddenT, err := tensor.FromSlice(topOut, tensor.Shape{T * lanes, H})
	if err != nil {
		return nil, nil, nil, err
	}
	cache.Hidden = hiddenT

	logits, err := m.Out.Forward(hiddenT)
	if err != nil {
		return nil, nil, nil, err
	}

	newState, err := m.InitState(lanes)
	if err != nil {
		return nil, nil, nil, err
	}
	nh := newState.H.ToFloat32Slice()
	nc := newState.C.ToFloat32Slice()
	for l := 0; l < m.NumLayers; l++ {
		copy(nh[l*lanes*H:(l+1)*lanes*H], hCur[l])
		copy(nc[l*lanes*H:(l+1)*lanes*H], cCur[l])
	}

	return logits, newState, cache, nil
}

// Backward runs truncated BPTT over the cached window. No gradient
// flows into the window's initial state.
func (m *LSTMModel) Backward(cache *LSTMCache, dLogits *tensor.Tensor) error {
	dHidden, err := m.Out.Backward(cache.Hidden, dLogits)
	if err != nil {
		return err
	}
	dHiddenData := dHidden.ToFloat32Slice()

	lanes := cache.Lanes
	H := m.Hidden

	dhNext := make([][]float32, m.NumLayers)
	dcNext := make([][]float32, m.NumLayers)
	for l := range dhNext {
		dhNext[l] = make([]float32, lanes*H)
		dcNext[l] = make([]float32, lanes*H)
	}

	embDim := m.EmbDim
	dEmb := make([]float32, cache.TSteps*lanes*embDim)

	for t := cache.TSteps - 1; t >= 0; t-- {
		// Top layer receives the logit-path gradient plus the carry.
		var dFromAbove []float32
		for l := m.NumLayers - 1; l >= 0; l-- {
			dh := make([]float32, lanes*H)
			copy(dh, dhNext[l])
			if l == m.NumLayers-1 {
				top := dHiddenData[t*lanes*H : (t+1)*lanes*H]
				for i := range dh {
					dh[i] += top[i]
				}
			} else {
				for i := range dh {
					dh[i] += dFromAbove[i]
				}
			}

			dx, dhPrev, dcPrev := m.Cells[l].StepBackward(cache.Steps[t][l], dh, dcNext[l], lanes)
			dhNext[l] = dhPrev
			dcNext[l] = dcPrev
			dFromAbove = dx
		}
		copy(dEmb[t*lanes*embDim:(t+1)*lanes*embDim], dFromAbove)
	}

	dEmbT, err := tensor.FromSlice(dEmb, tensor.Shape{cache.TSteps * lanes, embDim})
	if err != nil {
		return err
	}
	return m.Embed.Backward(cache.Input, dEmbT)
}

// Parameters returns all trainable parameters.
func (m *LSTMModel) Parameters() []*tensor.Tensor {
	params := m.Embed.Parameters()
	for _, cell := range m.Cells {
		params = append(params, cell.Parameters()...)
	}
	return append(params, m.Out.Parameters()...)
}
