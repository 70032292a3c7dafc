package nn

import (
	"fmt"

	"github.com/djeday123/charseq/tensor"
)

// Seq2SeqConfig holds the encoder-decoder hyperparameters.
type Seq2SeqConfig struct {
	SrcVocab  int
	TgtVocab  int
	DModel    int
	NumHeads  int
	EncLayers int
	DecLayers int
	FFDim     int
	MaxLen    int // positional-encoding capacity
	PadID     int64
	EosID     int64
	SosID     int64
}

// DefaultSeq2SeqConfig returns the standard configuration; vocabulary
// sizes must be filled in after the datasets are built.
func DefaultSeq2SeqConfig() Seq2SeqConfig {
	return Seq2SeqConfig{
		DModel:    256,
		NumHeads:  8,
		EncLayers: 3,
		DecLayers: 2,
		FFDim:     1024,
		MaxLen:    5000,
		PadID:     0,
		EosID:     2,
		SosID:     3,
	}
}

// EncoderLayer is one post-norm encoder block:
// norm(x + selfAttn(x)) then norm(.. + ffn(..)).
type EncoderLayer struct {
	SelfAttn *MultiHeadAttention
	FFN      *FeedForward
	Norm1    *LayerNorm
	Norm2    *LayerNorm
}

func NewEncoderLayer(dim, heads, ffDim int) (*EncoderLayer, error) {
	attn, err := NewMultiHeadAttention(dim, heads)
	if err != nil {
		return nil, err
	}
	ffn, err := NewFeedForward(dim, ffDim)
	if err != nil {
		return nil, err
	}
	n1, err := NewLayerNorm(dim, 1e-5)
	if err != nil {
		return nil, err
	}
	n2, err := NewLayerNorm(dim, 1e-5)
	if err != nil {
		return nil, err
	}
	return &EncoderLayer{SelfAttn: attn, FFN: ffn, Norm1: n1, Norm2: n2}, nil
}

type encoderLayerCache struct {
	x         *tensor.Tensor
	attnCache *AttentionCache
	sum1      *tensor.Tensor // x + attn
	normed1   *tensor.Tensor
	sum2      *tensor.Tensor // normed1 + ffn
}

func (el *EncoderLayer) ForwardWithCache(x *tensor.Tensor, T, lanes int, srcPad []bool) (*tensor.Tensor, *encoderLayerCache, error) {
	cache := &encoderLayerCache{x: x}

	attnOut, ac, err := el.SelfAttn.ForwardWithCache(x, x, T, T, lanes, srcPad, false)
	if err != nil {
		return nil, nil, err
	}
	cache.attnCache = ac

	cache.sum1 = addTensors(x, attnOut)
	normed1, err := el.Norm1.Forward(cache.sum1)
	if err != nil {
		return nil, nil, err
	}
	cache.normed1 = normed1

	ffnOut, err := el.FFN.Forward(normed1)
	if err != nil {
		return nil, nil, err
	}
	cache.sum2 = addTensors(normed1, ffnOut)

	out, err := el.Norm2.Forward(cache.sum2)
	if err != nil {
		return nil, nil, err
	}
	return out, cache, nil
}

func (el *EncoderLayer) Backward(cache *encoderLayerCache, dout *tensor.Tensor) (*tensor.Tensor, error) {
	dSum2, err := el.Norm2.Backward(cache.sum2, dout)
	if err != nil {
		return nil, err
	}

	dFFNIn, err := el.FFN.Backward(cache.normed1, dSum2)
	if err != nil {
		return nil, err
	}
	dNormed1 := addTensors(dSum2, dFFNIn)

	dSum1, err := el.Norm1.Backward(cache.sum1, dNormed1)
	if err != nil {
		return nil, err
	}

	dQuery, dMemory, err := el.SelfAttn.Backward(cache.attnCache, dSum1)
	if err != nil {
		return nil, err
	}
	// Residual path plus both self-attention input paths.
	return addTensors(dSum1, addTensors(dQuery, dMemory)), nil
}

func (el *EncoderLayer) Parameters() []*tensor.Tensor {
	params := el.SelfAttn.Parameters()
	params = append(params, el.FFN.Parameters()...)
	params = append(params, el.Norm1.Parameters()...)
	return append(params, el.Norm2.Parameters()...)
}

// DecoderLayer is one post-norm decoder block: causal self-attention,
// cross-attention over the encoder memory, then the FFN.
type DecoderLayer struct {
	SelfAttn  *MultiHeadAttention
	CrossAttn *MultiHeadAttention
	FFN       *FeedForward
	Norm1     *LayerNorm
	Norm2     *LayerNorm
	Norm3     *LayerNorm
}

func NewDecoderLayer(dim, heads, ffDim int) (*DecoderLayer, error) {
	self, err := NewMultiHeadAttention(dim, heads)
	if err != nil {
		return nil, err
	}
	cross, err := NewMultiHeadAttention(dim, heads)
	if err != nil {
		return nil, err
	}
	ffn, err := NewFeedForward(dim, ffDim)
	if err != nil {
		return nil, err
	}
	var norms [3]*LayerNorm
	for i := range norms {
		if norms[i], err = NewLayerNorm(dim, 1e-5); err != nil {
			return nil, err
		}
	}
	return &DecoderLayer{
		SelfAttn: self, CrossAttn: cross, FFN: ffn,
		Norm1: norms[0], Norm2: norms[1], Norm3: norms[2],
	}, nil
}

type decoderLayerCache struct {
	x          *tensor.Tensor
	selfCache  *AttentionCache
	sum1       *tensor.Tensor
	normed1    *tensor.Tensor
	crossCache *AttentionCache
	sum2       *tensor.Tensor
	normed2    *tensor.Tensor
	sum3       *tensor.Tensor
}

func (dl *DecoderLayer) ForwardWithCache(x, memory *tensor.Tensor, Tt, Ts, lanes int, tgtPad, srcPad []bool) (*tensor.Tensor, *decoderLayerCache, error) {
	cache := &decoderLayerCache{x: x}

	selfOut, sc, err := dl.SelfAttn.ForwardWithCache(x, x, Tt, Tt, lanes, tgtPad, true)
	if err != nil {
		return nil, nil, err
	}
	cache.selfCache = sc

	cache.sum1 = addTensors(x, selfOut)
	normed1, err := dl.Norm1.Forward(cache.sum1)
	if err != nil {
		return nil, nil, err
	}
	cache.normed1 = normed1

	crossOut, cc, err := dl.CrossAttn.ForwardWithCache(normed1, memory, Tt, Ts, lanes, srcPad, false)
	if err != nil {
		return nil, nil, err
	}
	cache.crossCache = cc

	cache.sum2 = addTensors(normed1, crossOut)
	normed2, err := dl.Norm2.Forward(cache.sum2)
	if err != nil {
		return nil, nil, err
	}
	cache.normed2 = normed2

	ffnOut, err := dl.FFN.Forward(normed2)
	if err != nil {
		return nil, nil, err
	}
	cache.sum3 = addTensors(normed2, ffnOut)

	out, err := dl.Norm3.Forward(cache.sum3)
	if err != nil {
		return nil, nil, err
	}
	return out, cache, nil
}

// Backward returns the gradient for the layer input and for the
// encoder memory.
func (dl *DecoderLayer) Backward(cache *decoderLayerCache, dout *tensor.Tensor) (dx, dMemory *tensor.Tensor, err error) {
	dSum3, err := dl.Norm3.Backward(cache.sum3, dout)
	if err != nil {
		return nil, nil, err
	}

	dFFNIn, err := dl.FFN.Backward(cache.normed2, dSum3)
	if err != nil {
		return nil, nil, err
	}
	dNormed2 := addTensors(dSum3, dFFNIn)

	dSum2, err := dl.Norm2.Backward(cache.sum2, dNormed2)
	if err != nil {
		return nil, nil, err
	}

	dCrossQ, dMemory, err := dl.CrossAttn.Backward(cache.crossCache, dSum2)
	if err != nil {
		return nil, nil, err
	}
	dNormed1 := addTensors(dSum2, dCrossQ)

	dSum1, err := dl.Norm1.Backward(cache.sum1, dNormed1)
	if err != nil {
		return nil, nil, err
	}

	dSelfQ, dSelfM, err := dl.SelfAttn.Backward(cache.selfCache, dSum1)
	if err != nil {
		return nil, nil, err
	}
	dx = addTensors(dSum1, addTensors(dSelfQ, dSelfM))
	return dx, dMemory, nil
}

func (dl *DecoderLayer) Parameters() []*tensor.Tensor {
	params := dl.SelfAttn.Parameters()
	params = append(params, dl.CrossAttn.Parameters()...)
	params = append(params, dl.FFN.Parameters()...)
	params = append(params, dl.Norm1.Parameters()...)
	params = append(params, dl.Norm2.Parameters()...)
	return append(params, dl.Norm3.Parameters()...)
}

// Seq2Seq is the encoder-decoder character model.
type Seq2Seq struct {
	SrcEmbed *Embedding
	TgtEmbed *Embedding
	PosEnc   *PositionalEncoding
	Encoder  []*EncoderLayer
	Decoder  []*DecoderLayer
	Out      *Linear

	Config Seq2SeqConfig
}

// NewSeq2Seq builds the model for a given configuration.
func NewSeq2Seq(cfg Seq2SeqConfig) (*Seq2Seq, error) {
	if cfg.SrcVocab <= 0 || cfg.TgtVocab <= 0 {
		return nil, fmt.Errorf("seq2seq: vocab sizes must be positive, got %d and %d", cfg.SrcVocab, cfg.TgtVocab)
	}

	srcEmbed, err := NewEmbedding(cfg.SrcVocab, cfg.DModel)
	if err != nil {
		return nil, err
	}
	tgtEmbed, err := NewEmbedding(cfg.TgtVocab, cfg.DModel)
	if err != nil {
		return nil, err
	}

	enc := make([]*EncoderLayer, cfg.EncLayers)
	for i := range enc {
		if enc[i], err = NewEncoderLayer(cfg.DModel, cfg.NumHeads, cfg.FFDim); err != nil {
			return nil, err
		}
	}
	dec := make([]*DecoderLayer, cfg.DecLayers)
	for i := range dec {
		if dec[i], err = NewDecoderLayer(cfg.DModel, cfg.NumHeads, cfg.FFDim); err != nil {
			return nil, err
		}
	}

	out, err := NewLinear(cfg.DModel, cfg.TgtVocab, true)
	if err != nil {
		return nil, err
	}

	return &Seq2Seq{
		SrcEmbed: srcEmbed, TgtEmbed: tgtEmbed,
		PosEnc:  NewPositionalEncoding(cfg.DModel, cfg.MaxLen),
		Encoder: enc, Decoder: dec, Out: out,
		Config: cfg,
	}, nil
}

// padMask builds the lane-major key padding mask for ids [T, lanes].
func (m *Seq2Seq) padMask(ids *tensor.Tensor, T, lanes int) []bool {
	data := ids.ToInt64Slice()
	mask := make([]bool, lanes*T)
	for t := 0; t < T; t++ {
		for b := 0; b < lanes; b++ {
			if data[t*lanes+b] == m.Config.PadID {
				mask[b*T+t] = true
			}
		}
	}
	return mask
}

// Seq2SeqCache holds a training step's intermediates.
type Seq2SeqCache struct {
	Src, Tgt       *tensor.Tensor
	SrcEmb, TgtEmb *tensor.Tensor
	EncCaches      []*encoderLayerCache
	DecCaches      []*decoderLayerCache
	Memory, DecOut *tensor.Tensor
	Ts, Tt, Lanes  int
}

// ForwardWithCache runs teacher-forced training forward.
// src: [Ts, lanes] int64; tgt: [Tt, lanes] int64 (decoder input).
// Returns logits [Tt*lanes, tgtVocab] time-major flattened.
func (m *Seq2Seq) ForwardWithCache(src, tgt *tensor.Tensor) (*tensor.Tensor, *Seq2SeqCache, error) {
	srcShape := src.Shape()
	tgtShape := tgt.Shape()
	if len(srcShape) != 2 || len(tgtShape) != 2 {
		return nil, nil, fmt.Errorf("seq2seq: src and tgt must be [time, lanes], got %v and %v", srcShape, tgtShape)
	}
	if srcShape[1] != tgtShape[1] {
		return nil, nil, fmt.Errorf("seq2seq: src has %d lanes, tgt has %d", srcShape[1], tgtShape[1])
	}
	Ts, Tt, lanes := srcShape[0], tgtShape[0], srcShape[1]

	srcPad := m.padMask(src, Ts, lanes)
	tgtPad := m.padMask(tgt, Tt, lanes)

	cache := &Seq2SeqCache{Src: src, Tgt: tgt, Ts: Ts, Tt: Tt, Lanes: lanes}

	memory, err := m.encode(src, Ts, lanes, srcPad, cache)
	if err != nil {
		return nil, nil, err
	}
	cache.Memory = memory

	tgtEmb, err := m.TgtEmbed.Forward(tgt)
	if err != nil {
		return nil, nil, err
	}
	if err := m.PosEnc.Apply(tgtEmb.ToFloat32Slice(), Tt, lanes); err != nil {
		return nil, nil, err
	}
	cache.TgtEmb = tgtEmb

	x := tgtEmb
	cache.DecCaches = make([]*decoderLayerCache, len(m.Decoder))
	for i, layer := range m.Decoder {
		var dc *decoderLayerCache
		x, dc, err = layer.ForwardWithCache(x, memory, Tt, Ts, lanes, tgtPad, srcPad)
		if err != nil {
			return nil, nil, err
		}
		cache.DecCaches[i] = dc
	}
	cache.DecOut = x

	logits, err := m.Out.Forward(x)
	if err != nil {
		return nil, nil, err
	}
	return logits, cache, nil
}

func (m *Seq2Seq) encode(src *tensor.Tensor, Ts, lanes int, srcPad []bool, cache *Seq2SeqCache) (*tensor.Tensor, error) {
	srcEmb, err := m.SrcEmbed.Forward(src)
	if err != nil {
		return nil, err
	}
	if err := m.PosEnc.Apply(srcEmb.ToFloat32Slice(), Ts, lanes); err != nil {
		return nil, err
	}

	x := srcEmb
	var encCaches []*encoderLayerCache
	for _, layer := range m.Encoder {
		var ec *encoderLayerCache
		x, ec, err = layer.ForwardWithCache(x, Ts, lanes, srcPad)
		if err != nil {
			return nil, err
		}
		encCaches = append(encCaches, ec)
	}
	if cache != nil {
		cache.SrcEmb = srcEmb
		cache.EncCaches = encCaches
	}
	return x, nil
}

// Backward propagates dLogits [Tt*lanes, tgtVocab] through the whole
// model, accumulating parameter gradients. The memory gradient sums
// across decoder layers before entering the encoder stack.
func (m *Seq2Seq) Backward(cache *Seq2SeqCache, dLogits *tensor.Tensor) error {
	dDec, err := m.Out.Backward(cache.DecOut, dLogits)
	if err != nil {
		return err
	}

	var dMemory *tensor.Tensor
	for i := len(m.Decoder) - 1; i >= 0; i-- {
		var dMem *tensor.Tensor
		dDec, dMem, err = m.Decoder[i].Backward(cache.DecCaches[i], dDec)
		if err != nil {
			return err
		}
		if dMemory == nil {
			dMemory = dMem
		} else {
			dMemory = addTensors(dMemory, dMem)
		}
	}

	// Positional encoding is fixed; the gradient passes through.
	if err := m.TgtEmbed.Backward(cache.Tgt, dDec); err != nil {
		return err
	}

	dEnc := dMemory
	for i := len(m.Encoder) - 1; i >= 0; i-- {
		dEnc, err = m.Encoder[i].Backward(cache.EncCaches[i], dEnc)
		if err != nil {
			return err
		}
	}
	return m.SrcEmbed.Backward(cache.Src, dEnc)
}

// GreedyDecode runs batched greedy decoding: encode once, then extend
// every lane with its argmax token until it emits eos or hits maxLen.
// Finished lanes are masked to pad for the remaining steps. Returns
// one token sequence per lane, without the sos/eos markers.
func (m *Seq2Seq) GreedyDecode(src *tensor.Tensor, maxLen int) ([][]int64, error) {
	srcShape := src.Shape()
	Ts, lanes := srcShape[0], srcShape[1]
	srcPad := m.padMask(src, Ts, lanes)

	memory, err := m.encode(src, Ts, lanes, srcPad, nil)
	if err != nil {
		return nil, err
	}

	// Time-major decoder input, one sos row per lane.
	decIn := make([]int64, lanes)
	for b := range decIn {
		decIn[b] = m.Config.SosID
	}
	finished := make([]bool, lanes)
	outputs := make([][]int64, lanes)

	for step := 0; step < maxLen; step++ {
		Tt := step + 1
		tgt, err := tensor.FromSlice(append([]int64(nil), decIn...), tensor.Shape{Tt, lanes})
		if err != nil {
			return nil, err
		}
		tgtPad := m.padMask(tgt, Tt, lanes)

		tgtEmb, err := m.TgtEmbed.Forward(tgt)
		if err != nil {
			return nil, err
		}
		if err := m.PosEnc.Apply(tgtEmb.ToFloat32Slice(), Tt, lanes); err != nil {
			return nil, err
		}

		x := tgtEmb
		for _, layer := range m.Decoder {
			x, _, err = layer.ForwardWithCache(x, memory, Tt, Ts, lanes, tgtPad, srcPad)
			if err != nil {
				return nil, err
			}
		}
		logits, err := m.Out.Forward(x)
		if err != nil {
			return nil, err
		}

		// Last timestep's row per lane.
		logitsData := logits.ToFloat32Slice()
		V := m.Config.TgtVocab
		next := make([]int64, lanes)
		allDone := true
		for b := 0; b < lanes; b++ {
			if finished[b] {
				next[b] = m.Config.PadID
				continue
			}
			row := logitsData[((Tt-1)*lanes+b)*V : ((Tt-1)*lanes+b+1)*V]
			tok := int64(ArgMax(row))
			if tok == m.Config.EosID {
				finished[b] = true
			} else {
				outputs[b] = append(outputs[b], tok)
				allDone = false
			}
			next[b] = tok
		}
		if allDone {
			break
		}
		decIn = append(decIn, next...)
	}
	return outputs, nil
}

// Parameters returns all trainable parameters.
func (m *Seq2Seq) Parameters() []*tensor.Tensor {
	params := m.SrcEmbed.Parameters()
	params = append(params, m.TgtEmbed.Parameters()...)
	for _, layer := range m.Encoder {
		params = append(params, layer.Parameters()...)
	}
	for _, layer := range m.Decoder {
		params = append(params, layer.Parameters()...)
	}
	return append(params, m.Out.Parameters()...)
}
