package nn

import "github.com/djeday123/charseq/tensor"

// FeedForward is the position-wise two-layer FFN: W2(ReLU(W1 x)).
type FeedForward struct {
	W1 *Linear // [dim → hiddenDim]
	W2 *Linear // [hiddenDim → dim]
}

// NewFeedForward creates a biased two-layer FFN.
func NewFeedForward(dim, hiddenDim int) (*FeedForward, error) {
	w1, err := NewLinear(dim, hiddenDim, true)
	if err != nil {
		return nil, err
	}
	w2, err := NewLinear(hiddenDim, dim, true)
	if err != nil {
		return nil, err
	}
	return &FeedForward{W1: w1, W2: w2}, nil
}

// Forward computes W2(ReLU(W1 x)).
// x: [n, dim] → output: [n, dim]
func (ff *FeedForward) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := ff.W1.Forward(x)
	if err != nil {
		return nil, err
	}
	return ff.W2.Forward(reluForward(h))
}

// Parameters returns trainable parameters.
func (ff *FeedForward) Parameters() []*tensor.Tensor {
	return append(ff.W1.Parameters(), ff.W2.Parameters()...)
}
