package optim

import (
	"math"
	"testing"

	_ "github.com/djeday123/charseq/backend/cpu"
	"github.com/djeday123/charseq/tensor"
)

func paramWithGrad(t *testing.T, values, grads []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.FromSlice(values, tensor.Shape{len(values)})
	if err != nil {
		t.Fatal(err)
	}
	copy(p.Grad().ToFloat32Slice(), grads)
	return p
}

func TestClipGradNorm(t *testing.T) {
	p1 := paramWithGrad(t, []float32{0, 0}, []float32{3, 0})
	p2 := paramWithGrad(t, []float32{0, 0}, []float32{0, 4})
	params := []*tensor.Tensor{p1, p2}

	pre := ClipGradNorm(params, 1.0)
	if math.Abs(pre-5) > 1e-6 {
		t.Errorf("Expected pre-clip norm 5, got %f", pre)
	}

	var post float64
	for _, p := range params {
		for _, g := range p.Grad().ToFloat32Slice() {
			post += float64(g) * float64(g)
		}
	}
	post = math.Sqrt(post)
	if post > 1.0+1e-5 {
		t.Errorf("Expected post-clip norm <= 1, got %f", post)
	}
}

func TestClipGradNormBelowThreshold(t *testing.T) {
	p := paramWithGrad(t, []float32{0}, []float32{0.5})

	pre := ClipGradNorm([]*tensor.Tensor{p}, 1.0)
	if math.Abs(pre-0.5) > 1e-6 {
		t.Errorf("Expected pre-clip norm 0.5, got %f", pre)
	}
	if g := p.Grad().ToFloat32Slice()[0]; g != 0.5 {
		t.Errorf("Expected gradient untouched below the threshold, got %f", g)
	}
}

func TestAdamStepDirection(t *testing.T) {
	p := paramWithGrad(t, []float32{1, 1}, []float32{2, -2})
	opt := NewAdam([]*tensor.Tensor{p}, 0.1)

	opt.Step()

	data := p.ToFloat32Slice()
	if data[0] >= 1 {
		t.Errorf("Expected positive gradient to decrease the parameter, got %f", data[0])
	}
	if data[1] <= 1 {
		t.Errorf("Expected negative gradient to increase the parameter, got %f", data[1])
	}
}

func TestZeroGrad(t *testing.T) {
	p := paramWithGrad(t, []float32{1}, []float32{7})
	opt := NewAdam([]*tensor.Tensor{p}, 0.1)

	opt.ZeroGrad()
	if g := p.Grad().ToFloat32Slice()[0]; g != 0 {
		t.Errorf("Expected zeroed gradient, got %f", g)
	}
}
