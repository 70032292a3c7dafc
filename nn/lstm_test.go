package nn

import (
	"math"
	"testing"

	_ "github.com/djeday123/charseq/backend/cpu"
	"github.com/djeday123/charseq/ops"
	"github.com/djeday123/charseq/tensor"
)

func TestStateDetachIndependence(t *testing.T) {
	model, err := NewLSTMModel(LSTMConfig{VocabSize: 4, EmbDim: 3, Hidden: 4, NumLayers: 1})
	if err != nil {
		t.Fatal(err)
	}
	state, err := model.InitState(2)
	if err != nil {
		t.Fatal(err)
	}
	state.H.ToFloat32Slice()[0] = 1.5

	detached, err := state.Detach()
	if err != nil {
		t.Fatal(err)
	}
	if detached.H.ToFloat32Slice()[0] != 1.5 {
		t.Error("Expected detached state to keep values")
	}

	detached.H.ToFloat32Slice()[0] = -9
	if state.H.ToFloat32Slice()[0] != 1.5 {
		t.Error("Expected writes to the detached state to leave the original intact")
	}
}

func TestStateNarrow(t *testing.T) {
	model, err := NewLSTMModel(LSTMConfig{VocabSize: 4, EmbDim: 3, Hidden: 2, NumLayers: 2})
	if err != nil {
		t.Fatal(err)
	}
	state, err := model.InitState(3)
	if err != nil {
		t.Fatal(err)
	}
	hData := state.H.ToFloat32Slice()
	for i := range hData {
		hData[i] = float32(i)
	}

	narrowed, err := state.Narrow(2)
	if err != nil {
		t.Fatal(err)
	}
	if narrowed.Lanes != 2 {
		t.Errorf("Expected 2 lanes, got %d", narrowed.Lanes)
	}
	got := narrowed.H.ToFloat32Slice()
	// Layer 0 keeps lanes 0,1; layer 1 starts at offset 3*2 in the source.
	want := []float32{0, 1, 2, 3, 6, 7, 8, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Narrow[%d]: expected %f, got %f", i, want[i], got[i])
		}
	}

	if _, err := state.Narrow(5); err == nil {
		t.Error("Expected error when widening the state")
	}
}

func TestLSTMForwardShapes(t *testing.T) {
	model, err := NewLSTMModel(LSTMConfig{VocabSize: 5, EmbDim: 3, Hidden: 4, NumLayers: 2})
	if err != nil {
		t.Fatal(err)
	}
	state, err := model.InitState(2)
	if err != nil {
		t.Fatal(err)
	}
	input, _ := tensor.FromSlice([]int64{1, 2, 3, 4, 0, 1}, tensor.Shape{3, 2})

	logits, newState, _, err := model.ForwardWithCache(input, state)
	if err != nil {
		t.Fatal(err)
	}
	if !logits.Shape().Equal(tensor.Shape{6, 5}) {
		t.Errorf("Expected logits [6 5], got %v", logits.Shape())
	}

	// The carried state must have moved off zero.
	moved := false
	for _, v := range newState.H.ToFloat32Slice() {
		if v != 0 {
			moved = true
			break
		}
	}
	if !moved {
		t.Error("Expected a nonzero state after a forward pass")
	}
}

func TestLSTMLaneMismatch(t *testing.T) {
	model, err := NewLSTMModel(LSTMConfig{VocabSize: 5, EmbDim: 3, Hidden: 4, NumLayers: 1})
	if err != nil {
		t.Fatal(err)
	}
	state, err := model.InitState(3)
	if err != nil {
		t.Fatal(err)
	}
	input, _ := tensor.FromSlice([]int64{1, 2, 3, 4}, tensor.Shape{2, 2})

	if _, _, _, err := model.ForwardWithCache(input, state); err == nil {
		t.Error("Expected error for lane mismatch between input and state")
	}
}

func TestLSTMGradientCheck(t *testing.T) {
	model, err := NewLSTMModel(LSTMConfig{VocabSize: 5, EmbDim: 3, Hidden: 4, NumLayers: 2})
	if err != nil {
		t.Fatal(err)
	}
	input, _ := tensor.FromSlice([]int64{1, 2, 3, 4, 2, 1}, tensor.Shape{3, 2})
	target, _ := tensor.FromSlice([]int64{2, 3, 4, 2, 1, 3}, tensor.Shape{6})

	lossAt := func() float64 {
		state, err := model.InitState(2)
		if err != nil {
			t.Fatal(err)
		}
		logits, _, _, err := model.ForwardWithCache(input, state)
		if err != nil {
			t.Fatal(err)
		}
		loss, _, err := ops.CrossEntropyLoss(logits, target, -1)
		if err != nil {
			t.Fatal(err)
		}
		return loss
	}

	state, err := model.InitState(2)
	if err != nil {
		t.Fatal(err)
	}
	logits, _, cache, err := model.ForwardWithCache(input, state)
	if err != nil {
		t.Fatal(err)
	}
	dLogits, err := ops.CrossEntropyBackward(logits, target, -1)
	if err != nil {
		t.Fatal(err)
	}
	if err := model.Backward(cache, dLogits); err != nil {
		t.Fatal(err)
	}

	const eps = 1e-2
	for pi, p := range model.Parameters() {
		pData := p.ToFloat32Slice()
		gData := p.Grad().ToFloat32Slice()

		for _, j := range []int{0, len(pData) / 2} {
			orig := pData[j]
			pData[j] = orig + eps
			lPlus := lossAt()
			pData[j] = orig - eps
			lMinus := lossAt()
			pData[j] = orig

			numGrad := (lPlus - lMinus) / (2 * eps)
			anaGrad := float64(gData[j])

			// Entries with almost-zero gradient drown in float32 noise.
			if math.Abs(numGrad) < 1e-3 && math.Abs(anaGrad) < 1e-3 {
				continue
			}
			relErr := math.Abs(numGrad-anaGrad) / (math.Abs(numGrad) + math.Abs(anaGrad))
			if relErr > 0.05 {
				t.Errorf("param %d[%d]: analytic %.6f vs numeric %.6f (rel err %.4f)",
					pi, j, anaGrad, numGrad, relErr)
			}
		}
	}
}
