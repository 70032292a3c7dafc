package ops

import (
	"math"
	"testing"

	"github.com/djeday123/charseq/tensor"
)

func TestAddBroadcast(t *testing.T) {
	a, _ := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	b, _ := tensor.FromSlice([]float32{10, 20, 30}, tensor.Shape{3})

	out, err := Add(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{11, 22, 33, 14, 25, 36}
	got := out.ToFloat32Slice()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Add[%d]: expected %f, got %f", i, want[i], got[i])
		}
	}
}

func TestAddShapeMismatch(t *testing.T) {
	a, _ := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3})
	b, _ := tensor.FromSlice([]float32{1, 2}, tensor.Shape{2})
	if _, err := Add(a, b); err == nil {
		t.Error("Expected error for incompatible shapes")
	}
}

func TestMatMul(t *testing.T) {
	a, _ := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2})
	b, _ := tensor.FromSlice([]float32{5, 6, 7, 8}, tensor.Shape{2, 2})

	out, err := MatMul(a, b)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{19, 22, 43, 50}
	got := out.ToFloat32Slice()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MatMul[%d]: expected %f, got %f", i, want[i], got[i])
		}
	}

	c, _ := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3, 1})
	if _, err := MatMul(a, c); err == nil {
		t.Error("Expected error for inner dimension mismatch")
	}
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	x, _ := tensor.FromSlice([]float32{1, 2, 3, -5, 0, 5}, tensor.Shape{2, 3})
	out, err := Softmax(x, 1)
	if err != nil {
		t.Fatal(err)
	}
	data := out.ToFloat32Slice()
	for r := 0; r < 2; r++ {
		var sum float64
		for v := 0; v < 3; v++ {
			p := float64(data[r*3+v])
			if p < 0 || p > 1 {
				t.Errorf("Softmax value out of [0,1]: %f", p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-5 {
			t.Errorf("Row %d: expected sum 1, got %f", r, sum)
		}
	}
}
