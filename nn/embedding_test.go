package nn

import (
	"testing"

	"github.com/djeday123/charseq/tensor"
)

func TestEmbeddingLookup(t *testing.T) {
	e, err := NewEmbedding(4, 3)
	if err != nil {
		t.Fatal(err)
	}
	ids, _ := tensor.FromSlice([]int64{2, 0}, tensor.Shape{2})

	out, err := e.Forward(ids)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Equal(tensor.Shape{2, 3}) {
		t.Fatalf("Expected [2 3], got %v", out.Shape())
	}

	w := e.Weight.ToFloat32Slice()
	got := out.ToFloat32Slice()
	for d := 0; d < 3; d++ {
		if got[d] != w[2*3+d] {
			t.Errorf("Row 0 dim %d: expected weight row 2 value %f, got %f", d, w[2*3+d], got[d])
		}
		if got[3+d] != w[d] {
			t.Errorf("Row 1 dim %d: expected weight row 0 value %f, got %f", d, w[d], got[3+d])
		}
	}
}

func TestEmbeddingOutOfRange(t *testing.T) {
	e, err := NewEmbedding(4, 3)
	if err != nil {
		t.Fatal(err)
	}

	ids, _ := tensor.FromSlice([]int64{5}, tensor.Shape{1})
	if _, err := e.Forward(ids); err == nil {
		t.Error("Expected error for an ID past the vocabulary")
	}

	neg, _ := tensor.FromSlice([]int64{-1}, tensor.Shape{1})
	if _, err := e.Forward(neg); err == nil {
		t.Error("Expected error for a negative ID")
	}
}
