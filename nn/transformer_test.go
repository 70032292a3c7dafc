package nn

import (
	"testing"

	"github.com/djeday123/charseq/ops"
	"github.com/djeday123/charseq/tensor"
)

func smallSeq2Seq(t *testing.T) *Seq2Seq {
	t.Helper()
	cfg := DefaultSeq2SeqConfig()
	cfg.SrcVocab = 6
	cfg.TgtVocab = 7
	cfg.DModel = 8
	cfg.NumHeads = 2
	cfg.EncLayers = 1
	cfg.DecLayers = 1
	cfg.FFDim = 16
	cfg.MaxLen = 32

	model, err := NewSeq2Seq(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return model
}

func TestSeq2SeqForwardShape(t *testing.T) {
	model := smallSeq2Seq(t)

	src, _ := tensor.FromSlice([]int64{3, 4, 5, 1, 0, 0, 0, 0}, tensor.Shape{4, 2})
	tgt, _ := tensor.FromSlice([]int64{3, 3, 4, 5, 2, 0}, tensor.Shape{3, 2})

	logits, _, err := model.ForwardWithCache(src, tgt)
	if err != nil {
		t.Fatal(err)
	}
	if !logits.Shape().Equal(tensor.Shape{6, 7}) {
		t.Errorf("Expected logits [6 7], got %v", logits.Shape())
	}
}

func TestSeq2SeqLaneMismatch(t *testing.T) {
	model := smallSeq2Seq(t)

	src, _ := tensor.FromSlice([]int64{3, 4}, tensor.Shape{2, 1})
	tgt, _ := tensor.FromSlice([]int64{3, 4, 5, 2}, tensor.Shape{2, 2})

	if _, _, err := model.ForwardWithCache(src, tgt); err == nil {
		t.Error("Expected error when src and tgt lane counts differ")
	}
}

func TestSeq2SeqBackwardProducesGradients(t *testing.T) {
	model := smallSeq2Seq(t)

	src, _ := tensor.FromSlice([]int64{3, 4, 5, 1}, tensor.Shape{4, 1})
	tgt, _ := tensor.FromSlice([]int64{3, 4, 5}, tensor.Shape{3, 1})
	labels, _ := tensor.FromSlice([]int64{4, 5, 2}, tensor.Shape{3})

	logits, cache, err := model.ForwardWithCache(src, tgt)
	if err != nil {
		t.Fatal(err)
	}
	dLogits, err := ops.CrossEntropyBackward(logits, labels, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := model.Backward(cache, dLogits); err != nil {
		t.Fatal(err)
	}

	// Every layer, embeddings included, should have picked up gradient.
	zeroParams := 0
	for _, p := range model.Parameters() {
		nonzero := false
		for _, g := range p.Grad().ToFloat32Slice() {
			if g != 0 {
				nonzero = true
				break
			}
		}
		if !nonzero {
			zeroParams++
		}
	}
	if zeroParams > 0 {
		t.Errorf("Expected gradient on every parameter tensor, %d stayed zero", zeroParams)
	}
}

func TestGreedyDecodeDeterministic(t *testing.T) {
	model := smallSeq2Seq(t)

	src, _ := tensor.FromSlice([]int64{3, 4, 5, 1, 4, 3}, tensor.Shape{3, 2})

	out1, err := model.GreedyDecode(src, 10)
	if err != nil {
		t.Fatal(err)
	}
	out2, err := model.GreedyDecode(src, 10)
	if err != nil {
		t.Fatal(err)
	}

	if len(out1) != 2 || len(out2) != 2 {
		t.Fatalf("Expected one output per lane, got %d and %d", len(out1), len(out2))
	}
	for b := range out1 {
		if len(out1[b]) > 10 {
			t.Errorf("Lane %d: output longer than the decode limit: %d", b, len(out1[b]))
		}
		if len(out1[b]) != len(out2[b]) {
			t.Fatalf("Lane %d: decode is not deterministic", b)
		}
		for i := range out1[b] {
			if out1[b][i] != out2[b][i] {
				t.Fatalf("Lane %d token %d: %d vs %d", b, i, out1[b][i], out2[b][i])
			}
		}
	}
}
