package train

import (
	"testing"

	_ "github.com/djeday123/charseq/backend/cpu"
	"github.com/djeday123/charseq/data"
	"github.com/djeday123/charseq/nn"
	"github.com/djeday123/charseq/tensor"
)

type nopReporter struct{}

func (nopReporter) Printf(format string, args ...any) {}

func TestSplitTeacherForcing(t *testing.T) {
	// Time-major [3, 2]: lane 0 = [3 5 2], lane 1 = [3 6 2].
	tgt, _ := tensor.FromSlice([]int64{3, 3, 5, 6, 2, 2}, tensor.Shape{3, 2})

	decIn, labels, err := SplitTeacherForcing(tgt)
	if err != nil {
		t.Fatal(err)
	}

	if !decIn.Shape().Equal(tensor.Shape{2, 2}) {
		t.Errorf("Expected decoder input [2 2], got %v", decIn.Shape())
	}
	wantIn := []int64{3, 3, 5, 6}
	for i, v := range decIn.ToInt64Slice() {
		if v != wantIn[i] {
			t.Errorf("decIn[%d]: expected %d, got %d", i, wantIn[i], v)
		}
	}

	wantLabels := []int64{5, 6, 2, 2}
	for i, v := range labels.ToInt64Slice() {
		if v != wantLabels[i] {
			t.Errorf("labels[%d]: expected %d, got %d", i, wantLabels[i], v)
		}
	}

	short, _ := tensor.FromSlice([]int64{3, 3}, tensor.Shape{1, 2})
	if _, _, err := SplitTeacherForcing(short); err == nil {
		t.Error("Expected error for a single-row target")
	}
}

func TestTokenAccuracy(t *testing.T) {
	logits, _ := tensor.FromSlice([]float32{
		0, 9, 0, // argmax 1
		0, 0, 9, // argmax 2
		9, 0, 0, // argmax 0, but label is pad
		0, 9, 0, // argmax 1, label 2: miss
	}, tensor.Shape{4, 3})
	labels, _ := tensor.FromSlice([]int64{1, 2, 0, 2}, tensor.Shape{4})

	correct, total := TokenAccuracy(logits, labels, 0)
	if total != 3 {
		t.Errorf("Expected 3 counted positions, got %d", total)
	}
	if correct != 2 {
		t.Errorf("Expected 2 hits, got %d", correct)
	}
}

func TestSeq2SeqTrainerSmoke(t *testing.T) {
	set := &data.Parallel{
		Src: [][]int64{
			{4, 5, 0},
			{5, 4, 0},
			{4, 4, 5},
			{5, 5, 4},
		},
		Tgt: [][]int64{
			{3, 5, 2, 0},
			{3, 4, 2, 0},
			{3, 5, 5, 2},
			{3, 4, 4, 2},
		},
		SrcLen: 3,
		TgtLen: 4,
	}

	mcfg := nn.DefaultSeq2SeqConfig()
	mcfg.SrcVocab = 6
	mcfg.TgtVocab = 6
	mcfg.DModel = 8
	mcfg.NumHeads = 2
	mcfg.EncLayers = 1
	mcfg.DecLayers = 1
	mcfg.FFDim = 16
	mcfg.MaxLen = 16

	model, err := nn.NewSeq2Seq(mcfg)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultSeq2SeqConfig()
	cfg.Epochs = 1
	cfg.BatchSize = 2
	cfg.AccumSteps = 1
	cfg.ReportEvery = 0
	cfg.Seed = 7

	trainer := NewSeq2SeqTrainer(model, set, set, cfg)
	trainer.Reporter = nopReporter{}

	if err := trainer.Train(); err != nil {
		t.Fatal(err)
	}

	loss, acc, err := trainer.Evaluate(set)
	if err != nil {
		t.Fatal(err)
	}
	if loss <= 0 {
		t.Errorf("Expected positive validation loss, got %f", loss)
	}
	if acc < 0 || acc > 1 {
		t.Errorf("Expected accuracy in [0,1], got %f", acc)
	}
}
