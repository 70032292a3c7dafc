package train

import (
	"testing"

	"github.com/djeday123/charseq/data"
	"github.com/djeday123/charseq/nn"
	"github.com/djeday123/charseq/vocab"
)

func TestLMTrainerSmoke(t *testing.T) {
	v := vocab.New()
	text := "abcabcabcabcabcabc"
	ids := make([]int64, 0, len(text))
	for _, r := range text {
		ids = append(ids, v.GetIdx(string(r), true))
	}
	if err := v.Freeze(); err != nil {
		t.Fatal(err)
	}

	batches, err := data.NewBatches(ids, 2, 4, vocab.PadID)
	if err != nil {
		t.Fatal(err)
	}

	model, err := nn.NewLSTMModel(nn.LSTMConfig{
		VocabSize: v.Size(), EmbDim: 4, Hidden: 8, NumLayers: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultLMConfig()
	cfg.Epochs = 2
	cfg.BatchSize = 2
	cfg.BPTTLen = 4
	cfg.ReportEvery = 0
	cfg.Seed = 7

	trainer := NewLMTrainer(model, v, batches, cfg)
	trainer.Reporter = nopReporter{}

	if err := trainer.Train(); err != nil {
		t.Fatal(err)
	}
}
