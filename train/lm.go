package train

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/djeday123/charseq/data"
	"github.com/djeday123/charseq/decode"
	"github.com/djeday123/charseq/nn"
	"github.com/djeday123/charseq/ops"
	"github.com/djeday123/charseq/optim"
	"github.com/djeday123/charseq/vocab"
)

// LMConfig holds language-model training hyperparameters.
type LMConfig struct {
	Epochs      int
	BatchSize   int
	BPTTLen     int
	LR          float64
	Clip        float64
	ReportEvery int
	Prompt      string
	SampleLen   int
	Seed        int64
}

func DefaultLMConfig() LMConfig {
	return LMConfig{
		Epochs:      30,
		BatchSize:   32,
		BPTTLen:     64,
		LR:          0.001,
		Clip:        1.0,
		ReportEvery: 30,
		Prompt:      "Dogs like best to",
		SampleLen:   128,
		Seed:        time.Now().UnixNano(),
	}
}

// LMTrainer runs truncated-BPTT training of the character LSTM.
type LMTrainer struct {
	Model     *nn.LSTMModel
	Optimizer *optim.Adam
	Vocab     *vocab.Vocabulary
	Batches   *data.Batches
	Config    LMConfig
	Reporter  Reporter

	rng *rand.Rand
}

func NewLMTrainer(model *nn.LSTMModel, v *vocab.Vocabulary, batches *data.Batches, cfg LMConfig) *LMTrainer {
	opt := optim.NewAdam(model.Parameters(), cfg.LR)
	opt.MaxGradNorm = cfg.Clip

	return &LMTrainer{
		Model:     model,
		Optimizer: opt,
		Vocab:     v,
		Batches:   batches,
		Config:    cfg,
		Reporter:  StdoutReporter{},
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Train runs all epochs. The recurrent state is carried across the
// windows of an epoch and detached before every step so gradients
// stay inside one window.
func (t *LMTrainer) Train() error {
	cfg := t.Config

	t.Reporter.Printf("Training: %d windows, batch=%d, bptt=%d, lr=%g\n",
		t.Batches.Len(), cfg.BatchSize, cfg.BPTTLen, cfg.LR)

	start := time.Now()
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := t.trainEpoch(epoch); err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
	}
	t.Reporter.Printf("Training complete in %v\n", time.Since(start))
	return nil
}

func (t *LMTrainer) trainEpoch(epoch int) error {
	cfg := t.Config

	state, err := t.Model.InitState(t.Batches.Lanes)
	if err != nil {
		return err
	}

	for w := 0; w < t.Batches.Len(); w++ {
		input, target, err := data.Split(t.Batches.Windows[w])
		if err != nil {
			return fmt.Errorf("window %d: %w", w, err)
		}

		lanes := input.Shape()[1]
		if lanes < state.Lanes {
			if state, err = state.Narrow(lanes); err != nil {
				return err
			}
		}
		if state, err = state.Detach(); err != nil {
			return err
		}

		t.Optimizer.ZeroGrad()

		logits, newState, cache, err := t.Model.ForwardWithCache(input, state)
		if err != nil {
			return fmt.Errorf("window %d: %w", w, err)
		}

		loss, _, err := ops.CrossEntropyLoss(logits, target, vocab.PadID)
		if err != nil {
			return fmt.Errorf("window %d: %w", w, err)
		}

		dLogits, err := ops.CrossEntropyBackward(logits, target, vocab.PadID)
		if err != nil {
			return err
		}
		if err := t.Model.Backward(cache, dLogits); err != nil {
			return err
		}
		t.Optimizer.Step()

		state = newState

		if cfg.ReportEvery > 0 && (w+1)%cfg.ReportEvery == 0 {
			t.Reporter.Printf("epoch %2d | window %4d/%d | loss %.4f | ppl %.2f\n",
				epoch, w+1, t.Batches.Len(), loss, ops.Perplexity(loss))

			sample, err := decode.Complete(t.Model, t.Vocab, cfg.Prompt, cfg.SampleLen, true, t.rng)
			if err != nil {
				return err
			}
			t.Reporter.Printf("  -> %q\n", sample)
		}
	}
	return nil
}
