package train

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/djeday123/charseq/data"
	"github.com/djeday123/charseq/nn"
	"github.com/djeday123/charseq/ops"
	"github.com/djeday123/charseq/optim"
	"github.com/djeday123/charseq/tensor"
	"github.com/djeday123/charseq/vocab"
)

// Seq2SeqConfig holds encoder-decoder training hyperparameters.
type Seq2SeqConfig struct {
	Epochs      int
	BatchSize   int
	LR          float64
	Clip        float64
	AccumSteps  int // optimizer steps once per this many batches
	ReportEvery int
	Seed        int64
}

func DefaultSeq2SeqConfig() Seq2SeqConfig {
	return Seq2SeqConfig{
		Epochs:      3,
		BatchSize:   64,
		LR:          1e-5,
		Clip:        0.1,
		AccumSteps:  100,
		ReportEvery: 5000,
		Seed:        time.Now().UnixNano(),
	}
}

// Seq2SeqTrainer runs teacher-forced training of the encoder-decoder
// model with gradient accumulation.
type Seq2SeqTrainer struct {
	Model     *nn.Seq2Seq
	Optimizer *optim.Adam
	TrainSet  *data.Parallel
	ValidSet  *data.Parallel
	Config    Seq2SeqConfig
	Reporter  Reporter

	rng *rand.Rand
}

func NewSeq2SeqTrainer(model *nn.Seq2Seq, trainSet, validSet *data.Parallel, cfg Seq2SeqConfig) *Seq2SeqTrainer {
	opt := optim.NewAdam(model.Parameters(), cfg.LR)
	opt.MaxGradNorm = cfg.Clip

	return &Seq2SeqTrainer{
		Model:     model,
		Optimizer: opt,
		TrainSet:  trainSet,
		ValidSet:  validSet,
		Config:    cfg,
		Reporter:  StdoutReporter{},
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}
}

// SplitTeacherForcing splits a time-major target batch [T, lanes] into
// the decoder input (all rows but the last) and the flattened labels
// (all rows but the first).
func SplitTeacherForcing(tgt *tensor.Tensor) (decIn, labels *tensor.Tensor, err error) {
	shape := tgt.Shape()
	if len(shape) != 2 || shape[0] < 2 {
		return nil, nil, fmt.Errorf("teacher forcing needs [time, lanes] with time >= 2, got %v", shape)
	}
	T, lanes := shape[0], shape[1]
	tData := tgt.ToInt64Slice()

	decIn, err = tensor.FromSlice(append([]int64(nil), tData[:(T-1)*lanes]...), tensor.Shape{T - 1, lanes})
	if err != nil {
		return nil, nil, err
	}
	labels, err = tensor.FromSlice(append([]int64(nil), tData[lanes:]...), tensor.Shape{(T - 1) * lanes})
	if err != nil {
		return nil, nil, err
	}
	return decIn, labels, nil
}

// TokenAccuracy counts argmax hits over the non-pad label positions.
func TokenAccuracy(logits, labels *tensor.Tensor, padID int64) (correct, total int) {
	lData := logits.ToFloat32Slice()
	tData := labels.ToInt64Slice()
	V := logits.Shape()[1]

	for i, label := range tData {
		if label == padID {
			continue
		}
		total++
		if int64(nn.ArgMax(lData[i*V:(i+1)*V])) == label {
			correct++
		}
	}
	return correct, total
}

// Train runs all epochs, shuffling the pairs each epoch and stepping
// the optimizer once per AccumSteps batches. After each epoch the
// validation set is scored without updating parameters.
func (t *Seq2SeqTrainer) Train() error {
	cfg := t.Config

	t.Reporter.Printf("Training: %d pairs, batch=%d, lr=%g, accum=%d\n",
		t.TrainSet.Len(), cfg.BatchSize, cfg.LR, cfg.AccumSteps)

	start := time.Now()
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := t.trainEpoch(epoch); err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}

		valLoss, valAcc, err := t.Evaluate(t.ValidSet)
		if err != nil {
			return fmt.Errorf("epoch %d validation: %w", epoch, err)
		}
		t.Reporter.Printf("epoch %d | val loss %.4f | val acc %.4f\n", epoch, valLoss, valAcc)
	}
	t.Reporter.Printf("Training complete in %v\n", time.Since(start))
	return nil
}

func (t *Seq2SeqTrainer) trainEpoch(epoch int) error {
	cfg := t.Config

	t.TrainSet.Shuffle(t.rng)
	t.Optimizer.ZeroGrad()

	batchIdx := 0
	runningLoss := float64(0)
	runningBatches := 0

	for start := 0; start < t.TrainSet.Len(); start += cfg.BatchSize {
		n := cfg.BatchSize
		if start+n > t.TrainSet.Len() {
			n = t.TrainSet.Len() - start
		}

		src, tgt, err := t.TrainSet.Batch(start, n)
		if err != nil {
			return err
		}
		decIn, labels, err := SplitTeacherForcing(tgt)
		if err != nil {
			return err
		}

		logits, cache, err := t.Model.ForwardWithCache(src, decIn)
		if err != nil {
			return fmt.Errorf("batch %d: %w", batchIdx, err)
		}

		loss, _, err := ops.CrossEntropyLoss(logits, labels, vocab.PadID)
		if err != nil {
			return fmt.Errorf("batch %d: %w", batchIdx, err)
		}
		runningLoss += loss
		runningBatches++

		dLogits, err := ops.CrossEntropyBackward(logits, labels, vocab.PadID)
		if err != nil {
			return err
		}
		if err := t.Model.Backward(cache, dLogits); err != nil {
			return err
		}

		batchIdx++
		if batchIdx%cfg.AccumSteps == 0 {
			t.Optimizer.Step()
			t.Optimizer.ZeroGrad()
		}

		if cfg.ReportEvery > 0 && batchIdx%cfg.ReportEvery == 0 {
			correct, total := TokenAccuracy(logits, labels, vocab.PadID)
			acc := float64(0)
			if total > 0 {
				acc = float64(correct) / float64(total)
			}
			t.Reporter.Printf("epoch %d | batch %6d | loss %.4f | acc %.4f\n",
				epoch, batchIdx, runningLoss/float64(runningBatches), acc)
			runningLoss, runningBatches = 0, 0
		}
	}

	// Flush gradients from a trailing partial accumulation group.
	if batchIdx%cfg.AccumSteps != 0 {
		t.Optimizer.Step()
		t.Optimizer.ZeroGrad()
	}
	return nil
}

// Evaluate scores a dataset without touching parameters. Returns the
// token-weighted mean loss and the token-level accuracy.
func (t *Seq2SeqTrainer) Evaluate(set *data.Parallel) (loss, accuracy float64, err error) {
	cfg := t.Config

	totalLoss := float64(0)
	totalTokens := 0
	correct, counted := 0, 0

	for start := 0; start < set.Len(); start += cfg.BatchSize {
		n := cfg.BatchSize
		if start+n > set.Len() {
			n = set.Len() - start
		}

		src, tgt, err := set.Batch(start, n)
		if err != nil {
			return 0, 0, err
		}
		decIn, labels, err := SplitTeacherForcing(tgt)
		if err != nil {
			return 0, 0, err
		}

		logits, _, err := t.Model.ForwardWithCache(src, decIn)
		if err != nil {
			return 0, 0, err
		}
		batchLoss, count, err := ops.CrossEntropyLoss(logits, labels, vocab.PadID)
		if err != nil {
			return 0, 0, err
		}
		totalLoss += batchLoss * float64(count)
		totalTokens += count

		c, n2 := TokenAccuracy(logits, labels, vocab.PadID)
		correct += c
		counted += n2
	}

	if totalTokens > 0 {
		loss = totalLoss / float64(totalTokens)
	}
	if counted > 0 {
		accuracy = float64(correct) / float64(counted)
	}
	return loss, accuracy, nil
}
