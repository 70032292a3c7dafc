package ops

import (
	"fmt"
	"math"

	"github.com/djeday123/charseq/tensor"
)

// CrossEntropyLoss computes mean cross-entropy between logits and targets.
// logits: [n, vocabSize] (float32)
// targets: [n] (int64)
// Positions whose target equals ignoreIndex contribute nothing to the
// loss or to the averaging count. Returns the mean loss and the number
// of positions counted.
func CrossEntropyLoss(logits, targets *tensor.Tensor, ignoreIndex int64) (float64, int, error) {
	shape := logits.Shape()
	if len(shape) != 2 {
		return 0, 0, fmt.Errorf("cross entropy: logits must be 2D, got %v", shape)
	}
	n := shape[0]
	vocabSize := shape[1]
	if targets.NumElements() != n {
		return 0, 0, fmt.Errorf("cross entropy: %d logit rows vs %d targets", n, targets.NumElements())
	}

	logitsData := logits.ToFloat32Slice()
	targetsData := targets.ToInt64Slice()

	totalLoss := float64(0)
	count := 0

	for i := 0; i < n; i++ {
		target := targetsData[i]
		if target == ignoreIndex {
			continue
		}
		if target < 0 || int(target) >= vocabSize {
			return 0, 0, fmt.Errorf("cross entropy: target %d out of range [0, %d)", target, vocabSize)
		}
		offset := i * vocabSize

		// x_target - max - log(sum(exp(x - max)))
		maxVal := float64(-math.MaxFloat64)
		for v := 0; v < vocabSize; v++ {
			val := float64(logitsData[offset+v])
			if val > maxVal {
				maxVal = val
			}
		}
		sumExp := float64(0)
		for v := 0; v < vocabSize; v++ {
			sumExp += math.Exp(float64(logitsData[offset+v]) - maxVal)
		}
		logSumExp := maxVal + math.Log(sumExp)

		totalLoss += logSumExp - float64(logitsData[offset+int(target)])
		count++
	}

	if count > 0 {
		totalLoss /= float64(count)
	}
	return totalLoss, count, nil
}

// CrossEntropyBackward computes the gradient of the mean cross-entropy
// loss w.r.t. logits: softmax(logits) - one_hot(target), divided by the
// number of counted positions. Ignored positions get a zero row.
func CrossEntropyBackward(logits, targets *tensor.Tensor, ignoreIndex int64) (*tensor.Tensor, error) {
	shape := logits.Shape()
	n := shape[0]
	vocabSize := shape[1]

	logitsData := logits.ToFloat32Slice()
	targetsData := targets.ToInt64Slice()

	grad, err := tensor.Zeros(shape, tensor.Float32, logits.Device())
	if err != nil {
		return nil, err
	}
	gradData := grad.ToFloat32Slice()

	count := 0
	for i := 0; i < n; i++ {
		target := targetsData[i]
		if target == ignoreIndex {
			continue
		}
		count++
		offset := i * vocabSize

		maxVal := float32(-math.MaxFloat32)
		for v := 0; v < vocabSize; v++ {
			if logitsData[offset+v] > maxVal {
				maxVal = logitsData[offset+v]
			}
		}
		sumExp := float32(0)
		for v := 0; v < vocabSize; v++ {
			gradData[offset+v] = float32(math.Exp(float64(logitsData[offset+v] - maxVal)))
			sumExp += gradData[offset+v]
		}
		for v := 0; v < vocabSize; v++ {
			gradData[offset+v] /= sumExp
		}
		gradData[offset+int(target)] -= 1.0
	}

	if count > 0 {
		scale := float32(1.0) / float32(count)
		for i := range gradData {
			gradData[i] *= scale
		}
	}
	return grad, nil
}

// Perplexity converts a mean cross-entropy loss to perplexity.
func Perplexity(loss float64) float64 {
	if loss > 700 { // exp overflow guard
		return math.Inf(1)
	}
	return math.Exp(loss)
}
