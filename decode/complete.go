// Package decode generates text from trained models.
package decode

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/djeday123/charseq/nn"
	"github.com/djeday123/charseq/tensor"
	"github.com/djeday123/charseq/vocab"
)

// Complete extends a prompt by steps characters. The prompt is fed
// through a fresh single-lane state; unknown characters map to unk.
// With sample=true the next character is drawn from the softmax
// distribution, otherwise it is the argmax. Returns the prompt with
// the completion appended.
func Complete(m *nn.LSTMModel, v *vocab.Vocabulary, prompt string, steps int, sample bool, rng *rand.Rand) (string, error) {
	runes := []rune(prompt)
	if len(runes) == 0 {
		return "", fmt.Errorf("complete: empty prompt")
	}

	ids := make([]int64, len(runes))
	for i, r := range runes {
		ids[i] = v.GetIdx(string(r), false)
	}

	state, err := m.InitState(1)
	if err != nil {
		return "", err
	}

	input, err := tensor.FromSlice(ids, tensor.Shape{len(ids), 1})
	if err != nil {
		return "", err
	}
	logits, state, _, err := m.ForwardWithCache(input, state)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(prompt)

	vocabSize := logits.Shape()[1]
	last := make([]float32, vocabSize)
	copy(last, logits.ToFloat32Slice()[(len(ids)-1)*vocabSize:])

	for i := 0; i < steps; i++ {
		var next int64
		if sample {
			next = sampleLogits(last, rng)
		} else {
			next = int64(nn.ArgMax(last))
		}

		tok, err := v.TokenOf(next)
		if err != nil {
			return "", err
		}
		sb.WriteString(tok)

		step, err := tensor.FromSlice([]int64{next}, tensor.Shape{1, 1})
		if err != nil {
			return "", err
		}
		logits, state, _, err = m.ForwardWithCache(step, state)
		if err != nil {
			return "", err
		}
		copy(last, logits.ToFloat32Slice())
	}
	return sb.String(), nil
}

// sampleLogits draws an index from the softmax of a logit row.
func sampleLogits(logits []float32, rng *rand.Rand) int64 {
	maxLogit := logits[0]
	for _, l := range logits[1:] {
		if l > maxLogit {
			maxLogit = l
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		probs[i] = math.Exp(float64(l - maxLogit))
		sum += probs[i]
	}

	r := rng.Float64() * sum
	var acc float64
	for i, p := range probs {
		acc += p
		if r < acc {
			return int64(i)
		}
	}
	return int64(len(logits) - 1)
}
