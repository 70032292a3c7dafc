package decode

import (
	"math/rand"
	"strings"
	"testing"

	_ "github.com/djeday123/charseq/backend/cpu"
	"github.com/djeday123/charseq/nn"
	"github.com/djeday123/charseq/vocab"
)

func testModelAndVocab(t *testing.T) (*nn.LSTMModel, *vocab.Vocabulary) {
	t.Helper()
	v := vocab.New()
	for _, r := range "abc " {
		v.GetIdx(string(r), true)
	}
	if err := v.Freeze(); err != nil {
		t.Fatal(err)
	}

	model, err := nn.NewLSTMModel(nn.LSTMConfig{
		VocabSize: v.Size(), EmbDim: 4, Hidden: 8, NumLayers: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	return model, v
}

func TestCompleteGreedyDeterministic(t *testing.T) {
	model, v := testModelAndVocab(t)

	out1, err := Complete(model, v, "ab", 8, false, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatal(err)
	}
	out2, err := Complete(model, v, "ab", 8, false, rand.New(rand.NewSource(99)))
	if err != nil {
		t.Fatal(err)
	}

	if out1 != out2 {
		t.Errorf("Greedy completion should not depend on the rng: %q vs %q", out1, out2)
	}
	if !strings.HasPrefix(out1, "ab") {
		t.Errorf("Expected completion to start with the prompt, got %q", out1)
	}
	if len(out1) <= len("ab") {
		t.Errorf("Expected the completion to extend the prompt, got %q", out1)
	}
}

func TestCompleteSampledSeeded(t *testing.T) {
	model, v := testModelAndVocab(t)

	out1, err := Complete(model, v, "abc", 16, true, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatal(err)
	}
	out2, err := Complete(model, v, "abc", 16, true, rand.New(rand.NewSource(5)))
	if err != nil {
		t.Fatal(err)
	}
	if out1 != out2 {
		t.Errorf("Same seed should reproduce the sample: %q vs %q", out1, out2)
	}
}

func TestCompleteUnknownPromptChars(t *testing.T) {
	model, v := testModelAndVocab(t)

	// 'Z' never entered the vocabulary; it must map to unk, not fail.
	if _, err := Complete(model, v, "aZb", 4, false, rand.New(rand.NewSource(1))); err != nil {
		t.Fatal(err)
	}
}

func TestCompleteEmptyPrompt(t *testing.T) {
	model, v := testModelAndVocab(t)
	if _, err := Complete(model, v, "", 4, false, rand.New(rand.NewSource(1))); err == nil {
		t.Error("Expected error for an empty prompt")
	}
}
