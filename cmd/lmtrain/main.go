package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	_ "github.com/djeday123/charseq/backend/cpu"
	"github.com/djeday123/charseq/data"
	"github.com/djeday123/charseq/decode"
	"github.com/djeday123/charseq/nn"
	"github.com/djeday123/charseq/train"
	"github.com/djeday123/charseq/vocab"
)

func main() {
	dataPath := flag.String("data", "", "path to training text")
	epochs := flag.Int("epochs", 30, "training epochs")
	batch := flag.Int("batch", 32, "batch size (lanes)")
	bptt := flag.Int("bptt", 64, "truncation window length")
	lr := flag.Float64("lr", 0.001, "learning rate")
	clip := flag.Float64("clip", 1.0, "gradient norm clip")
	embDim := flag.Int("emb", 64, "embedding dimension")
	hidden := flag.Int("hidden", 2048, "hidden size")
	layers := flag.Int("layers", 1, "stacked LSTM layers")
	report := flag.Int("report", 30, "report every N windows")
	prompt := flag.String("prompt", "Dogs like best to", "sampling prompt")
	sampleLen := flag.Int("sample", 128, "sampled completion length")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "usage: lmtrain -data corpus.txt [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	v := vocab.New()
	corpus, err := data.LoadCorpus(*dataPath, v, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := v.Freeze(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Corpus: %d chars, vocab %d\n", len(corpus), v.Size())

	batches, err := data.NewBatches(corpus, *batch, *bptt, vocab.PadID)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	mcfg := nn.LSTMConfig{
		VocabSize: v.Size(),
		EmbDim:    *embDim,
		Hidden:    *hidden,
		NumLayers: *layers,
	}
	model, err := nn.NewLSTMModel(mcfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := train.DefaultLMConfig()
	cfg.Epochs = *epochs
	cfg.BatchSize = *batch
	cfg.BPTTLen = *bptt
	cfg.LR = *lr
	cfg.Clip = *clip
	cfg.ReportEvery = *report
	cfg.Prompt = *prompt
	cfg.SampleLen = *sampleLen
	cfg.Seed = *seed

	trainer := train.NewLMTrainer(model, v, batches, cfg)
	if err := trainer.Train(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))
	final, err := decode.Complete(model, v, *prompt, *sampleLen, true, rng)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("\nFinal sample:\n%s\n", final)
}
