package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/djeday123/charseq/backend/cpu"
	"github.com/djeday123/charseq/data"
	"github.com/djeday123/charseq/nn"
	"github.com/djeday123/charseq/train"
	"github.com/djeday123/charseq/vocab"
)

func main() {
	dir := flag.String("dir", "", "dataset directory with train/interpolate .x/.y files")
	epochs := flag.Int("epochs", 3, "training epochs")
	batch := flag.Int("batch", 64, "batch size")
	lr := flag.Float64("lr", 1e-5, "learning rate")
	clip := flag.Float64("clip", 0.1, "gradient norm clip")
	accum := flag.Int("accum", 100, "batches per optimizer step")
	report := flag.Int("report", 5000, "report every N batches")
	decodeLen := flag.Int("decode", 100, "greedy decode length limit")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "usage: seq2seqtrain -dir dataset/ [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	srcVocab := vocab.NewSeq2Seq()
	tgtVocab := vocab.NewSeq2Seq()

	trainSet, err := data.LoadParallel(
		filepath.Join(*dir, "train.x"), filepath.Join(*dir, "train.y"),
		srcVocab, tgtVocab, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := srcVocab.Freeze(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := tgtVocab.Freeze(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	validSet, err := data.LoadParallel(
		filepath.Join(*dir, "interpolate.x"), filepath.Join(*dir, "interpolate.y"),
		srcVocab, tgtVocab, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Train: %d pairs, valid: %d pairs, src vocab %d, tgt vocab %d\n",
		trainSet.Len(), validSet.Len(), srcVocab.Size(), tgtVocab.Size())

	mcfg := nn.DefaultSeq2SeqConfig()
	mcfg.SrcVocab = srcVocab.Size()
	mcfg.TgtVocab = tgtVocab.Size()
	model, err := nn.NewSeq2Seq(mcfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := train.DefaultSeq2SeqConfig()
	cfg.Epochs = *epochs
	cfg.BatchSize = *batch
	cfg.LR = *lr
	cfg.Clip = *clip
	cfg.AccumSteps = *accum
	cfg.ReportEvery = *report
	cfg.Seed = *seed

	trainer := train.NewSeq2SeqTrainer(model, trainSet, validSet, cfg)
	if err := trainer.Train(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Decode a handful of validation inputs to show the model's output.
	n := 5
	if validSet.Len() < n {
		n = validSet.Len()
	}
	src, tgt, err := validSet.Batch(0, n)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	outputs, err := model.GreedyDecode(src, *decodeLen)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Println("\nSample decodes:")
	srcData := src.ToInt64Slice()
	tgtData := tgt.ToInt64Slice()
	Ts := src.Shape()[0]
	Tt := tgt.Shape()[0]
	for b := 0; b < n; b++ {
		in := laneString(srcData, Ts, n, b, srcVocab)
		want := laneString(tgtData, Tt, n, b, tgtVocab)
		got := idsToString(outputs[b], tgtVocab)
		fmt.Printf("  %q -> %q (want %q)\n", strings.TrimSpace(in), got, strings.TrimSpace(want))
	}
}

// laneString renders one lane of a time-major ID batch, skipping the
// reserved markers.
func laneString(ids []int64, T, lanes, lane int, v *vocab.Vocabulary) string {
	seq := make([]int64, 0, T)
	for t := 0; t < T; t++ {
		seq = append(seq, ids[t*lanes+lane])
	}
	return idsToString(seq, v)
}

func idsToString(ids []int64, v *vocab.Vocabulary) string {
	var sb strings.Builder
	for _, id := range ids {
		if id == vocab.PadID || id == vocab.SosID || id == vocab.EosID {
			continue
		}
		tok, err := v.TokenOf(id)
		if err != nil {
			continue
		}
		sb.WriteString(tok)
	}
	return sb.String()
}
