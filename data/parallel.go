package data

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/djeday123/charseq/tensor"
	"github.com/djeday123/charseq/vocab"
)

// Parallel holds aligned source/target examples, encoded and padded.
// Sources are padded to the longest source line; targets are wrapped
// sos ... eos and padded to the longest target line plus two.
type Parallel struct {
	Src [][]int64 // each of length SrcLen
	Tgt [][]int64 // each of length TgtLen

	SrcLen int
	TgtLen int
}

// LoadParallel reads two aligned text files (one example per line,
// paired by line index). Each side is scanned twice: once for the
// per-side maximum line length, once to encode. The newline belongs to
// its line, like every other character.
func LoadParallel(srcPath, tgtPath string, srcVocab, tgtVocab *vocab.Vocabulary, extend bool) (*Parallel, error) {
	srcMax, err := maxLineLen(srcPath)
	if err != nil {
		return nil, err
	}
	tgtMax, err := maxLineLen(tgtPath)
	if err != nil {
		return nil, err
	}
	tgtMax += 2 // room for the sos/eos markers

	src, err := encodeLines(srcPath, srcVocab, extend, srcMax, false)
	if err != nil {
		return nil, err
	}
	tgt, err := encodeLines(tgtPath, tgtVocab, extend, tgtMax, true)
	if err != nil {
		return nil, err
	}

	if len(src) != len(tgt) {
		return nil, fmt.Errorf("parallel: %d source lines vs %d target lines", len(src), len(tgt))
	}

	return &Parallel{Src: src, Tgt: tgt, SrcLen: srcMax, TgtLen: tgtMax}, nil
}

func maxLineLen(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("parallel: %w", err)
	}
	defer f.Close()

	maxLen := 0
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if n := len([]rune(line)); n > maxLen {
			maxLen = n
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("parallel: %s: %w", path, err)
		}
	}
	return maxLen, nil
}

func encodeLines(path string, v *vocab.Vocabulary, extend bool, padTo int, wrap bool) ([][]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parallel: %w", err)
	}
	defer f.Close()

	var out [][]int64
	r := bufio.NewReader(f)
	for {
		line, rerr := r.ReadString('\n')
		if rerr != nil && rerr != io.EOF {
			return nil, fmt.Errorf("parallel: %s: %w", path, rerr)
		}
		if len(line) > 0 {
			seq := make([]int64, 0, padTo)
			if wrap {
				seq = append(seq, vocab.SosID)
			}
			for _, ch := range line {
				seq = append(seq, v.GetIdx(string(ch), extend))
			}
			if wrap {
				seq = append(seq, vocab.EosID)
			}
			if len(seq) > padTo {
				return nil, fmt.Errorf("parallel: %s: line of %d tokens exceeds pad length %d", path, len(seq), padTo)
			}
			for len(seq) < padTo {
				seq = append(seq, vocab.PadID)
			}
			out = append(out, seq)
		}
		if rerr == io.EOF {
			break
		}
	}
	return out, nil
}

// Len returns the number of examples.
func (p *Parallel) Len() int { return len(p.Src) }

// Shuffle permutes the example order in place, keeping pairs aligned.
func (p *Parallel) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(p.Src), func(i, j int) {
		p.Src[i], p.Src[j] = p.Src[j], p.Src[i]
		p.Tgt[i], p.Tgt[j] = p.Tgt[j], p.Tgt[i]
	})
}

// Batch materializes examples [start, start+n) as time-major int64
// tensors: src [SrcLen, n], tgt [TgtLen, n].
func (p *Parallel) Batch(start, n int) (src, tgt *tensor.Tensor, err error) {
	if start < 0 || start+n > p.Len() {
		return nil, nil, fmt.Errorf("parallel: batch [%d, %d) out of range [0, %d)", start, start+n, p.Len())
	}

	srcFlat := make([]int64, p.SrcLen*n)
	for t := 0; t < p.SrcLen; t++ {
		for b := 0; b < n; b++ {
			srcFlat[t*n+b] = p.Src[start+b][t]
		}
	}
	src, err = tensor.FromSlice(srcFlat, tensor.Shape{p.SrcLen, n})
	if err != nil {
		return nil, nil, err
	}

	tgtFlat := make([]int64, p.TgtLen*n)
	for t := 0; t < p.TgtLen; t++ {
		for b := 0; b < n; b++ {
			tgtFlat[t*n+b] = p.Tgt[start+b][t]
		}
	}
	tgt, err = tensor.FromSlice(tgtFlat, tensor.Shape{p.TgtLen, n})
	if err != nil {
		return nil, nil, err
	}
	return src, tgt, nil
}
