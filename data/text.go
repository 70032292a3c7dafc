// Package data turns text files into the integer tensors the models
// consume: a flat character-ID stream with BPTT windows for the
// language-model path, and padded source/target pairs for the
// sequence-to-sequence path.
package data

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/djeday123/charseq/vocab"
)

// LoadCorpus reads a text file character by character and maps every
// character (newlines included) through the vocabulary. With extend
// set, unseen characters grow an open vocabulary in first-seen order.
func LoadCorpus(path string, v *vocab.Vocabulary, extend bool) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load corpus %s: %w", path, err)
	}
	defer f.Close()

	var ids []int64
	r := bufio.NewReader(f)
	for {
		ch, _, err := r.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("load corpus %s: %w", path, err)
		}
		ids = append(ids, v.GetIdx(string(ch), extend))
	}
	return ids, nil
}
