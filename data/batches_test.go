package data

import (
	"testing"

	"github.com/djeday123/charseq/vocab"
)

func TestBatchesScenario(t *testing.T) {
	// "ab\nba\n" encoded: a=2, b=3, \n=4.
	seq := []int64{2, 3, 4, 3, 2, 4}
	b, err := NewBatches(seq, 2, 2, vocab.PadID)
	if err != nil {
		t.Fatalf("NewBatches: %v", err)
	}

	if b.SegmentLen != 3 {
		t.Errorf("segment len = %d, want 3", b.SegmentLen)
	}
	if b.Len() != 2 {
		t.Fatalf("windows = %d, want 2", b.Len())
	}

	// Lane 0 = [2,3,4], lane 1 = [3,2,4]; time-major grid rows are
	// [2,3], [3,2], [4,4]. Window 0 carries the synthetic pad row.
	w0 := b.Windows[0]
	wantShape0 := []int{3, 2}
	if w0.Shape()[0] != wantShape0[0] || w0.Shape()[1] != wantShape0[1] {
		t.Fatalf("window 0 shape %v, want %v", w0.Shape(), wantShape0)
	}
	want0 := []int64{0, 0, 2, 3, 3, 2}
	got0 := w0.ToInt64Slice()
	for i := range want0 {
		if got0[i] != want0[i] {
			t.Errorf("window 0 [%d] = %d, want %d", i, got0[i], want0[i])
		}
	}

	// Window 1 repeats window 0's last row and is ragged (2 rows).
	w1 := b.Windows[1]
	if w1.Shape()[0] != 2 || w1.Shape()[1] != 2 {
		t.Fatalf("window 1 shape %v, want [2 2]", w1.Shape())
	}
	want1 := []int64{3, 2, 4, 4}
	got1 := w1.ToInt64Slice()
	for i := range want1 {
		if got1[i] != want1[i] {
			t.Errorf("window 1 [%d] = %d, want %d", i, got1[i], want1[i])
		}
	}
}

func TestBatchesGridSizeAndReconstruction(t *testing.T) {
	seq := []int64{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	const bsz = 3
	const bptt = 2

	b, err := NewBatches(seq, bsz, bptt, vocab.PadID)
	if err != nil {
		t.Fatalf("NewBatches: %v", err)
	}

	wantSeg := (len(seq) + bsz - 1) / bsz
	if b.SegmentLen != wantSeg {
		t.Fatalf("segment len = %d, want %d", b.SegmentLen, wantSeg)
	}

	// Dropping window 0's pad prefix and every later window's overlap
	// row reconstructs the padded grid in time-major order.
	var rebuilt []int64
	for i, w := range b.Windows {
		rows := w.Shape()[0]
		data := w.ToInt64Slice()
		start := 1 // pad row for window 0, overlap row after
		_ = i
		rebuilt = append(rebuilt, data[start*bsz:rows*bsz]...)
	}

	if len(rebuilt) != bsz*wantSeg {
		t.Fatalf("rebuilt %d cells, want %d", len(rebuilt), bsz*wantSeg)
	}
	for tstep := 0; tstep < wantSeg; tstep++ {
		for lane := 0; lane < bsz; lane++ {
			var want int64 = vocab.PadID
			if idx := lane*wantSeg + tstep; idx < len(seq) {
				want = seq[idx]
			}
			if got := rebuilt[tstep*bsz+lane]; got != want {
				t.Errorf("grid[%d][%d] = %d, want %d", tstep, lane, got, want)
			}
		}
	}
}

func TestBatchesSplit(t *testing.T) {
	seq := []int64{2, 3, 4, 3, 2, 4}
	b, err := NewBatches(seq, 2, 2, vocab.PadID)
	if err != nil {
		t.Fatalf("NewBatches: %v", err)
	}

	input, target, err := Split(b.Windows[0])
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if input.Shape()[0] != 2 || input.Shape()[1] != 2 {
		t.Fatalf("input shape %v, want [2 2]", input.Shape())
	}
	wantIn := []int64{0, 0, 2, 3}
	for i, got := range input.ToInt64Slice() {
		if got != wantIn[i] {
			t.Errorf("input[%d] = %d, want %d", i, got, wantIn[i])
		}
	}
	wantTg := []int64{2, 3, 3, 2}
	for i, got := range target.ToInt64Slice() {
		if got != wantTg[i] {
			t.Errorf("target[%d] = %d, want %d", i, got, wantTg[i])
		}
	}
}

func TestBatchesEmptySequence(t *testing.T) {
	if _, err := NewBatches(nil, 2, 2, vocab.PadID); err == nil {
		t.Fatal("expected error for empty sequence")
	}
}
