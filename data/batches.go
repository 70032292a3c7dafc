package data

import (
	"fmt"

	"github.com/djeday123/charseq/tensor"
)

// Batches carves a flat ID sequence into overlapping BPTT windows.
//
// The sequence is padded to B lanes of segmentLen steps, laid out
// time-major. Window 0 gets one synthetic pad row so the first real
// input has a defined previous symbol; every later window starts one
// row early, repeating the previous window's last row, so recurrent
// state carried across windows sees an unbroken sequence. Within a
// window rows [0..n-2] are model input and rows [1..n-1] the target.
type Batches struct {
	Windows    []*tensor.Tensor // each [rows, B] int64, time-major
	SegmentLen int
	Lanes      int
}

// NewBatches builds the window list for lane count bsz and window
// length bpttLen. The final window may be shorter than bpttLen+1 rows.
func NewBatches(data []int64, bsz, bpttLen int, padID int64) (*Batches, error) {
	if bsz <= 0 || bpttLen <= 0 {
		return nil, fmt.Errorf("batches: need positive lane count and window length, got %d, %d", bsz, bpttLen)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("batches: empty sequence")
	}

	segmentLen := (len(data) + bsz - 1) / bsz

	padded := make([]int64, bsz*segmentLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = padID
	}

	// (bsz, segmentLen) lane-major, read transposed below.
	laneAt := func(t, b int) int64 { return padded[b*segmentLen+t] }

	numWindows := (segmentLen + bpttLen - 1) / bpttLen
	windows := make([]*tensor.Tensor, 0, numWindows)

	for i := 0; i < numWindows; i++ {
		start := i*bpttLen - 1
		end := (i + 1) * bpttLen
		if end > segmentLen {
			end = segmentLen
		}

		var rows [][]int64
		if i == 0 {
			padRow := make([]int64, bsz)
			for b := range padRow {
				padRow[b] = padID
			}
			rows = append(rows, padRow)
			start = 0
		}
		for t := start; t < end; t++ {
			row := make([]int64, bsz)
			for b := 0; b < bsz; b++ {
				row[b] = laneAt(t, b)
			}
			rows = append(rows, row)
		}

		flat := make([]int64, 0, len(rows)*bsz)
		for _, row := range rows {
			flat = append(flat, row...)
		}
		w, err := tensor.FromSlice(flat, tensor.Shape{len(rows), bsz})
		if err != nil {
			return nil, fmt.Errorf("batches: window %d: %w", i, err)
		}
		windows = append(windows, w)
	}

	return &Batches{Windows: windows, SegmentLen: segmentLen, Lanes: bsz}, nil
}

// Len returns the number of windows.
func (b *Batches) Len() int { return len(b.Windows) }

// Split separates a window into its input rows and flattened target.
// input: [rows-1, lanes] int64; target: [(rows-1)*lanes] int64.
func Split(window *tensor.Tensor) (input, target *tensor.Tensor, err error) {
	shape := window.Shape()
	rows := shape[0]
	lanes := shape[1]
	if rows < 2 {
		return nil, nil, fmt.Errorf("batches: window needs at least 2 rows, got %d", rows)
	}
	data := window.ToInt64Slice()

	in := make([]int64, (rows-1)*lanes)
	copy(in, data[:(rows-1)*lanes])
	input, err = tensor.FromSlice(in, tensor.Shape{rows - 1, lanes})
	if err != nil {
		return nil, nil, err
	}

	tg := make([]int64, (rows-1)*lanes)
	copy(tg, data[lanes:rows*lanes])
	target, err = tensor.FromSlice(tg, tensor.Shape{(rows - 1) * lanes})
	if err != nil {
		return nil, nil, err
	}
	return input, target, nil
}
