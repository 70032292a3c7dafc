package nn

import (
	"math"
	"testing"
)

func TestPositionalEncodingValues(t *testing.T) {
	pe := NewPositionalEncoding(4, 10)

	row0 := pe.At(0)
	want0 := []float32{0, 1, 0, 1} // sin(0), cos(0) pairs
	for i := range want0 {
		if math.Abs(float64(row0[i]-want0[i])) > 1e-6 {
			t.Errorf("At(0)[%d]: expected %f, got %f", i, want0[i], row0[i])
		}
	}

	row1 := pe.At(1)
	if math.Abs(float64(row1[0])-math.Sin(1)) > 1e-6 {
		t.Errorf("At(1)[0]: expected sin(1), got %f", row1[0])
	}
	if math.Abs(float64(row1[1])-math.Cos(1)) > 1e-6 {
		t.Errorf("At(1)[1]: expected cos(1), got %f", row1[1])
	}
}

func TestPositionalEncodingApply(t *testing.T) {
	pe := NewPositionalEncoding(4, 10)

	const T, lanes = 3, 2
	x := make([]float32, T*lanes*4)
	if err := pe.Apply(x, T, lanes); err != nil {
		t.Fatal(err)
	}

	for pos := 0; pos < T; pos++ {
		row := pe.At(pos)
		for b := 0; b < lanes; b++ {
			for d := 0; d < 4; d++ {
				got := x[(pos*lanes+b)*4+d]
				if math.Abs(float64(got-row[d])) > 1e-6 {
					t.Errorf("pos %d lane %d dim %d: expected %f, got %f", pos, b, d, row[d], got)
				}
			}
		}
	}
}

func TestPositionalEncodingTooLong(t *testing.T) {
	pe := NewPositionalEncoding(4, 5)
	x := make([]float32, 5*1*4)
	if err := pe.Apply(x, 5, 1); err == nil {
		t.Error("Expected error when the sequence reaches the encoding capacity")
	}
}
