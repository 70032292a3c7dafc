package tensor

import "github.com/djeday123/charseq/core"

// Re-export core types so tensor.Shape, tensor.DType etc. still work.
type Shape = core.Shape
type Strides = core.Strides
type DType = core.DType

const (
	Float32 = core.Float32
	Float64 = core.Float64
	Int32   = core.Int32
	Int64   = core.Int64
	Bool    = core.Bool
)

var (
	ContiguousStrides = core.ContiguousStrides
	IsContiguous      = core.IsContiguous
	Permute           = core.Permute
)
