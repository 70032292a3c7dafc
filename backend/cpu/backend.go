package cpu

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/djeday123/charseq/backend"
	"github.com/djeday123/charseq/core"
)

// Backend implements backend.Backend for CPU.
type Backend struct{}

func init() {
	backend.Register(&Backend{})
}

func (b *Backend) Name() string                   { return "cpu" }
func (b *Backend) DeviceType() backend.DeviceType { return backend.CPU }

// ---- Memory ----

func (b *Backend) Alloc(byteLen int) (backend.Storage, error) {
	return newStorage(byteLen), nil
}

func (b *Backend) Free(s backend.Storage) {
	s.Free()
}

func (b *Backend) Copy(dst, src backend.Storage, byteLen int) error {
	copy(asBytes(dst, byteLen), asBytes(src, byteLen))
	return nil
}

// ---- Fill ----

func (b *Backend) Fill(dst backend.Storage, shape core.Shape, value float64, dtype core.DType) error {
	n := shape.NumElements()
	switch dtype {
	case core.Float32:
		data := f32Slice(dst, n)
		v := float32(value)
		for i := range data {
			data[i] = v
		}
	case core.Float64:
		data := f64Slice(dst, n)
		for i := range data {
			data[i] = value
		}
	case core.Int64:
		data := i64Slice(dst, n)
		v := int64(value)
		for i := range data {
			data[i] = v
		}
	default:
		return fmt.Errorf("fill: unsupported dtype %s", dtype)
	}
	return nil
}

// ---- Binary ops ----

func (b *Backend) Add(dst, a, bStore backend.Storage, shapeA, shapeB, shapeOut core.Shape, dtype core.DType) error {
	return binaryOp(dst, a, bStore, shapeA, shapeB, shapeOut, dtype, func(x, y float32) float32 { return x + y })
}

func (b *Backend) Mul(dst, a, bStore backend.Storage, shapeA, shapeB, shapeOut core.Shape, dtype core.DType) error {
	return binaryOp(dst, a, bStore, shapeA, shapeB, shapeOut, dtype, func(x, y float32) float32 { return x * y })
}

// ---- Scale ----

func (b *Backend) Scale(dst, src backend.Storage, shape core.Shape, alpha float64, dtype core.DType) error {
	if dtype != core.Float32 {
		return fmt.Errorf("scale: only float32 supported, got %s", dtype)
	}
	n := shape.NumElements()
	srcData := f32Slice(src, n)
	dstData := f32Slice(dst, n)
	a := float32(alpha)
	for i := 0; i < n; i++ {
		dstData[i] = srcData[i] * a
	}
	return nil
}

// ---- MatMul ----

func (b *Backend) MatMul(dst, a, bStore backend.Storage, shapeA, shapeB core.Shape, dtype core.DType) error {
	if dtype != core.Float32 {
		return fmt.Errorf("matmul: only float32 supported on cpu, got %s", dtype)
	}
	if len(shapeA) != 2 || len(shapeB) != 2 {
		return fmt.Errorf("matmul: need 2D operands, got %v and %v", shapeA, shapeB)
	}

	M := shapeA[0]
	K := shapeA[1]
	N := shapeB[1]
	if shapeB[0] != K {
		return fmt.Errorf("matmul: inner dims mismatch %v @ %v", shapeA, shapeB)
	}

	matmulF32(
		f32Slice(dst, M*N),
		f32Slice(a, M*K),
		f32Slice(bStore, K*N),
		M, K, N,
	)
	return nil
}

// matmulF32 performs C = A @ B with tiling for cache efficiency.
func matmulF32(c, a, b []float32, M, K, N int) {
	for i := range c {
		c[i] = 0
	}

	const tileSize = 32

	for i0 := 0; i0 < M; i0 += tileSize {
		iEnd := min(i0+tileSize, M)
		for k0 := 0; k0 < K; k0 += tileSize {
			kEnd := min(k0+tileSize, K)
			for j0 := 0; j0 < N; j0 += tileSize {
				jEnd := min(j0+tileSize, N)
				for i := i0; i < iEnd; i++ {
					for k := k0; k < kEnd; k++ {
						aik := a[i*K+k]
						for j := j0; j < jEnd; j++ {
							c[i*N+j] += aik * b[k*N+j]
						}
					}
				}
			}
		}
	}
}

// ---- Softmax ----

func (b *Backend) Softmax(dst, src backend.Storage, shape core.Shape, axis int, dtype core.DType) error {
	if dtype != core.Float32 {
		return fmt.Errorf("softmax: only float32 supported")
	}

	n := shape.NumElements()
	srcData := f32Slice(src, n)
	dstData := f32Slice(dst, n)

	axisSize := shape[axis]
	outerSize := 1
	for i := 0; i < axis; i++ {
		outerSize *= shape[i]
	}
	innerSize := 1
	for i := axis + 1; i < len(shape); i++ {
		innerSize *= shape[i]
	}

	for outer := 0; outer < outerSize; outer++ {
		for inner := 0; inner < innerSize; inner++ {
			// Max for numerical stability
			maxVal := float32(-math.MaxFloat32)
			for a := 0; a < axisSize; a++ {
				idx := outer*axisSize*innerSize + a*innerSize + inner
				if srcData[idx] > maxVal {
					maxVal = srcData[idx]
				}
			}
			sumExp := float32(0)
			for a := 0; a < axisSize; a++ {
				idx := outer*axisSize*innerSize + a*innerSize + inner
				v := float32(math.Exp(float64(srcData[idx] - maxVal)))
				dstData[idx] = v
				sumExp += v
			}
			for a := 0; a < axisSize; a++ {
				idx := outer*axisSize*innerSize + a*innerSize + inner
				dstData[idx] /= sumExp
			}
		}
	}
	return nil
}

// ---- Helpers ----

func asBytes(s backend.Storage, n int) []byte {
	return unsafe.Slice((*byte)(s.Ptr()), n)
}

func f32Slice(s backend.Storage, n int) []float32 {
	return unsafe.Slice((*float32)(s.Ptr()), n)
}

func f64Slice(s backend.Storage, n int) []float64 {
	return unsafe.Slice((*float64)(s.Ptr()), n)
}

func i64Slice(s backend.Storage, n int) []int64 {
	return unsafe.Slice((*int64)(s.Ptr()), n)
}

// binaryOp applies a binary function element-wise with broadcasting.
func binaryOp(dst, aStore, bStore backend.Storage, shapeA, shapeB, shapeOut core.Shape, dtype core.DType, fn func(float32, float32) float32) error {
	if dtype != core.Float32 {
		return fmt.Errorf("binary op: only float32 supported, got %s", dtype)
	}

	nOut := shapeOut.NumElements()
	aData := f32Slice(aStore, shapeA.NumElements())
	bData := f32Slice(bStore, shapeB.NumElements())
	dData := f32Slice(dst, nOut)

	// Fast path: same shape, no broadcasting needed
	if shapeA.Equal(shapeB) {
		for i := 0; i < nOut; i++ {
			dData[i] = fn(aData[i], bData[i])
		}
		return nil
	}

	ndim := len(shapeOut)
	indices := make([]int, ndim)

	for i := 0; i < nOut; i++ {
		idxA := 0
		idxB := 0
		strideA := 1
		strideB := 1
		for d := ndim - 1; d >= 0; d-- {
			dimA := 1
			dimB := 1
			offA := d - (ndim - len(shapeA))
			offB := d - (ndim - len(shapeB))
			if offA >= 0 {
				dimA = shapeA[offA]
			}
			if offB >= 0 {
				dimB = shapeB[offB]
			}

			aIdx := indices[d]
			bIdx := indices[d]
			if dimA == 1 {
				aIdx = 0
			}
			if dimB == 1 {
				bIdx = 0
			}

			if offA >= 0 {
				idxA += aIdx * strideA
				strideA *= dimA
			}
			if offB >= 0 {
				idxB += bIdx * strideB
				strideB *= dimB
			}
		}

		dData[i] = fn(aData[idxA], bData[idxB])

		for d := ndim - 1; d >= 0; d-- {
			indices[d]++
			if indices[d] < shapeOut[d] {
				break
			}
			indices[d] = 0
		}
	}
	return nil
}
