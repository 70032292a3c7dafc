package tensor

import (
	"unsafe"

	"github.com/djeday123/charseq/backend"
)

// copySliceToStorage copies a Go slice into a storage buffer.
func copySliceToStorage[T any](data []T, dst []byte) {
	if len(data) == 0 || len(dst) == 0 {
		return
	}
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	srcLen := len(data) * elemSize
	if srcLen > len(dst) {
		srcLen = len(dst)
	}
	srcBytes := unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), srcLen)
	copy(dst, srcBytes)
}

func asBytes(s backend.Storage, n int) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(s.Ptr()), n)
}

// ptrSlice interprets a storage's memory as a typed slice.
func ptrSlice[T any](s backend.Storage, n int) []T {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(s.Ptr()), n)
}

// ToFloat32Slice returns the tensor data as []float32.
func (t *Tensor) ToFloat32Slice() []float32 {
	return ptrSlice[float32](t.storage, t.NumElements())
}

// ToFloat64Slice returns the tensor data as []float64.
func (t *Tensor) ToFloat64Slice() []float64 {
	return ptrSlice[float64](t.storage, t.NumElements())
}

// ToInt64Slice returns the tensor data as []int64.
func (t *Tensor) ToInt64Slice() []int64 {
	return ptrSlice[int64](t.storage, t.NumElements())
}
