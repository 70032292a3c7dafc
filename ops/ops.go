package ops

import (
	"github.com/djeday123/charseq/backend"
	"github.com/djeday123/charseq/core"
	"github.com/djeday123/charseq/tensor"
)

func getBackend(t *tensor.Tensor) (backend.Backend, error) {
	return backend.GetForDevice(t.Device())
}

func allocOutput(shape tensor.Shape, dtype tensor.DType, device backend.Device) (backend.Storage, error) {
	bk, err := backend.GetForDevice(device)
	if err != nil {
		return nil, err
	}
	return bk.Alloc(shape.NumElements() * int(dtype.Size()))
}

// Add performs element-wise addition with broadcasting.
func Add(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	bk, err := getBackend(a)
	if err != nil {
		return nil, err
	}

	outShape, err := core.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}

	store, err := allocOutput(outShape, a.DType(), a.Device())
	if err != nil {
		return nil, err
	}

	if err := bk.Add(store, a.Storage(), b.Storage(), a.Shape(), b.Shape(), outShape, a.DType()); err != nil {
		return nil, err
	}
	return tensor.NewTensor(store, outShape, a.DType()), nil
}

// Mul performs element-wise multiplication with broadcasting.
func Mul(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	bk, err := getBackend(a)
	if err != nil {
		return nil, err
	}

	outShape, err := core.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}

	store, err := allocOutput(outShape, a.DType(), a.Device())
	if err != nil {
		return nil, err
	}

	if err := bk.Mul(store, a.Storage(), b.Storage(), a.Shape(), b.Shape(), outShape, a.DType()); err != nil {
		return nil, err
	}
	return tensor.NewTensor(store, outShape, a.DType()), nil
}

// Scale multiplies every element by alpha.
func Scale(t *tensor.Tensor, alpha float64) (*tensor.Tensor, error) {
	bk, err := getBackend(t)
	if err != nil {
		return nil, err
	}

	store, err := allocOutput(t.Shape(), t.DType(), t.Device())
	if err != nil {
		return nil, err
	}

	if err := bk.Scale(store, t.Storage(), t.Shape(), alpha, t.DType()); err != nil {
		return nil, err
	}
	return tensor.NewTensor(store, t.Shape(), t.DType()), nil
}

// MatMul performs 2D matrix multiplication: [M, K] @ [K, N] = [M, N].
func MatMul(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	bk, err := getBackend(a)
	if err != nil {
		return nil, err
	}

	shapeA := a.Shape()
	shapeB := b.Shape()
	outShape := tensor.Shape{shapeA[0], shapeB[1]}

	store, err := allocOutput(outShape, a.DType(), a.Device())
	if err != nil {
		return nil, err
	}

	if err := bk.MatMul(store, a.Storage(), b.Storage(), shapeA, shapeB, a.DType()); err != nil {
		return nil, err
	}
	return tensor.NewTensor(store, outShape, a.DType()), nil
}

// Softmax applies softmax along the given axis.
func Softmax(t *tensor.Tensor, axis int) (*tensor.Tensor, error) {
	bk, err := getBackend(t)
	if err != nil {
		return nil, err
	}

	store, err := allocOutput(t.Shape(), t.DType(), t.Device())
	if err != nil {
		return nil, err
	}

	if err := bk.Softmax(store, t.Storage(), t.Shape(), axis, t.DType()); err != nil {
		return nil, err
	}
	return tensor.NewTensor(store, t.Shape(), t.DType()), nil
}
