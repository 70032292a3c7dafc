package tensor

import (
	"fmt"

	"github.com/djeday123/charseq/backend"
)

// Tensor is the core n-dimensional array.
// Gradients live in a sibling tensor filled in by hand-derived backward
// passes; there is no graph tracking.
type Tensor struct {
	storage backend.Storage
	shape   Shape
	strides Strides
	dtype   DType

	grad *Tensor
}

// ---- Constructors ----

// NewTensor creates a tensor with given storage and metadata.
func NewTensor(storage backend.Storage, shape Shape, dtype DType) *Tensor {
	return &Tensor{
		storage: storage,
		shape:   shape.Clone(),
		strides: ContiguousStrides(shape, dtype.Size()),
		dtype:   dtype,
	}
}

// FromSlice creates a CPU tensor from a Go slice.
func FromSlice[T float32 | float64 | int32 | int64](data []T, shape Shape) (*Tensor, error) {
	n := shape.NumElements()
	if len(data) != n {
		return nil, fmt.Errorf("data length %d != shape elements %d", len(data), n)
	}

	var zero T
	var dtype DType
	switch any(zero).(type) {
	case float32:
		dtype = Float32
	case float64:
		dtype = Float64
	case int32:
		dtype = Int32
	case int64:
		dtype = Int64
	}

	b, err := backend.Get(backend.CPU)
	if err != nil {
		return nil, err
	}

	byteLen := n * int(dtype.Size())
	store, err := b.Alloc(byteLen)
	if err != nil {
		return nil, err
	}

	copySliceToStorage(data, asBytes(store, byteLen))

	return NewTensor(store, shape, dtype), nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape Shape, dtype DType, device backend.Device) (*Tensor, error) {
	b, err := backend.GetForDevice(device)
	if err != nil {
		return nil, err
	}

	n := shape.NumElements()
	byteLen := n * int(dtype.Size())
	store, err := b.Alloc(byteLen)
	if err != nil {
		return nil, err
	}

	if err := b.Fill(store, shape, 0, dtype); err != nil {
		store.Free()
		return nil, err
	}

	return NewTensor(store, shape, dtype), nil
}

// ---- Accessors ----

func (t *Tensor) Shape() Shape              { return t.shape }
func (t *Tensor) Strides() Strides          { return t.strides }
func (t *Tensor) DType() DType              { return t.dtype }
func (t *Tensor) NDim() int                 { return len(t.shape) }
func (t *Tensor) NumElements() int          { return t.shape.NumElements() }
func (t *Tensor) Device() backend.Device    { return t.storage.Device() }
func (t *Tensor) Storage() backend.Storage  { return t.storage }

func (t *Tensor) IsContiguous() bool {
	return IsContiguous(t.shape, t.strides, t.dtype.Size())
}

// ---- Gradients ----

// Grad returns the gradient tensor, allocating a zeroed one on first use.
func (t *Tensor) Grad() *Tensor {
	if t.grad == nil {
		g, err := Zeros(t.shape, t.dtype, t.Device())
		if err != nil {
			panic(fmt.Sprintf("grad alloc: %v", err))
		}
		t.grad = g
	}
	return t.grad
}

func (t *Tensor) SetGrad(grad *Tensor) { t.grad = grad }

// ZeroGrad clears the accumulated gradient in place.
func (t *Tensor) ZeroGrad() {
	if t.grad == nil {
		return
	}
	g := t.grad.ToFloat32Slice()
	for i := range g {
		g[i] = 0
	}
}

// ---- Views and copies ----

// View returns a tensor with a new shape but shared storage.
func (t *Tensor) View(newShape Shape) (*Tensor, error) {
	if !t.IsContiguous() {
		return nil, fmt.Errorf("view requires contiguous tensor")
	}
	if newShape.NumElements() != t.NumElements() {
		return nil, fmt.Errorf("view shape %v has %d elements, need %d",
			newShape, newShape.NumElements(), t.NumElements())
	}
	return &Tensor{
		storage: t.storage,
		shape:   newShape.Clone(),
		strides: ContiguousStrides(newShape, t.dtype.Size()),
		dtype:   t.dtype,
	}, nil
}

// Clone returns a deep copy sharing nothing with the receiver.
func (t *Tensor) Clone() (*Tensor, error) {
	b, err := backend.GetForDevice(t.Device())
	if err != nil {
		return nil, err
	}
	byteLen := t.NumElements() * int(t.dtype.Size())
	store, err := b.Alloc(byteLen)
	if err != nil {
		return nil, err
	}
	if err := b.Copy(store, t.storage, byteLen); err != nil {
		store.Free()
		return nil, err
	}
	return NewTensor(store, t.shape, t.dtype), nil
}

// Detach returns a value-preserving copy carrying no gradient.
// Recurrent state is detached at window boundaries so gradients stop
// flowing into earlier windows.
func (t *Tensor) Detach() (*Tensor, error) {
	return t.Clone()
}

// Free releases the underlying storage.
func (t *Tensor) Free() {
	if t.storage != nil {
		t.storage.Free()
		t.storage = nil
	}
	if t.grad != nil {
		t.grad.Free()
		t.grad = nil
	}
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%s)", t.shape, t.dtype, t.Device())
}
