package backend

import (
	"fmt"
	"unsafe"

	"github.com/djeday123/charseq/core"
)

// DeviceType represents the compute device.
type DeviceType uint8

const (
	CPU DeviceType = iota
)

func (d DeviceType) String() string {
	if d == CPU {
		return "cpu"
	}
	return fmt.Sprintf("device(%d)", d)
}

// Device identifies a specific device (type + index).
type Device struct {
	Type  DeviceType
	Index int
}

var CPU0 = Device{Type: CPU, Index: 0}

func (d Device) String() string {
	if d.Type == CPU {
		return "cpu"
	}
	return fmt.Sprintf("%s:%d", d.Type, d.Index)
}

// Storage represents a raw memory buffer on a device.
type Storage interface {
	// Device returns which device this storage lives on.
	Device() Device

	// Ptr returns the raw pointer to the data.
	Ptr() unsafe.Pointer

	// ByteLen returns the total size in bytes.
	ByteLen() int

	// Free releases the memory.
	Free()
}

// Backend defines the compute interface a hardware backend must implement.
// Each operation takes raw storage handles and shape metadata.
type Backend interface {
	Name() string
	DeviceType() DeviceType

	// Memory management
	Alloc(byteLen int) (Storage, error)
	Free(s Storage)
	Copy(dst, src Storage, byteLen int) error

	// Fill sets every element to value.
	Fill(dst Storage, shape core.Shape, value float64, dtype core.DType) error

	// Element-wise binary ops with broadcasting.
	Add(dst, a, b Storage, shapeA, shapeB, shapeOut core.Shape, dtype core.DType) error
	Mul(dst, a, b Storage, shapeA, shapeB, shapeOut core.Shape, dtype core.DType) error

	// Scale: dst = src * alpha
	Scale(dst, src Storage, shape core.Shape, alpha float64, dtype core.DType) error

	// MatMul: C = A @ B with A [M, K], B [K, N], C [M, N].
	MatMul(dst, a, b Storage, shapeA, shapeB core.Shape, dtype core.DType) error

	// Softmax along given axis.
	Softmax(dst, src Storage, shape core.Shape, axis int, dtype core.DType) error
}

// Registry holds all available backends.
var registry = map[DeviceType]Backend{}

// Register adds a backend to the global registry.
func Register(b Backend) {
	registry[b.DeviceType()] = b
}

// Get returns the backend for a device type.
func Get(dt DeviceType) (Backend, error) {
	b, ok := registry[dt]
	if !ok {
		return nil, fmt.Errorf("backend %s not registered", dt)
	}
	return b, nil
}

// GetForDevice returns the backend for a specific device.
func GetForDevice(d Device) (Backend, error) {
	return Get(d.Type)
}
