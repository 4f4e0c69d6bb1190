package tensor

import (
	"fmt"
	"unsafe"
)

// DeviceID identifies the device a buffer lives on. Each id is bound to one
// Backend through a device registry.
type DeviceID int

// String returns a human-readable device name.
func (d DeviceID) String() string {
	return fmt.Sprintf("device:%d", int(d))
}

// RawTensor is the low-level tensor representation: a flat row-major buffer
// with a shape, a data type and the device that owns it.
type RawTensor struct {
	data   []byte
	shape  Shape
	dtype  DataType
	device DeviceID
	arena  *Arena // Owning arena, nil for heap buffers
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is allocated and zeroed.
func NewRaw(shape Shape, dtype DataType, device DeviceID) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		dtype:  dtype,
		device: device,
	}, nil
}

// MustNewRaw is NewRaw for shapes already known to be valid.
func MustNewRaw(shape Shape, dtype DataType, device DeviceID) *RawTensor {
	r, err := NewRaw(shape, dtype, device)
	if err != nil {
		panic(err)
	}
	return r
}

// FromFloat32 creates a float32 tensor holding a copy of data.
func FromFloat32(data []float32, shape Shape, device DeviceID) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("data length %d does not match shape %s", len(data), shape)
	}
	r, err := NewRaw(shape, Float32, device)
	if err != nil {
		return nil, err
	}
	copy(r.AsFloat32(), data)
	return r, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the device owning the buffer.
func (r *RawTensor) Device() DeviceID {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	r.mustBeLive()
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsFloat64 interprets the data as []float64.
// Panics if the tensor's dtype is not Float64.
func (r *RawTensor) AsFloat64() []float64 {
	if r.dtype != Float64 {
		panic(fmt.Sprintf("tensor dtype is %s, not float64", r.dtype))
	}
	r.mustBeLive()
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// Zero clears the buffer.
func (r *RawTensor) Zero() {
	clear(r.data)
}

// CopyFrom copies the contents of src into r. Shapes and dtypes must match;
// devices may differ (host-visible buffers are copied directly).
func (r *RawTensor) CopyFrom(src *RawTensor) error {
	if !r.shape.Equal(src.shape) {
		return fmt.Errorf("copy: shape mismatch %s vs %s", r.shape, src.shape)
	}
	if r.dtype != src.dtype {
		return fmt.Errorf("copy: dtype mismatch %s vs %s", r.dtype, src.dtype)
	}
	copy(r.data, src.data)
	return nil
}

// Clone creates a deep copy of the tensor on the same device.
// The copy is heap allocated even if r came from an arena.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return &RawTensor{
		data:   data,
		shape:  r.shape.Clone(),
		dtype:  r.dtype,
		device: r.device,
	}
}

// Release hands the buffer back to its arena (if any). The tensor must not
// be used afterwards.
func (r *RawTensor) Release() {
	if r.data == nil {
		return
	}
	if r.arena != nil {
		r.arena.put(r.data)
	}
	r.data = nil
}

// Released reports whether Release was called.
func (r *RawTensor) Released() bool {
	return r.data == nil
}

func (r *RawTensor) mustBeLive() {
	if r.data == nil {
		panic(fmt.Sprintf("use of released tensor %s on %s", r.shape, r.device))
	}
}
