// Package cpu implements the CPU op-executor used by the compute graph.
//
// Matrix products go through gonum's BLAS; element-wise kernels are plain Go
// loops, split across goroutines by rows when matrices are large.
package cpu

import (
	"github.com/gomlx/exceptions"

	"github.com/born-ml/seq2seq/internal/parallel"
	"github.com/born-ml/seq2seq/internal/tensor"
)

// CPUBackend implements tensor.Backend on host memory.
type CPUBackend struct {
	device tensor.DeviceID
	par    parallel.Config
}

// New creates a CPU backend bound to device 0.
func New() *CPUBackend {
	return NewOnDevice(0)
}

// NewOnDevice creates a CPU backend bound to the given device id. Several CPU
// "devices" can coexist to run data-parallel replicas on one host.
func NewOnDevice(id tensor.DeviceID) *CPUBackend {
	return &CPUBackend{
		device: id,
		par:    parallel.DefaultConfig(),
	}
}

// WithParallel replaces the loop-splitting configuration.
func (cpu *CPUBackend) WithParallel(cfg parallel.Config) *CPUBackend {
	cpu.par = cfg
	return cpu
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the device id this backend executes on.
func (cpu *CPUBackend) Device() tensor.DeviceID {
	return cpu.device
}

// view returns the typed element slice of r.
func view[T tensor.Float](r *tensor.RawTensor) []T {
	var zero T
	switch any(zero).(type) {
	case float32:
		return any(r.AsFloat32()).([]T)
	case float64:
		return any(r.AsFloat64()).([]T)
	default:
		exceptions.Panicf("cpu: unsupported element type %T", zero)
		return nil
	}
}

func rowsCols(r *tensor.RawTensor) (int, int) {
	s := r.Shape()
	return s.Rows(), s.Cols()
}

// sameDType panics unless every tensor shares dst's dtype.
func sameDType(op string, dst *tensor.RawTensor, others ...*tensor.RawTensor) {
	for _, o := range others {
		if o.DType() != dst.DType() {
			exceptions.Panicf("%s: dtype mismatch %s vs %s", op, dst.DType(), o.DType())
		}
	}
}

// sameShape panics unless every tensor has dst's shape.
func sameShape(op string, dst *tensor.RawTensor, others ...*tensor.RawTensor) {
	sameDType(op, dst, others...)
	for _, o := range others {
		if !o.Shape().Equal(dst.Shape()) {
			exceptions.Panicf("%s: shape mismatch %s vs %s", op, dst.Shape(), o.Shape())
		}
	}
}

func unsupported(op string, dt tensor.DataType) {
	exceptions.Panicf("%s: unsupported dtype %s (only float32/float64 supported)", op, dt)
}

// Compile-time check.
var _ tensor.Backend = (*CPUBackend)(nil)
