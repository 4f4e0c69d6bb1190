// Package weight implements the named, device-placed tensors that layers own
// as parameters and that the compute graph produces as intermediates.
//
// A Tensor holds a value buffer and, when trainable, a gradient buffer that is
// allocated on first use and only ever accumulated into.
package weight

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/born-ml/seq2seq/internal/tensor"
)

var (
	// ErrShapeMismatch is returned when two tensors (or a tensor and a stored
	// record) disagree on shape.
	ErrShapeMismatch = errors.New("weight shape mismatch")

	// ErrNameMismatch is returned by Load when the stored record belongs to a
	// different tensor.
	ErrNameMismatch = errors.New("weight name mismatch")

	// ErrDTypeMismatch is returned by Load when the stored dtype differs.
	ErrDTypeMismatch = errors.New("weight dtype mismatch")

	// ErrNotTrainable is returned when a gradient is pushed into a frozen tensor.
	ErrNotTrainable = errors.New("weight is not trainable")
)

// Tensor is a named 2-D tensor with an optional gradient accumulator.
type Tensor struct {
	name      string
	value     *tensor.RawTensor
	grad      *tensor.RawTensor
	trainable bool

	// scope, when set, allocates the lazy gradient from a step arena so that
	// intermediates are released together with their graph.
	scope *tensor.Scope
}

// New creates a parameter tensor. Parameters are trainable, float32 and
// zero-initialized unless options say otherwise.
//
// Example:
//
//	w := weight.New("enc.fw0.Wxh", tensor.Shape{in + hid, 4 * hid}, dev, weight.WithXavier(rng))
func New(name string, shape tensor.Shape, device tensor.DeviceID, opts ...Option) *Tensor {
	cfg := options{dtype: tensor.Float32, trainable: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(shape) != 2 {
		exceptions.Panicf("weight %q: expected a 2-D shape, got %s", name, shape)
	}
	value, err := tensor.NewRaw(shape, cfg.dtype, device)
	if err != nil {
		exceptions.Panicf("weight %q: %v", name, err)
	}
	if cfg.init != nil {
		cfg.init(name, value)
	}
	return &Tensor{name: name, value: value, trainable: cfg.trainable}
}

// Wrap adopts an existing buffer. Graph intermediates use it with the step
// scope so that a gradient, if ever needed, comes from the same arena.
func Wrap(name string, value *tensor.RawTensor, trainable bool, scope *tensor.Scope) *Tensor {
	return &Tensor{name: name, value: value, trainable: trainable, scope: scope}
}

// Name returns the tensor name.
func (t *Tensor) Name() string { return t.name }

// Shape returns the tensor shape.
func (t *Tensor) Shape() tensor.Shape { return t.value.Shape() }

// DType returns the element type.
func (t *Tensor) DType() tensor.DataType { return t.value.DType() }

// Device returns the device holding the value buffer.
func (t *Tensor) Device() tensor.DeviceID { return t.value.Device() }

// Rows returns the first dimension.
func (t *Tensor) Rows() int { return t.value.Shape().Rows() }

// Columns returns the last dimension.
func (t *Tensor) Columns() int { return t.value.Shape().Cols() }

// Trainable reports whether gradients flow into this tensor.
func (t *Tensor) Trainable() bool { return t.trainable }

// SetTrainable freezes or unfreezes the tensor. Freezing drops any gradient.
func (t *Tensor) SetTrainable(trainable bool) {
	t.trainable = trainable
	if !trainable {
		t.releaseGrad()
	}
}

// Value returns the value buffer.
func (t *Tensor) Value() *tensor.RawTensor { return t.value }

// Grad returns the gradient buffer, nil until something was accumulated.
func (t *Tensor) Grad() *tensor.RawTensor { return t.grad }

// EnsureGrad returns the gradient buffer, allocating a zeroed one if needed.
// It returns nil for frozen tensors.
func (t *Tensor) EnsureGrad() *tensor.RawTensor {
	if !t.trainable {
		return nil
	}
	if t.grad == nil {
		var err error
		if t.scope != nil {
			t.grad, err = t.scope.NewRaw(t.value.Shape(), t.value.DType(), t.value.Device())
		} else {
			t.grad, err = tensor.NewRaw(t.value.Shape(), t.value.DType(), t.value.Device())
		}
		if err != nil {
			exceptions.Panicf("weight %q: allocating gradient: %v", t.name, err)
		}
	}
	return t.grad
}

// AccumulateGrad adds g into the gradient using be, which must execute on
// the tensor's device.
func (t *Tensor) AccumulateGrad(be tensor.Backend, g *tensor.RawTensor) error {
	if !t.trainable {
		return errors.Wrapf(ErrNotTrainable, "accumulating into %q", t.name)
	}
	if !g.Shape().Equal(t.Shape()) {
		return errors.Wrapf(ErrShapeMismatch, "gradient %s for %q %s", g.Shape(), t.name, t.Shape())
	}
	if be.Device() != t.Device() || g.Device() != t.Device() {
		return errors.Errorf("gradient for %q on %s must be accumulated on its own device (backend %s, gradient %s)",
			t.name, t.Device(), be.Device(), g.Device())
	}
	be.AddInto(t.EnsureGrad(), g)
	return nil
}

// ZeroGrad clears the gradient, keeping the buffer.
func (t *Tensor) ZeroGrad() {
	if t.grad != nil {
		t.grad.Zero()
	}
}

// CopyValueFrom copies other's value into t. Devices may differ.
func (t *Tensor) CopyValueFrom(other *Tensor) error {
	if !other.Shape().Equal(t.Shape()) {
		return errors.Wrapf(ErrShapeMismatch, "copying %q %s into %q %s", other.name, other.Shape(), t.name, t.Shape())
	}
	if other.DType() != t.DType() {
		return errors.Wrapf(ErrDTypeMismatch, "copying %q %s into %q %s", other.name, other.DType(), t.name, t.DType())
	}
	return errors.WithStack(t.value.CopyFrom(other.value))
}

// CloneTo returns an independent copy of t (value only) placed on device.
func (t *Tensor) CloneTo(device tensor.DeviceID) *Tensor {
	value := tensor.MustNewRaw(t.Shape(), t.DType(), device)
	if err := value.CopyFrom(t.value); err != nil {
		exceptions.Panicf("weight %q: clone: %v", t.name, err)
	}
	return &Tensor{name: t.name, value: value, trainable: t.trainable}
}

// Float32s returns the value as a float32 slice; it panics for other dtypes.
func (t *Tensor) Float32s() []float32 { return t.value.AsFloat32() }

// Release hands the buffers back to their arena. The tensor must not be used
// afterwards.
func (t *Tensor) Release() {
	t.releaseGrad()
	t.value.Release()
}

func (t *Tensor) releaseGrad() {
	if t.grad != nil {
		t.grad.Release()
		t.grad = nil
	}
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	return t.name + t.Shape().String()
}
