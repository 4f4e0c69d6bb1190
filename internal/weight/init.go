package weight

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// Option configures New.
type Option func(*options)

type options struct {
	dtype     tensor.DataType
	trainable bool
	init      func(name string, value *tensor.RawTensor)
}

// Frozen creates a non-trainable tensor.
func Frozen() Option {
	return func(o *options) { o.trainable = false }
}

// WithDType selects the element type (float32 by default).
func WithDType(dt tensor.DataType) Option {
	return func(o *options) { o.dtype = dt }
}

// WithXavier initializes with Xavier (Glorot) uniform values:
//
//	U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//
// with fan_in = rows and fan_out = columns. A nil rng uses the global source.
func WithXavier(rng *rand.Rand) Option {
	return func(o *options) {
		o.init = func(_ string, value *tensor.RawTensor) {
			s := value.Shape()
			bound := math.Sqrt(6.0 / float64(s.Rows()+s.Cols()))
			fill(value, func(int) float64 {
				u := rand.Float64()
				if rng != nil {
					u = rng.Float64()
				}
				return (u*2.0 - 1.0) * bound
			})
		}
	}
}

// WithConstant fills the tensor with v.
func WithConstant(v float64) Option {
	return func(o *options) {
		o.init = func(_ string, value *tensor.RawTensor) {
			fill(value, func(int) float64 { return v })
		}
	}
}

// WithZeros keeps the zeroed allocation. It exists to make intent explicit.
func WithZeros() Option {
	return func(o *options) { o.init = nil }
}

// FromSlice copies data (row-major) into the tensor.
func FromSlice(data []float32) Option {
	return func(o *options) {
		o.init = func(name string, value *tensor.RawTensor) {
			if len(data) != value.NumElements() {
				exceptions.Panicf("weight %q: %d values given for shape %s", name, len(data), value.Shape())
			}
			fill(value, func(i int) float64 { return float64(data[i]) })
		}
	}
}

func fill(value *tensor.RawTensor, f func(i int) float64) {
	switch value.DType() {
	case tensor.Float32:
		data := value.AsFloat32()
		for i := range data {
			data[i] = float32(f(i))
		}
	case tensor.Float64:
		data := value.AsFloat64()
		for i := range data {
			data[i] = f(i)
		}
	}
}
