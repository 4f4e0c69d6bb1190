package cpu

import (
	"math"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// Sigmoid computes dst = 1 / (1 + exp(-x)).
func (cpu *CPUBackend) Sigmoid(dst, x *tensor.RawTensor) {
	sameShape("sigmoid", dst, x)
	switch dst.DType() {
	case tensor.Float32:
		unary(cpu, view[float32](dst), view[float32](x), x.Shape().Cols(), sigmoid[float32])
	case tensor.Float64:
		unary(cpu, view[float64](dst), view[float64](x), x.Shape().Cols(), sigmoid[float64])
	default:
		unsupported("sigmoid", dst.DType())
	}
}

// Tanh computes dst = tanh(x).
func (cpu *CPUBackend) Tanh(dst, x *tensor.RawTensor) {
	sameShape("tanh", dst, x)
	switch dst.DType() {
	case tensor.Float32:
		unary(cpu, view[float32](dst), view[float32](x), x.Shape().Cols(), tanh[float32])
	case tensor.Float64:
		unary(cpu, view[float64](dst), view[float64](x), x.Shape().Cols(), tanh[float64])
	default:
		unsupported("tanh", dst.DType())
	}
}

func sigmoid[T tensor.Float](v T) T {
	return T(1.0 / (1.0 + math.Exp(-float64(v))))
}

func tanh[T tensor.Float](v T) T {
	return T(math.Tanh(float64(v)))
}

func unary[T tensor.Float](cpu *CPUBackend, dst, x []T, cols int, f func(T) T) {
	rows := len(dst) / cols
	cpu.rows(rows, func(i int) {
		d, v := dst[i*cols:(i+1)*cols], x[i*cols:(i+1)*cols]
		for j := range d {
			d[j] = f(v[j])
		}
	})
}

// AddSigmoidGradInto accumulates dst += dy ⊙ y ⊙ (1 - y), y being the sigmoid output.
func (cpu *CPUBackend) AddSigmoidGradInto(dst, y, dy *tensor.RawTensor) {
	sameShape("sigmoid_grad", dst, y, dy)
	switch dst.DType() {
	case tensor.Float32:
		sigmoidGrad(view[float32](dst), view[float32](y), view[float32](dy))
	case tensor.Float64:
		sigmoidGrad(view[float64](dst), view[float64](y), view[float64](dy))
	default:
		unsupported("sigmoid_grad", dst.DType())
	}
}

func sigmoidGrad[T tensor.Float](dst, y, dy []T) {
	for i := range dst {
		dst[i] += dy[i] * y[i] * (1 - y[i])
	}
}

// AddTanhGradInto accumulates dst += dy ⊙ (1 - y²), y being the tanh output.
func (cpu *CPUBackend) AddTanhGradInto(dst, y, dy *tensor.RawTensor) {
	sameShape("tanh_grad", dst, y, dy)
	switch dst.DType() {
	case tensor.Float32:
		tanhGrad(view[float32](dst), view[float32](y), view[float32](dy))
	case tensor.Float64:
		tanhGrad(view[float64](dst), view[float64](y), view[float64](dy))
	default:
		unsupported("tanh_grad", dst.DType())
	}
}

func tanhGrad[T tensor.Float](dst, y, dy []T) {
	for i := range dst {
		dst[i] += dy[i] * (1 - y[i]*y[i])
	}
}

// Softmax normalizes every row of x:
//
//	softmax(x)_j = exp(x_j - max(x)) / Σ_k exp(x_k - max(x))
//
// The max-shifting keeps exp from overflowing.
func (cpu *CPUBackend) Softmax(dst, x *tensor.RawTensor) {
	sameShape("softmax", dst, x)
	rows, cols := rowsCols(x)
	switch dst.DType() {
	case tensor.Float32:
		softmaxRows(cpu, view[float32](dst), view[float32](x), rows, cols)
	case tensor.Float64:
		softmaxRows(cpu, view[float64](dst), view[float64](x), rows, cols)
	default:
		unsupported("softmax", dst.DType())
	}
}

func softmaxRows[T tensor.Float](cpu *CPUBackend, dst, x []T, rows, cols int) {
	cpu.rows(rows, func(i int) {
		d, v := dst[i*cols:(i+1)*cols], x[i*cols:(i+1)*cols]
		maxVal := math.Inf(-1)
		for _, e := range v {
			maxVal = math.Max(maxVal, float64(e))
		}
		sum := 0.0
		for j, e := range v {
			ex := math.Exp(float64(e) - maxVal)
			d[j] = T(ex)
			sum += ex
		}
		for j := range d {
			d[j] = T(float64(d[j]) / sum)
		}
	})
}

// AddSoftmaxGradInto accumulates, per row, dst += y ⊙ (dy - Σ_k dy_k·y_k).
func (cpu *CPUBackend) AddSoftmaxGradInto(dst, y, dy *tensor.RawTensor) {
	sameShape("softmax_grad", dst, y, dy)
	rows, cols := rowsCols(y)
	switch dst.DType() {
	case tensor.Float32:
		softmaxGrad(view[float32](dst), view[float32](y), view[float32](dy), rows, cols)
	case tensor.Float64:
		softmaxGrad(view[float64](dst), view[float64](y), view[float64](dy), rows, cols)
	default:
		unsupported("softmax_grad", dst.DType())
	}
}

func softmaxGrad[T tensor.Float](dst, y, dy []T, rows, cols int) {
	for i := 0; i < rows; i++ {
		d, p, g := dst[i*cols:(i+1)*cols], y[i*cols:(i+1)*cols], dy[i*cols:(i+1)*cols]
		var dot T
		for j := range p {
			dot += p[j] * g[j]
		}
		for j := range d {
			d[j] += p[j] * (g[j] - dot)
		}
	}
}
