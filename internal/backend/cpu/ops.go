package cpu

import (
	"github.com/gomlx/exceptions"

	"github.com/born-ml/seq2seq/internal/parallel"
	"github.com/born-ml/seq2seq/internal/tensor"
)

type binaryKind int

const (
	binAdd binaryKind = iota
	binSub
	binMul
)

// Add performs element-wise addition; b may be a [1, cols] broadcast row.
func (cpu *CPUBackend) Add(dst, a, b *tensor.RawTensor) {
	cpu.binary("add", binAdd, dst, a, b)
}

// Sub performs element-wise subtraction; b may be a [1, cols] broadcast row.
func (cpu *CPUBackend) Sub(dst, a, b *tensor.RawTensor) {
	cpu.binary("sub", binSub, dst, a, b)
}

// Mul performs element-wise multiplication of same-shaped tensors.
func (cpu *CPUBackend) Mul(dst, a, b *tensor.RawTensor) {
	sameShape("mul", dst, a, b)
	cpu.binary("mul", binMul, dst, a, b)
}

func (cpu *CPUBackend) binary(op string, kind binaryKind, dst, a, b *tensor.RawTensor) {
	sameShape(op, dst, a)
	sameDType(op, dst, b)
	rows, cols := rowsCols(a)
	bRows, bCols := rowsCols(b)
	if bCols != cols || (bRows != rows && bRows != 1) {
		exceptions.Panicf("%s: cannot broadcast %s onto %s", op, b.Shape(), a.Shape())
	}
	broadcast := bRows == 1 && rows != 1

	switch dst.DType() {
	case tensor.Float32:
		binaryKernel(cpu, kind, view[float32](dst), view[float32](a), view[float32](b), rows, cols, broadcast)
	case tensor.Float64:
		binaryKernel(cpu, kind, view[float64](dst), view[float64](a), view[float64](b), rows, cols, broadcast)
	default:
		unsupported(op, dst.DType())
	}
}

func binaryKernel[T tensor.Float](cpu *CPUBackend, kind binaryKind, dst, a, b []T, rows, cols int, broadcast bool) {
	cpu.rows(rows, func(i int) {
		row := i * cols
		bRow := row
		if broadcast {
			bRow = 0
		}
		d, x, y := dst[row:row+cols], a[row:row+cols], b[bRow:bRow+cols]
		switch kind {
		case binAdd:
			for j := range d {
				d[j] = x[j] + y[j]
			}
		case binSub:
			for j := range d {
				d[j] = x[j] - y[j]
			}
		case binMul:
			for j := range d {
				d[j] = x[j] * y[j]
			}
		}
	})
}

// AddInto accumulates dst += src.
func (cpu *CPUBackend) AddInto(dst, src *tensor.RawTensor) {
	cpu.AddScaledInto(dst, src, 1)
}

// AddScaledInto accumulates dst += alpha·src.
func (cpu *CPUBackend) AddScaledInto(dst, src *tensor.RawTensor, alpha float64) {
	sameShape("add_scaled_into", dst, src)
	switch dst.DType() {
	case tensor.Float32:
		axpy(view[float32](dst), view[float32](src), float32(alpha))
	case tensor.Float64:
		axpy(view[float64](dst), view[float64](src), alpha)
	default:
		unsupported("add_scaled_into", dst.DType())
	}
}

func axpy[T tensor.Float](dst, src []T, alpha T) {
	if alpha == 1 {
		for i := range dst {
			dst[i] += src[i]
		}
		return
	}
	for i := range dst {
		dst[i] += alpha * src[i]
	}
}

// AddMulInto accumulates dst += a⊙b.
func (cpu *CPUBackend) AddMulInto(dst, a, b *tensor.RawTensor) {
	sameShape("add_mul_into", dst, a, b)
	switch dst.DType() {
	case tensor.Float32:
		addMul(view[float32](dst), view[float32](a), view[float32](b))
	case tensor.Float64:
		addMul(view[float64](dst), view[float64](a), view[float64](b))
	default:
		unsupported("add_mul_into", dst.DType())
	}
}

func addMul[T tensor.Float](dst, a, b []T) {
	for i := range dst {
		dst[i] += a[i] * b[i]
	}
}

// AddSumRowsInto accumulates the column sums of src into the [1, cols] dst.
func (cpu *CPUBackend) AddSumRowsInto(dst, src *tensor.RawTensor) {
	sameDType("add_sum_rows_into", dst, src)
	rows, cols := rowsCols(src)
	if dr, dc := rowsCols(dst); dr != 1 || dc != cols {
		exceptions.Panicf("add_sum_rows_into: destination %s, want [1, %d]", dst.Shape(), cols)
	}
	switch dst.DType() {
	case tensor.Float32:
		sumRows(view[float32](dst), view[float32](src), rows, cols)
	case tensor.Float64:
		sumRows(view[float64](dst), view[float64](src), rows, cols)
	default:
		unsupported("add_sum_rows_into", dst.DType())
	}
}

func sumRows[T tensor.Float](dst, src []T, rows, cols int) {
	for i := 0; i < rows; i++ {
		row := src[i*cols : (i+1)*cols]
		for j, v := range row {
			dst[j] += v
		}
	}
}

// ScaleRows computes dst[i,:] = x[i,:]·s[i].
func (cpu *CPUBackend) ScaleRows(dst, x, s *tensor.RawTensor) {
	cpu.scaleRows("scale_rows", dst, x, s, false)
}

// AddScaleRowsInto computes dst[i,:] += x[i,:]·s[i].
func (cpu *CPUBackend) AddScaleRowsInto(dst, x, s *tensor.RawTensor) {
	cpu.scaleRows("add_scale_rows_into", dst, x, s, true)
}

func (cpu *CPUBackend) scaleRows(op string, dst, x, s *tensor.RawTensor, accumulate bool) {
	sameShape(op, dst, x)
	sameDType(op, dst, s)
	rows, cols := rowsCols(x)
	if sr, sc := rowsCols(s); sr != rows || sc != 1 {
		exceptions.Panicf("%s: scale %s, want [%d, 1]", op, s.Shape(), rows)
	}
	switch dst.DType() {
	case tensor.Float32:
		scaleRowsKernel(cpu, view[float32](dst), view[float32](x), view[float32](s), rows, cols, accumulate)
	case tensor.Float64:
		scaleRowsKernel(cpu, view[float64](dst), view[float64](x), view[float64](s), rows, cols, accumulate)
	default:
		unsupported(op, dst.DType())
	}
}

func scaleRowsKernel[T tensor.Float](cpu *CPUBackend, dst, x, s []T, rows, cols int, accumulate bool) {
	cpu.rows(rows, func(i int) {
		d, v, k := dst[i*cols:(i+1)*cols], x[i*cols:(i+1)*cols], s[i]
		if accumulate {
			for j := range d {
				d[j] += v[j] * k
			}
			return
		}
		for j := range d {
			d[j] = v[j] * k
		}
	})
}

// AddRowDotInto computes dst[i,0] += Σ_j a[i,j]·b[i,j].
func (cpu *CPUBackend) AddRowDotInto(dst, a, b *tensor.RawTensor) {
	sameShape("add_row_dot_into", a, b)
	sameDType("add_row_dot_into", dst, a)
	rows, cols := rowsCols(a)
	if dr, dc := rowsCols(dst); dr != rows || dc != 1 {
		exceptions.Panicf("add_row_dot_into: destination %s, want [%d, 1]", dst.Shape(), rows)
	}
	switch dst.DType() {
	case tensor.Float32:
		rowDot(view[float32](dst), view[float32](a), view[float32](b), rows, cols)
	case tensor.Float64:
		rowDot(view[float64](dst), view[float64](a), view[float64](b), rows, cols)
	default:
		unsupported("add_row_dot_into", dst.DType())
	}
}

func rowDot[T tensor.Float](dst, a, b []T, rows, cols int) {
	for i := 0; i < rows; i++ {
		var sum T
		x, y := a[i*cols:(i+1)*cols], b[i*cols:(i+1)*cols]
		for j := range x {
			sum += x[j] * y[j]
		}
		dst[i] += sum
	}
}

// Fill sets every element of dst to v.
func (cpu *CPUBackend) Fill(dst *tensor.RawTensor, v float64) {
	switch dst.DType() {
	case tensor.Float32:
		fill(view[float32](dst), float32(v))
	case tensor.Float64:
		fill(view[float64](dst), v)
	default:
		unsupported("fill", dst.DType())
	}
}

func fill[T tensor.Float](dst []T, v T) {
	for i := range dst {
		dst[i] = v
	}
}

// rows runs f for every row index, in parallel for large matrices.
func (cpu *CPUBackend) rows(n int, f func(i int)) {
	parallel.For(n, f, cpu.par)
}
