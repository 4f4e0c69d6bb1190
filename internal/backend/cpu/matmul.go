package cpu

import (
	"github.com/gomlx/exceptions"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// Gemm computes dst = op(a)·op(b) + beta·dst.
// op(a) is [m, k], op(b) is [k, n] and dst is [m, n].
func (cpu *CPUBackend) Gemm(dst, a, b *tensor.RawTensor, transA, transB bool, beta float64) {
	sameDType("gemm", dst, a, b)

	aRows, aCols := rowsCols(a)
	bRows, bCols := rowsCols(b)
	m, k := aRows, aCols
	if transA {
		m, k = aCols, aRows
	}
	kAlt, n := bRows, bCols
	if transB {
		kAlt, n = bCols, bRows
	}
	if k != kAlt {
		exceptions.Panicf("gemm: shape mismatch %s%s @ %s%s", a.Shape(), tMark(transA), b.Shape(), tMark(transB))
	}
	if dr, dc := rowsCols(dst); dr != m || dc != n {
		exceptions.Panicf("gemm: destination %s, want [%d, %d]", dst.Shape(), m, n)
	}

	tA, tB := blasTranspose(transA), blasTranspose(transB)
	switch dst.DType() {
	case tensor.Float32:
		blas32.Gemm(tA, tB, 1,
			blas32.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: a.AsFloat32()},
			blas32.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: b.AsFloat32()},
			float32(beta),
			blas32.General{Rows: m, Cols: n, Stride: n, Data: dst.AsFloat32()})
	case tensor.Float64:
		blas64.Gemm(tA, tB, 1,
			blas64.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: a.AsFloat64()},
			blas64.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: b.AsFloat64()},
			beta,
			blas64.General{Rows: m, Cols: n, Stride: n, Data: dst.AsFloat64()})
	default:
		unsupported("gemm", dst.DType())
	}
}

func blasTranspose(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}

func tMark(t bool) string {
	if t {
		return "ᵀ"
	}
	return ""
}
