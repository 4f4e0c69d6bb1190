package graph

import (
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// Affine computes x·W + b, with the [1, n] bias broadcast over rows. b may be
// nil, in which case Affine is MatMul.
//
// Backward: dW += xᵀ·dOut, db += Σ_rows dOut, dx += dOut·Wᵀ.
func (g *Graph) Affine(x, w, b *weight.Tensor) *weight.Tensor {
	const kind = "Affine"
	if b == nil {
		return g.matMul(kind, x, w)
	}
	g.checkInputs(kind, x, w, b)
	if x.Columns() != w.Rows() {
		shapePanic(kind, shapesOf([]*weight.Tensor{x, w, b}), "inner dimensions %d and %d differ", x.Columns(), w.Rows())
	}
	if b.Rows() != 1 || b.Columns() != w.Columns() {
		shapePanic(kind, shapesOf([]*weight.Tensor{x, w, b}), "bias must be [1, %d]", w.Columns())
	}

	be := g.backend
	out := g.newOutput(kind, tensor.Shape{x.Rows(), w.Columns()}, x.DType(), x, w, b)
	be.Gemm(out.Value(), x.Value(), w.Value(), false, false, 0)
	be.Add(out.Value(), out.Value(), b.Value())

	g.Record(kind, out, func() {
		dOut := out.Grad()
		if dOut == nil {
			return
		}
		if w.Trainable() {
			be.Gemm(w.EnsureGrad(), x.Value(), dOut, true, false, 1)
		}
		if b.Trainable() {
			be.AddSumRowsInto(b.EnsureGrad(), dOut)
		}
		if x.Trainable() {
			be.Gemm(x.EnsureGrad(), dOut, w.Value(), false, true, 1)
		}
	}, x, w, b)
	return out
}

// MatMul computes a·b.
func (g *Graph) MatMul(a, b *weight.Tensor) *weight.Tensor {
	return g.matMul("MatMul", a, b)
}

func (g *Graph) matMul(kind string, a, b *weight.Tensor) *weight.Tensor {
	g.checkInputs(kind, a, b)
	if a.Columns() != b.Rows() {
		shapePanic(kind, shapesOf([]*weight.Tensor{a, b}), "inner dimensions %d and %d differ", a.Columns(), b.Rows())
	}

	be := g.backend
	out := g.newOutput(kind, tensor.Shape{a.Rows(), b.Columns()}, a.DType(), a, b)
	be.Gemm(out.Value(), a.Value(), b.Value(), false, false, 0)

	g.Record(kind, out, func() {
		dOut := out.Grad()
		if dOut == nil {
			return
		}
		if a.Trainable() {
			be.Gemm(a.EnsureGrad(), dOut, b.Value(), false, true, 1)
		}
		if b.Trainable() {
			be.Gemm(b.EnsureGrad(), a.Value(), dOut, true, false, 1)
		}
	}, a, b)
	return out
}

// Add computes a + b element-wise. b may also be a [1, cols] row broadcast
// over every row of a.
func (g *Graph) Add(a, b *weight.Tensor) *weight.Tensor {
	const kind = "Add"
	g.checkInputs(kind, a, b)
	broadcast := !b.Shape().Equal(a.Shape())
	if broadcast && (b.Rows() != 1 || b.Columns() != a.Columns()) {
		shapePanic(kind, shapesOf([]*weight.Tensor{a, b}), "shapes are not broadcast compatible")
	}

	be := g.backend
	out := g.newOutput(kind, a.Shape(), a.DType(), a, b)
	be.Add(out.Value(), a.Value(), b.Value())

	g.Record(kind, out, func() {
		dOut := out.Grad()
		if dOut == nil {
			return
		}
		if a.Trainable() {
			be.AddInto(a.EnsureGrad(), dOut)
		}
		if b.Trainable() {
			if broadcast {
				be.AddSumRowsInto(b.EnsureGrad(), dOut)
			} else {
				be.AddInto(b.EnsureGrad(), dOut)
			}
		}
	}, a, b)
	return out
}

// Sub computes a - b element-wise for same-shaped tensors.
func (g *Graph) Sub(a, b *weight.Tensor) *weight.Tensor {
	const kind = "Sub"
	g.checkInputs(kind, a, b)
	g.sameShape(kind, a, b)

	be := g.backend
	out := g.newOutput(kind, a.Shape(), a.DType(), a, b)
	be.Sub(out.Value(), a.Value(), b.Value())

	g.Record(kind, out, func() {
		dOut := out.Grad()
		if dOut == nil {
			return
		}
		if a.Trainable() {
			be.AddInto(a.EnsureGrad(), dOut)
		}
		if b.Trainable() {
			be.AddScaledInto(b.EnsureGrad(), dOut, -1)
		}
	}, a, b)
	return out
}

// Mul computes a ⊙ b for same-shaped tensors.
func (g *Graph) Mul(a, b *weight.Tensor) *weight.Tensor {
	const kind = "Mul"
	g.checkInputs(kind, a, b)
	g.sameShape(kind, a, b)

	be := g.backend
	out := g.newOutput(kind, a.Shape(), a.DType(), a, b)
	be.Mul(out.Value(), a.Value(), b.Value())

	g.Record(kind, out, func() {
		dOut := out.Grad()
		if dOut == nil {
			return
		}
		if a.Trainable() {
			be.AddMulInto(a.EnsureGrad(), dOut, b.Value())
		}
		if b.Trainable() {
			be.AddMulInto(b.EnsureGrad(), dOut, a.Value())
		}
	}, a, b)
	return out
}

// ScaleRows multiplies every row i of x [n, d] by the scalar s[i] of s [n, 1].
func (g *Graph) ScaleRows(x, s *weight.Tensor) *weight.Tensor {
	const kind = "ScaleRows"
	g.checkInputs(kind, x, s)
	if s.Rows() != x.Rows() || s.Columns() != 1 {
		shapePanic(kind, shapesOf([]*weight.Tensor{x, s}), "scale must be [%d, 1]", x.Rows())
	}

	be := g.backend
	out := g.newOutput(kind, x.Shape(), x.DType(), x, s)
	be.ScaleRows(out.Value(), x.Value(), s.Value())

	g.Record(kind, out, func() {
		dOut := out.Grad()
		if dOut == nil {
			return
		}
		if x.Trainable() {
			be.AddScaleRowsInto(x.EnsureGrad(), dOut, s.Value())
		}
		if s.Trainable() {
			be.AddRowDotInto(s.EnsureGrad(), dOut, x.Value())
		}
	}, x, s)
	return out
}

// Sigmoid applies the logistic function element-wise.
func (g *Graph) Sigmoid(x *weight.Tensor) *weight.Tensor {
	return g.activation("Sigmoid", x, g.backend.Sigmoid, g.backend.AddSigmoidGradInto)
}

// Tanh applies the hyperbolic tangent element-wise.
func (g *Graph) Tanh(x *weight.Tensor) *weight.Tensor {
	return g.activation("Tanh", x, g.backend.Tanh, g.backend.AddTanhGradInto)
}

// Softmax normalizes every row of x into a probability distribution.
func (g *Graph) Softmax(x *weight.Tensor) *weight.Tensor {
	return g.activation("Softmax", x, g.backend.Softmax, g.backend.AddSoftmaxGradInto)
}

// activation wires a y = f(x) kernel whose gradient is expressed through y.
func (g *Graph) activation(kind string, x *weight.Tensor,
	forward func(dst, x *tensor.RawTensor), addGrad func(dst, y, dy *tensor.RawTensor)) *weight.Tensor {
	g.checkInputs(kind, x)
	out := g.newOutput(kind, x.Shape(), x.DType(), x)
	forward(out.Value(), x.Value())

	g.Record(kind, out, func() {
		dOut := out.Grad()
		if dOut == nil || !x.Trainable() {
			return
		}
		addGrad(x.EnsureGrad(), out.Value(), dOut)
	}, x)
	return out
}

// PeekRow extracts rows [rowOffset, rowOffset+rowCount) of t. The backward
// pass accumulates into the matching rows of t's gradient.
func (g *Graph) PeekRow(t *weight.Tensor, rowOffset, rowCount int) *weight.Tensor {
	const kind = "PeekRow"
	g.checkInputs(kind, t)
	if rowCount <= 0 || rowOffset < 0 || rowOffset+rowCount > t.Rows() {
		shapePanic(kind, shapesOf([]*weight.Tensor{t}), "rows [%d, %d) out of range", rowOffset, rowOffset+rowCount)
	}

	be := g.backend
	out := g.newOutput(kind, tensor.Shape{rowCount, t.Columns()}, t.DType(), t)
	be.CopyRows(out.Value(), t.Value(), rowOffset)

	g.Record(kind, out, func() {
		dOut := out.Grad()
		if dOut == nil || !t.Trainable() {
			return
		}
		be.AddRowsInto(t.EnsureGrad(), dOut, rowOffset)
	}, t)
	return out
}

// PeekColumns extracts columns [colOffset, colOffset+colCount) of t. The
// backward pass accumulates into the matching columns of t's gradient.
func (g *Graph) PeekColumns(t *weight.Tensor, colOffset, colCount int) *weight.Tensor {
	const kind = "PeekColumns"
	g.checkInputs(kind, t)
	if colCount <= 0 || colOffset < 0 || colOffset+colCount > t.Columns() {
		shapePanic(kind, shapesOf([]*weight.Tensor{t}), "columns [%d, %d) out of range", colOffset, colOffset+colCount)
	}

	be := g.backend
	out := g.newOutput(kind, tensor.Shape{t.Rows(), colCount}, t.DType(), t)
	be.CopyColumns(out.Value(), t.Value(), colOffset)

	g.Record(kind, out, func() {
		dOut := out.Grad()
		if dOut == nil || !t.Trainable() {
			return
		}
		be.AddColumnsInto(t.EnsureGrad(), dOut, colOffset)
	}, t)
	return out
}

// ConcatColumns joins tensors with the same row count side by side. The
// backward pass splits the gradient back by the original widths.
func (g *Graph) ConcatColumns(ts ...*weight.Tensor) *weight.Tensor {
	const kind = "ConcatColumns"
	if len(ts) == 0 {
		shapePanic(kind, nil, "nothing to concatenate")
	}
	g.checkInputs(kind, ts...)
	cols := 0
	for _, t := range ts {
		if t.Rows() != ts[0].Rows() {
			shapePanic(kind, shapesOf(ts), "row counts differ")
		}
		cols += t.Columns()
	}

	be := g.backend
	out := g.newOutput(kind, tensor.Shape{ts[0].Rows(), cols}, ts[0].DType(), ts...)
	offset := 0
	for _, t := range ts {
		be.PasteColumns(out.Value(), t.Value(), offset)
		offset += t.Columns()
	}

	g.Record(kind, out, func() {
		dOut := out.Grad()
		if dOut == nil {
			return
		}
		offset := 0
		for _, t := range ts {
			if t.Trainable() {
				be.AddColumnsFrom(t.EnsureGrad(), dOut, offset)
			}
			offset += t.Columns()
		}
	}, ts...)
	return out
}

// ConcatRows stacks tensors with the same column count. The backward pass
// splits the gradient back by the original heights.
func (g *Graph) ConcatRows(ts ...*weight.Tensor) *weight.Tensor {
	const kind = "ConcatRows"
	if len(ts) == 0 {
		shapePanic(kind, nil, "nothing to concatenate")
	}
	g.checkInputs(kind, ts...)
	rows := 0
	for _, t := range ts {
		if t.Columns() != ts[0].Columns() {
			shapePanic(kind, shapesOf(ts), "column counts differ")
		}
		rows += t.Rows()
	}

	be := g.backend
	out := g.newOutput(kind, tensor.Shape{rows, ts[0].Columns()}, ts[0].DType(), ts...)
	offset := 0
	for _, t := range ts {
		be.PasteRows(out.Value(), t.Value(), offset)
		offset += t.Rows()
	}

	g.Record(kind, out, func() {
		dOut := out.Grad()
		if dOut == nil {
			return
		}
		offset := 0
		for _, t := range ts {
			if t.Trainable() {
				be.AddRowsFrom(t.EnsureGrad(), dOut, offset)
			}
			offset += t.Rows()
		}
	}, ts...)
	return out
}

func (g *Graph) sameShape(kind string, a, b *weight.Tensor) {
	if !a.Shape().Equal(b.Shape()) {
		shapePanic(kind, shapesOf([]*weight.Tensor{a, b}), "shapes differ")
	}
}
