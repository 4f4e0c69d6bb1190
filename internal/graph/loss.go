package graph

import (
	"math"

	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// IgnoreTarget marks a padding row excluded from SoftmaxCrossEntropy.
const IgnoreTarget = -1

// SoftmaxCrossEntropy applies a row-wise softmax to logits [n, classes] and
// returns the probabilities together with the mean negative log-likelihood
// of targets, a [1, 1] tensor. Rows whose target is IgnoreTarget do not count.
//
// Backward: dlogits[i] += (p[i] - onehot(target[i])) / counted · dLoss.
//
// The loss is computed on the host view of the buffers, which every current
// backend exposes.
func (g *Graph) SoftmaxCrossEntropy(logits *weight.Tensor, targets []int) (probs, loss *weight.Tensor) {
	const kind = "SoftmaxCrossEntropy"
	g.checkInputs(kind, logits)
	if len(targets) != logits.Rows() {
		shapePanic(kind, shapesOf([]*weight.Tensor{logits}), "%d targets for %d rows", len(targets), logits.Rows())
	}
	counted := 0
	for _, target := range targets {
		if target == IgnoreTarget {
			continue
		}
		if target < 0 || target >= logits.Columns() {
			shapePanic(kind, shapesOf([]*weight.Tensor{logits}), "target %d outside [0, %d)", target, logits.Columns())
		}
		counted++
	}

	be := g.backend
	probsValue, err := g.tape.scope.NewRaw(logits.Shape(), logits.DType(), g.device)
	if err != nil {
		shapePanic(kind, shapesOf([]*weight.Tensor{logits}), "%v", err)
	}
	be.Softmax(probsValue, logits.Value())
	probs = weight.Wrap(g.qualify(kind+".probs"), probsValue, false, g.tape.scope)

	loss = g.newOutput(kind, tensor.Shape{1, 1}, logits.DType(), logits)
	if counted > 0 {
		nll := 0.0
		cols := logits.Columns()
		for i, target := range targets {
			if target != IgnoreTarget {
				p := hostAt(probsValue, i*cols+target)
				nll -= math.Log(math.Max(p, 1e-12))
			}
		}
		be.Fill(loss.Value(), nll/float64(counted))
	}

	g.Record(kind, loss, func() {
		dLoss := loss.Grad()
		if dLoss == nil || !logits.Trainable() || counted == 0 {
			return
		}
		scale := hostAt(dLoss, 0) / float64(counted)
		dLogits := logits.EnsureGrad()
		cols := logits.Columns()
		for i, target := range targets {
			if target == IgnoreTarget {
				continue
			}
			for j := 0; j < cols; j++ {
				delta := hostAt(probsValue, i*cols+j)
				if j == target {
					delta -= 1
				}
				hostAdd(dLogits, i*cols+j, delta*scale)
			}
		}
	}, logits)
	return probs, loss
}

// Scalar returns the single value of a [1, 1] tensor.
func Scalar(t *weight.Tensor) float64 {
	return hostAt(t.Value(), 0)
}

func hostAt(r *tensor.RawTensor, i int) float64 {
	if r.DType() == tensor.Float64 {
		return r.AsFloat64()[i]
	}
	return float64(r.AsFloat32()[i])
}

func hostAdd(r *tensor.RawTensor, i int, v float64) {
	if r.DType() == tensor.Float64 {
		r.AsFloat64()[i] += v
		return
	}
	r.AsFloat32()[i] += float32(v)
}

// ArgMaxRows returns the column of the largest value in every row of t.
func ArgMaxRows(t *weight.Tensor) []int {
	rows, cols := t.Rows(), t.Columns()
	out := make([]int, rows)
	for i := range rows {
		best := hostAt(t.Value(), i*cols)
		for j := 1; j < cols; j++ {
			if v := hostAt(t.Value(), i*cols+j); v > best {
				best, out[i] = v, j
			}
		}
	}
	return out
}
