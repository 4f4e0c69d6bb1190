// Package optim implements the optimizers that update a model's parameter
// list from the gradients accumulated by graph.Backward.
//
// Example:
//
//	opt := optim.NewAdam(model.GetParams(), optim.AdamConfig{LR: 1e-3})
//	for step := range steps {
//	    loss := model.Forward(g, f, src, tgt)
//	    if err := g.Backward(loss); err != nil {
//	        return err // the step is invalid; do not apply it
//	    }
//	    optim.ClipGradNorm(model.GetParams(), 5)
//	    opt.Step()
//	    opt.ZeroGrad()
//	}
package optim

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/seq2seq/internal/device"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// Optimizer updates a fixed, ordered list of parameters.
type Optimizer interface {
	// Step applies one update from the current gradients. Parameters without
	// a gradient did not take part in the step and are skipped.
	Step() error

	// ZeroGrad clears the gradients of every parameter.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// SetLR changes the learning rate, e.g. for scheduling.
	SetLR(lr float32)

	// Name identifies the algorithm ("sgd", "adam").
	Name() string
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float32 // Learning rate
}

// ErrUnknownOptimizer is returned by New for an unsupported name.
var ErrUnknownOptimizer = errors.New("unknown optimizer")

// New creates the optimizer called name ("sgd", "momentum" or "adam",
// case-insensitive) with default hyperparameters and learning rate lr.
func New(name string, params []*weight.Tensor, lr float32, registry *device.Registry) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "sgd":
		return NewSGD(params, SGDConfig{LR: lr}, registry), nil
	case "momentum":
		return NewSGD(params, SGDConfig{LR: lr, Momentum: 0.9}, registry), nil
	case "adam":
		return NewAdam(params, AdamConfig{LR: lr}), nil
	default:
		return nil, errors.Wrapf(ErrUnknownOptimizer, "%q", name)
	}
}

func zeroGrads(params []*weight.Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// ClipGradNorm rescales all gradients together so that their global L2 norm
// is at most maxNorm, and returns the norm before clipping.
func ClipGradNorm(params []*weight.Tensor, maxNorm float64) float64 {
	sumSq := 0.0
	for _, p := range params {
		if g := p.Grad(); g != nil {
			sumSq += sumSquares(g)
		}
	}
	norm := math.Sqrt(sumSq)
	if norm <= maxNorm || norm == 0 {
		return norm
	}
	scale := maxNorm / norm
	for _, p := range params {
		if g := p.Grad(); g != nil {
			scaleInPlace(g, scale)
		}
	}
	return norm
}

func sumSquares(r *tensor.RawTensor) float64 {
	if r.DType() == tensor.Float64 {
		return sumSq(r.AsFloat64())
	}
	return sumSq(r.AsFloat32())
}

func sumSq[T tensor.Float](v []T) float64 {
	s := 0.0
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return s
}

func scaleInPlace(r *tensor.RawTensor, scale float64) {
	if r.DType() == tensor.Float64 {
		scaleSlice(r.AsFloat64(), scale)
		return
	}
	scaleSlice(r.AsFloat32(), scale)
}

func scaleSlice[T tensor.Float](v []T, scale float64) {
	for i := range v {
		v[i] = T(float64(v[i]) * scale)
	}
}
