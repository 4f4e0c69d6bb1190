package optim

import (
	"github.com/pkg/errors"

	"github.com/born-ml/seq2seq/internal/device"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// SGD implements stochastic gradient descent with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
//
// Updates run on each parameter's device backend.
type SGD struct {
	params     []*weight.Tensor
	lr         float32
	momentum   float32
	velocities map[*weight.Tensor]*tensor.RawTensor
	registry   *device.Registry
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer over params.
func NewSGD(params []*weight.Tensor, config SGDConfig, registry *device.Registry) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		params:     params,
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[*weight.Tensor]*tensor.RawTensor),
		registry:   registry,
	}
}

// Step implements Optimizer.
func (s *SGD) Step() error {
	for _, p := range s.params {
		grad := p.Grad()
		if grad == nil || !p.Trainable() {
			continue
		}
		be, err := s.registry.Backend(p.Device())
		if err != nil {
			return errors.WithMessagef(err, "sgd: parameter %q", p.Name())
		}
		if s.momentum == 0 {
			be.AddScaledInto(p.Value(), grad, -float64(s.lr))
			continue
		}

		velocity, ok := s.velocities[p]
		if !ok {
			velocity, err = tensor.NewRaw(p.Shape(), p.DType(), p.Device())
			if err != nil {
				return errors.WithMessagef(err, "sgd: velocity of %q", p.Name())
			}
			s.velocities[p] = velocity
		}
		// velocity = momentum·velocity + grad
		be.AddScaledInto(velocity, velocity, float64(s.momentum)-1)
		be.AddInto(velocity, grad)
		be.AddScaledInto(p.Value(), velocity, -float64(s.lr))
	}
	return nil
}

// ZeroGrad implements Optimizer.
func (s *SGD) ZeroGrad() { zeroGrads(s.params) }

// GetLR implements Optimizer.
func (s *SGD) GetLR() float32 { return s.lr }

// SetLR implements Optimizer.
func (s *SGD) SetLR(lr float32) { s.lr = lr }

// Name implements Optimizer.
func (s *SGD) Name() string {
	if s.momentum != 0 {
		return "momentum"
	}
	return "sgd"
}
