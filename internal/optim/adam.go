package optim

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// The moments live next to the parameters, on the parameter's device, and
// are updated through the host view of the buffers.
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	params []*weight.Tensor
	lr     float32
	beta1  float32
	beta2  float32
	eps    float32
	t      int // Timestep for bias correction
	m      map[*weight.Tensor]*tensor.RawTensor
	v      map[*weight.Tensor]*tensor.RawTensor
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR    float32    // Learning rate (default: 0.001)
	Betas [2]float32 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps   float32    // Term for numerical stability (default: 1e-8)
}

// NewAdam creates a new Adam optimizer over params, filling unset
// hyperparameters with their defaults.
func NewAdam(params []*weight.Tensor, config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		params: params,
		lr:     config.LR,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		m:      make(map[*weight.Tensor]*tensor.RawTensor),
		v:      make(map[*weight.Tensor]*tensor.RawTensor),
	}
}

// Step implements Optimizer.
func (a *Adam) Step() error {
	a.t++
	bc1 := 1.0 - math.Pow(float64(a.beta1), float64(a.t))
	bc2 := 1.0 - math.Pow(float64(a.beta2), float64(a.t))

	for _, p := range a.params {
		grad := p.Grad()
		if grad == nil || !p.Trainable() {
			continue
		}
		m, err := a.moment(a.m, p)
		if err != nil {
			return err
		}
		v, err := a.moment(a.v, p)
		if err != nil {
			return err
		}
		if p.DType() == tensor.Float64 {
			adamUpdate(a, p.Value().AsFloat64(), grad.AsFloat64(), m.AsFloat64(), v.AsFloat64(), bc1, bc2)
		} else {
			adamUpdate(a, p.Value().AsFloat32(), grad.AsFloat32(), m.AsFloat32(), v.AsFloat32(), bc1, bc2)
		}
	}
	return nil
}

func (a *Adam) moment(moments map[*weight.Tensor]*tensor.RawTensor, p *weight.Tensor) (*tensor.RawTensor, error) {
	if m, ok := moments[p]; ok {
		return m, nil
	}
	m, err := tensor.NewRaw(p.Shape(), p.DType(), p.Device())
	if err != nil {
		return nil, errors.WithMessagef(err, "adam: moment of %q", p.Name())
	}
	moments[p] = m
	return m, nil
}

func adamUpdate[T tensor.Float](a *Adam, param, grad, m, v []T, bc1, bc2 float64) {
	beta1, beta2 := float64(a.beta1), float64(a.beta2)
	lr, eps := float64(a.lr), float64(a.eps)
	for i := range param {
		g := float64(grad[i])
		mi := beta1*float64(m[i]) + (1-beta1)*g
		vi := beta2*float64(v[i]) + (1-beta2)*g*g
		m[i], v[i] = T(mi), T(vi)
		param[i] -= T(lr * (mi / bc1) / (math.Sqrt(vi/bc2) + eps))
	}
}

// ZeroGrad implements Optimizer.
func (a *Adam) ZeroGrad() { zeroGrads(a.params) }

// GetLR implements Optimizer.
func (a *Adam) GetLR() float32 { return a.lr }

// SetLR implements Optimizer.
func (a *Adam) SetLR(lr float32) { a.lr = lr }

// Name implements Optimizer.
func (a *Adam) Name() string { return "adam" }

// GetTimestep returns the number of steps taken.
func (a *Adam) GetTimestep() int { return a.t }
