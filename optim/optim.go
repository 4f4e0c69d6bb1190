// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package optim

import (
	"github.com/born-ml/seq2seq/internal/device"
	"github.com/born-ml/seq2seq/internal/optim"
	"github.com/born-ml/seq2seq/internal/weight"
)

// Optimizer updates a fixed, ordered list of parameters.
type Optimizer = optim.Optimizer

// Config is the base configuration of every optimizer.
type Config = optim.Config

// ErrUnknownOptimizer is returned by New for an unsupported name.
var ErrUnknownOptimizer = optim.ErrUnknownOptimizer

// New creates the optimizer called name ("sgd", "momentum" or "adam") with
// default hyperparameters.
func New(name string, params []*weight.Tensor, lr float32, registry *device.Registry) (Optimizer, error) {
	return optim.New(name, params, lr, registry)
}

// SGD (Stochastic Gradient Descent)

// SGD is gradient descent with optional momentum.
type SGD = optim.SGD

// SGDConfig configures SGD.
type SGDConfig = optim.SGDConfig

// NewSGD creates an SGD optimizer. Updates run on each parameter's device
// backend, looked up in registry.
//
// Example:
//
//	opt := optim.NewSGD(model.GetParams(), optim.SGDConfig{LR: 0.01, Momentum: 0.9}, registry)
func NewSGD(params []*weight.Tensor, config SGDConfig, registry *device.Registry) *SGD {
	return optim.NewSGD(params, config, registry)
}

// Adam (Adaptive Moment Estimation)

// Adam is the Adam optimizer.
type Adam = optim.Adam

// AdamConfig configures Adam.
type AdamConfig = optim.AdamConfig

// NewAdam creates an Adam optimizer with bias correction.
//
// Example:
//
//	opt := optim.NewAdam(model.GetParams(), optim.AdamConfig{
//	    LR:    0.001,
//	    Betas: [2]float32{0.9, 0.999},
//	    Eps:   1e-8,
//	})
func NewAdam(params []*weight.Tensor, config AdamConfig) *Adam {
	return optim.NewAdam(params, config)
}

// ClipGradNorm rescales all gradients so that their global L2 norm is at
// most maxNorm, and returns the norm before clipping.
func ClipGradNorm(params []*weight.Tensor, maxNorm float64) float64 {
	return optim.ClipGradNorm(params, maxNorm)
}
