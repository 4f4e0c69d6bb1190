// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides the optimizers that update Seq2Seq parameters from
// their accumulated gradients.
//
//   - SGD: plain or with momentum
//   - Adam: adaptive moments with bias correction
//
// # Basic Usage
//
//	opt, err := optim.New("adam", model.GetParams(), 1e-3, registry)
//	...
//	optim.ClipGradNorm(model.GetParams(), 5)
//	if err := opt.Step(); err != nil {
//	    return err
//	}
//	opt.ZeroGrad()
package optim
