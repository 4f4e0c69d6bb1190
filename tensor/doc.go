// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor exposes the buffers, shapes and device handles the seq2seq
// layers compute on.
//
// A RawTensor is a row-major buffer bound to a DeviceID. Every device id is
// served by a Backend registered in a Registry; the CPU backend uses gonum
// BLAS for matrix products.
//
// # Basic Usage
//
//	registry := tensor.NewCPURegistry(0, 1)
//	raw, _ := tensor.FromFloat32([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}, 0)
//	fmt.Println(raw.Shape(), raw.Device())
package tensor
