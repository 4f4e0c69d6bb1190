// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/seq2seq/internal/device"
	"github.com/born-ml/seq2seq/internal/tensor"
)

// Shape lists the dimensions of a tensor, outermost first.
type Shape = tensor.Shape

// DataType is the element type of a tensor.
type DataType = tensor.DataType

// Supported element types.
const (
	Float32 = tensor.Float32
	Float64 = tensor.Float64
)

// DeviceID identifies the device a buffer lives on.
type DeviceID = tensor.DeviceID

// RawTensor is an untyped row-major buffer placed on a device.
type RawTensor = tensor.RawTensor

// Backend executes kernels for one device.
type Backend = tensor.Backend

// Registry maps device ids to their backends.
type Registry = device.Registry

// NewRaw allocates a zeroed tensor.
func NewRaw(shape Shape, dtype DataType, device DeviceID) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// FromFloat32 copies data into a new float32 tensor.
func FromFloat32(data []float32, shape Shape, device DeviceID) (*RawTensor, error) {
	return tensor.FromFloat32(data, shape, device)
}

// NewCPURegistry registers one CPU backend per id. With no ids it registers
// device 0.
func NewCPURegistry(ids ...DeviceID) *Registry {
	return device.NewCPU(ids...)
}
