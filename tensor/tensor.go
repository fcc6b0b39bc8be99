// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor types consumed by the
// natten kernels.
//
// The package re-exports the internal tensor implementation:
//   - RawTensor: contiguous row-major tensor with runtime dtype
//   - Shape, DataType, Device: core type definitions
//   - FromSlice, Zeros, Full, Rand, Randn: creation helpers
//
// Example:
//
//	attn := tensor.Full[float32](tensor.Shape{1, 1, 5, 3}, 1)
//	value := tensor.Randn[float32](tensor.Shape{1, 1, 5, 64})
//	out, err := natten.Forward(attn, value, 1)
package tensor

import (
	"github.com/born-ml/natten/internal/tensor"
)

// DType is a constraint for tensor element types.
// Supported types: float32, float64, float16.Float16.
type DType = tensor.DType

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float16 DataType = tensor.Float16
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
)

// Device represents the device where tensor data resides.
type Device = tensor.Device

// Device constants.
const (
	CPU    Device = tensor.CPU
	CUDA   Device = tensor.CUDA
	Vulkan Device = tensor.Vulkan
	Metal  Device = tensor.Metal
	WebGPU Device = tensor.WebGPU
)

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 4, 128, 7} for [batch, heads, length, kernel].
type Shape = tensor.Shape

// RawTensor is the low-level tensor representation.
//
// RawTensor provides:
//   - Shape and type information via Shape(), DType(), Device()
//   - Type-safe data access via AsFloat32(), AsFloat16(), etc.
//   - Layout inspection via Strides() and IsContiguous()
type RawTensor = tensor.RawTensor

// NewRaw creates a new zero-initialized RawTensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// FromSlice creates a CPU tensor from a Go slice.
func FromSlice[T DType](data []T, shape Shape) (*RawTensor, error) {
	return tensor.FromSlice(data, shape)
}

// Zeros creates a CPU tensor filled with zeros.
func Zeros[T DType](shape Shape) *RawTensor {
	return tensor.Zeros[T](shape)
}

// Full creates a CPU tensor filled with a specific value.
func Full[T DType](shape Shape, value T) *RawTensor {
	return tensor.Full(shape, value)
}

// Rand creates a CPU tensor with values uniform in [0, 1).
func Rand[T DType](shape Shape) *RawTensor {
	return tensor.Rand[T](shape)
}

// Randn creates a CPU tensor with standard normal values.
func Randn[T DType](shape Shape) *RawTensor {
	return tensor.Randn[T](shape)
}
