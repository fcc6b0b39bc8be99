// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package natten exposes the attention-value (AV) aggregation kernels
// of 1D dilated neighborhood attention.
//
// Neighborhood attention restricts each query position to a fixed-size
// window of key/value positions, optionally dilated so that neighbors
// are spaced apart and the sequence splits into interleaved
// residue-class sub-problems. This package implements the AV half of
// that computation: combining precomputed attention weights with value
// vectors (Forward), and redistributing output gradients back to the
// weights and values (Backward). Computing the weights themselves (the
// QK stage) and normalizing them are the caller's concern.
//
// Both entry points validate their inputs and return errors before any
// computation runs; the kernels underneath operate unchecked on
// validated tensors. Calls are pure and stateless: inputs are read-only
// for the duration of a call, outputs are freshly allocated, and no
// state persists between invocations.
//
// Supported element types are float32, float64, and float16 storage
// with float32 accumulation.
//
// Example:
//
//	attn := tensor.Full[float32](tensor.Shape{2, 4, 128, 7}, 1.0/7)
//	value := tensor.Randn[float32](tensor.Shape{2, 4, 128, 64})
//
//	out, err := natten.Forward(attn, value, 2)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	gradOut := tensor.Full[float32](tensor.Shape{2, 4, 128, 64}, 1)
//	dAttn, dValue, err := natten.Backward(gradOut, attn, value, 2)
package natten
