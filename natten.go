// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package natten

import (
	"fmt"

	"github.com/born-ml/natten/internal/backend/cpu"
	"github.com/born-ml/natten/tensor"
)

// Forward computes the attention-value aggregation of 1D dilated
// neighborhood attention.
//
// Parameters:
//   - attn: attention weights [batch, heads, length, kernel], one
//     weight per neighbor slot of each query position. Consumed as-is;
//     softmax (or any other normalization) is the caller's business.
//   - value: value vectors [batch, heads, length, dim].
//   - dilation: neighbor spacing, >= 1. A dilation d partitions the
//     sequence into d interleaved residue-class sub-problems.
//
// Returns a freshly allocated output of value's shape:
//
//	out[b,h,l,:] = sum_k attn[b,h,l,k] * value[b,h, neighbor(l,k), :]
//
// Near the sequence boundary the neighborhood window shifts inward so
// it always covers exactly kernel valid positions; boundary receptive
// fields are therefore asymmetric by design.
//
// Inputs are validated here and the core runs unchecked; violations
// are reported as errors before any computation happens.
func Forward(attn, value *tensor.RawTensor, dilation int) (*tensor.RawTensor, error) {
	if err := checkInput("attn", attn); err != nil {
		return nil, err
	}
	if err := checkInput("value", value); err != nil {
		return nil, err
	}
	if err := checkPair(attn, value, dilation); err != nil {
		return nil, err
	}

	return cpu.New().NeighborhoodAV(attn, value, dilation), nil
}

// Backward computes the gradients of Forward with respect to the
// attention weights and the value tensor.
//
// Parameters:
//   - gradOut: gradient of the loss w.r.t. Forward's output; must have
//     value's exact shape and dtype.
//   - attn, value, dilation: the forward call's inputs, unchanged.
//
// Returns freshly allocated (dAttn, dValue) with attn's and value's
// shapes. dAttn is a pure gather (each element written once); dValue is
// the forward gather's transpose, accumulated scatter-add style with
// deterministic, worker-count-independent results.
func Backward(gradOut, attn, value *tensor.RawTensor, dilation int) (dAttn, dValue *tensor.RawTensor, err error) {
	if err := checkInput("gradOut", gradOut); err != nil {
		return nil, nil, err
	}
	if err := checkInput("attn", attn); err != nil {
		return nil, nil, err
	}
	if err := checkInput("value", value); err != nil {
		return nil, nil, err
	}
	if err := checkPair(attn, value, dilation); err != nil {
		return nil, nil, err
	}
	if !gradOut.Shape().Equal(value.Shape()) {
		return nil, nil, fmt.Errorf("gradOut shape %v must equal value shape %v", gradOut.Shape(), value.Shape())
	}
	if gradOut.DType() != value.DType() {
		return nil, nil, fmt.Errorf("gradOut dtype %s must equal value dtype %s", gradOut.DType(), value.DType())
	}

	dAttn, dValue = cpu.New().NeighborhoodAVBackward(gradOut, attn, value, dilation)
	return dAttn, dValue, nil
}

// checkInput verifies device placement, memory layout, and rank of a
// single tensor argument.
func checkInput(name string, t *tensor.RawTensor) error {
	if t == nil {
		return fmt.Errorf("%s must be non-nil", name)
	}
	if t.Device() != tensor.CPU {
		return fmt.Errorf("%s must be a CPU tensor, got %s", name, t.Device())
	}
	if !t.IsContiguous() {
		return fmt.Errorf("%s must be contiguous (dense row-major)", name)
	}
	if len(t.Shape()) != 4 {
		return fmt.Errorf("%s must be 4D [batch, heads, length, ...], got %dD", name, len(t.Shape()))
	}
	switch t.DType() {
	case tensor.Float16, tensor.Float32, tensor.Float64:
		return nil
	default:
		return fmt.Errorf("%s has unsupported dtype %s", name, t.DType())
	}
}

// checkPair verifies the shared extents and the dilation/kernel
// feasibility of an attention/value pair.
func checkPair(attn, value *tensor.RawTensor, dilation int) error {
	aShape := attn.Shape()
	vShape := value.Shape()

	if aShape[0] != vShape[0] || aShape[1] != vShape[1] || aShape[2] != vShape[2] {
		return fmt.Errorf("attn %v and value %v must share batch, heads, and length extents", aShape, vShape)
	}
	if attn.DType() != value.DType() {
		return fmt.Errorf("attn dtype %s must equal value dtype %s", attn.DType(), value.DType())
	}
	if dilation < 1 {
		return fmt.Errorf("dilation must be >= 1, got %d", dilation)
	}

	length := aShape[2]
	kernel := aShape[3]
	// Equivalent to requiring every residue-class sub-sequence to hold
	// at least kernel positions, so the window-shift rule can always
	// produce kernel distinct valid neighbors.
	if length < kernel*dilation {
		return fmt.Errorf("sequence length %d must be >= kernel %d * dilation %d", length, kernel, dilation)
	}

	return nil
}
