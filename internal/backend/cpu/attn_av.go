package cpu

import (
	"fmt"

	"github.com/x448/float16"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/natten/internal/parallel"
	"github.com/born-ml/natten/internal/tensor"
)

// NeighborhoodAV computes the attention-value aggregation of 1D dilated
// neighborhood attention.
//
// Attention shape: [batch, heads, length, kernel]
// Value shape:     [batch, heads, length, dim]
// Output shape:    [batch, heads, length, dim]
//
// For every query position l the output row is the weighted sum of the
// kernel-many value rows in its dilated neighborhood:
//
//	out[b,h,l,:] = sum_k attn[b,h,l,k] * value[b,h, window(l).At(k), :]
//
// The (batch, head) planes are independent and are distributed over the
// worker pool; within a plane the accumulation order over k is fixed,
// so results do not depend on the worker count.
//
// This is the forward half only. Attention weights come from a separate
// QK stage and are consumed as-is (no softmax here).
//
// Inputs are assumed pre-validated (see the natten package); this
// method only guards structurally against caller misuse and panics on
// violation, like the rest of the backend.
func (cpu *CPUBackend) NeighborhoodAV(attn, value *tensor.RawTensor, dilation int) *tensor.RawTensor {
	B, H, L, K, D := avExtents("NeighborhoodAV", attn, value, dilation)

	out, err := tensor.NewRaw(tensor.Shape{B, H, L, D}, value.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("NeighborhoodAV: failed to create output tensor: %v", err))
	}

	// Dispatch to type-specific implementation; no dtype branching
	// inside the hot loops.
	switch value.DType() {
	case tensor.Float32:
		neighborhoodAVFloat32(out, attn, value, B, H, L, K, D, dilation, cpu.par)
	case tensor.Float64:
		neighborhoodAVFloat64(out, attn, value, B, H, L, K, D, dilation, cpu.par)
	case tensor.Float16:
		neighborhoodAVFloat16(out, attn, value, B, H, L, K, D, dilation, cpu.par)
	default:
		panic(fmt.Sprintf("NeighborhoodAV: unsupported dtype %s", value.DType()))
	}

	return out
}

// avExtents extracts and cross-checks the shared extents of an
// attention/value pair. Shared by forward and backward.
func avExtents(op string, attn, value *tensor.RawTensor, dilation int) (batch, heads, length, kernel, dim int) {
	aShape := attn.Shape()
	vShape := value.Shape()

	if len(aShape) != 4 {
		panic(fmt.Sprintf("%s: attn must be 4D [B,H,L,K], got %dD", op, len(aShape)))
	}
	if len(vShape) != 4 {
		panic(fmt.Sprintf("%s: value must be 4D [B,H,L,D], got %dD", op, len(vShape)))
	}

	batch = aShape[0]
	heads = aShape[1]
	length = aShape[2]
	kernel = aShape[3]
	dim = vShape[3]

	if vShape[0] != batch || vShape[1] != heads || vShape[2] != length {
		panic(fmt.Sprintf("%s: attn %v and value %v disagree on batch/heads/length extents", op, aShape, vShape))
	}
	if attn.DType() != value.DType() {
		panic(fmt.Sprintf("%s: attn dtype %s != value dtype %s", op, attn.DType(), value.DType()))
	}
	if dilation < 1 {
		panic(fmt.Sprintf("%s: dilation must be >= 1, got %d", op, dilation))
	}
	if length < kernel*dilation {
		panic(fmt.Sprintf("%s: sequence length %d < kernel %d * dilation %d; every residue class needs at least kernel positions",
			op, length, kernel, dilation))
	}

	return batch, heads, length, kernel, dim
}

// neighborhoodAVFloat32 computes the AV aggregation for float32.
func neighborhoodAVFloat32(out, attn, value *tensor.RawTensor, batch, heads, length, kernel, dim, dilation int, cfg parallel.Config) {
	attnData := attn.AsFloat32()
	valueData := value.AsFloat32()
	outData := out.AsFloat32()

	parallel.ForBatch(batch, heads, func(b, h int) {
		plane := b*heads + h
		aPlane := attnData[plane*length*kernel:][:length*kernel]
		vPlane := valueData[plane*length*dim:][:length*dim]
		oPlane := outData[plane*length*dim:][:length*dim]

		for l := 0; l < length; l++ {
			w := NeighborhoodWindow(l, length, kernel, dilation)
			aRow := aPlane[l*kernel:][:kernel]
			oRow := oPlane[l*dim:][:dim]

			for k := 0; k < kernel; k++ {
				a := aRow[k]
				vRow := vPlane[w.At(k)*dim:][:dim]
				for d := 0; d < dim; d++ {
					oRow[d] += a * vRow[d]
				}
			}
		}
	}, cfg)
}

// neighborhoodAVFloat64 computes the AV aggregation for float64.
func neighborhoodAVFloat64(out, attn, value *tensor.RawTensor, batch, heads, length, kernel, dim, dilation int, cfg parallel.Config) {
	attnData := attn.AsFloat64()
	valueData := value.AsFloat64()
	outData := out.AsFloat64()

	parallel.ForBatch(batch, heads, func(b, h int) {
		plane := b*heads + h
		aPlane := attnData[plane*length*kernel:][:length*kernel]
		vPlane := valueData[plane*length*dim:][:length*dim]
		oPlane := outData[plane*length*dim:][:length*dim]

		for l := 0; l < length; l++ {
			w := NeighborhoodWindow(l, length, kernel, dilation)
			aRow := aPlane[l*kernel:][:kernel]
			oRow := oPlane[l*dim:][:dim]

			for k := 0; k < kernel; k++ {
				floats.AddScaled(oRow, aRow[k], vPlane[w.At(k)*dim:][:dim])
			}
		}
	}, cfg)
}

// neighborhoodAVFloat16 computes the AV aggregation for float16 storage.
// Accumulation happens in float32 and is narrowed once per output row,
// bounding rounding error growth with the kernel size.
func neighborhoodAVFloat16(out, attn, value *tensor.RawTensor, batch, heads, length, kernel, dim, dilation int, cfg parallel.Config) {
	attnData := attn.AsFloat16()
	valueData := value.AsFloat16()
	outData := out.AsFloat16()

	parallel.ForBatch(batch, heads, func(b, h int) {
		plane := b*heads + h
		aPlane := attnData[plane*length*kernel:][:length*kernel]
		vPlane := valueData[plane*length*dim:][:length*dim]
		oPlane := outData[plane*length*dim:][:length*dim]

		acc := make([]float32, dim)
		for l := 0; l < length; l++ {
			w := NeighborhoodWindow(l, length, kernel, dilation)
			aRow := aPlane[l*kernel:][:kernel]
			oRow := oPlane[l*dim:][:dim]

			for d := range acc {
				acc[d] = 0
			}
			for k := 0; k < kernel; k++ {
				a := aRow[k].Float32()
				vRow := vPlane[w.At(k)*dim:][:dim]
				for d := 0; d < dim; d++ {
					acc[d] += a * vRow[d].Float32()
				}
			}
			for d := 0; d < dim; d++ {
				oRow[d] = float16.Fromfloat32(acc[d])
			}
		}
	}, cfg)
}
