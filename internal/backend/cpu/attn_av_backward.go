package cpu

import (
	"fmt"

	"github.com/x448/float16"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/natten/internal/parallel"
	"github.com/born-ml/natten/internal/tensor"
)

// NeighborhoodAVBackward computes the gradients of the AV aggregation
// with respect to the attention weights and the value tensor.
//
// GradOut shape: [batch, heads, length, dim] (matches value)
// Returns dAttn [batch, heads, length, kernel] and dValue [batch, heads, length, dim].
//
// The attention gradient is a gather with the forward's access pattern:
//
//	dAttn[b,h,l,k] = sum_d gradOut[b,h,l,d] * value[b,h, window(l).At(k), d]
//
// Every dAttn element is written exactly once.
//
// The value gradient is the forward gather's transpose, a scatter-add:
//
//	dValue[b,h,p,d] += attn[b,h,l,k] * gradOut[b,h,l,d]  for every (l,k) with window(l).At(k) == p
//
// Up to kernel-many queries contribute to each value position, so the
// writes contend. The hazard is handled by partitioning, not atomics:
// each (batch, head) plane is owned by exactly one worker, which
// serializes all contributions to that plane's cells in a fixed order.
// Results are therefore bit-identical regardless of worker count.
// dValue is zero-initialized before accumulation.
func (cpu *CPUBackend) NeighborhoodAVBackward(gradOut, attn, value *tensor.RawTensor, dilation int) (dAttn, dValue *tensor.RawTensor) {
	B, H, L, K, D := avExtents("NeighborhoodAVBackward", attn, value, dilation)

	if !gradOut.Shape().Equal(value.Shape()) {
		panic(fmt.Sprintf("NeighborhoodAVBackward: gradOut shape %v != value shape %v", gradOut.Shape(), value.Shape()))
	}
	if gradOut.DType() != value.DType() {
		panic(fmt.Sprintf("NeighborhoodAVBackward: gradOut dtype %s != value dtype %s", gradOut.DType(), value.DType()))
	}

	dAttn, err := tensor.NewRaw(tensor.Shape{B, H, L, K}, attn.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("NeighborhoodAVBackward: failed to create dAttn tensor: %v", err))
	}
	dValue, err = tensor.NewRaw(tensor.Shape{B, H, L, D}, value.DType(), cpu.device)
	if err != nil {
		panic(fmt.Sprintf("NeighborhoodAVBackward: failed to create dValue tensor: %v", err))
	}

	switch value.DType() {
	case tensor.Float32:
		neighborhoodAVBackwardFloat32(dAttn, dValue, gradOut, attn, value, B, H, L, K, D, dilation, cpu.par)
	case tensor.Float64:
		neighborhoodAVBackwardFloat64(dAttn, dValue, gradOut, attn, value, B, H, L, K, D, dilation, cpu.par)
	case tensor.Float16:
		neighborhoodAVBackwardFloat16(dAttn, dValue, gradOut, attn, value, B, H, L, K, D, dilation, cpu.par)
	default:
		panic(fmt.Sprintf("NeighborhoodAVBackward: unsupported dtype %s", value.DType()))
	}

	return dAttn, dValue
}

// neighborhoodAVBackwardFloat32 computes both gradient halves for float32.
// The gather (dAttn) and the scatter-add (dValue) share one traversal of
// the plane; they write disjoint outputs.
func neighborhoodAVBackwardFloat32(dAttn, dValue, gradOut, attn, value *tensor.RawTensor, batch, heads, length, kernel, dim, dilation int, cfg parallel.Config) {
	gradData := gradOut.AsFloat32()
	attnData := attn.AsFloat32()
	valueData := value.AsFloat32()
	dAttnData := dAttn.AsFloat32()
	dValueData := dValue.AsFloat32()

	parallel.ForBatch(batch, heads, func(b, h int) {
		plane := b*heads + h
		gPlane := gradData[plane*length*dim:][:length*dim]
		aPlane := attnData[plane*length*kernel:][:length*kernel]
		vPlane := valueData[plane*length*dim:][:length*dim]
		daPlane := dAttnData[plane*length*kernel:][:length*kernel]
		dvPlane := dValueData[plane*length*dim:][:length*dim]

		for l := 0; l < length; l++ {
			w := NeighborhoodWindow(l, length, kernel, dilation)
			gRow := gPlane[l*dim:][:dim]
			aRow := aPlane[l*kernel:][:kernel]
			daRow := daPlane[l*kernel:][:kernel]

			for k := 0; k < kernel; k++ {
				p := w.At(k)
				vRow := vPlane[p*dim:][:dim]
				dvRow := dvPlane[p*dim:][:dim]
				a := aRow[k]

				var dot float32
				for d := 0; d < dim; d++ {
					dot += gRow[d] * vRow[d]
					dvRow[d] += a * gRow[d]
				}
				daRow[k] = dot
			}
		}
	}, cfg)
}

// neighborhoodAVBackwardFloat64 computes both gradient halves for float64.
func neighborhoodAVBackwardFloat64(dAttn, dValue, gradOut, attn, value *tensor.RawTensor, batch, heads, length, kernel, dim, dilation int, cfg parallel.Config) {
	gradData := gradOut.AsFloat64()
	attnData := attn.AsFloat64()
	valueData := value.AsFloat64()
	dAttnData := dAttn.AsFloat64()
	dValueData := dValue.AsFloat64()

	parallel.ForBatch(batch, heads, func(b, h int) {
		plane := b*heads + h
		gPlane := gradData[plane*length*dim:][:length*dim]
		aPlane := attnData[plane*length*kernel:][:length*kernel]
		vPlane := valueData[plane*length*dim:][:length*dim]
		daPlane := dAttnData[plane*length*kernel:][:length*kernel]
		dvPlane := dValueData[plane*length*dim:][:length*dim]

		for l := 0; l < length; l++ {
			w := NeighborhoodWindow(l, length, kernel, dilation)
			gRow := gPlane[l*dim:][:dim]
			aRow := aPlane[l*kernel:][:kernel]
			daRow := daPlane[l*kernel:][:kernel]

			for k := 0; k < kernel; k++ {
				p := w.At(k)
				daRow[k] = floats.Dot(gRow, vPlane[p*dim:][:dim])
				floats.AddScaled(dvPlane[p*dim:][:dim], aRow[k], gRow)
			}
		}
	}, cfg)
}

// neighborhoodAVBackwardFloat16 computes both gradient halves for
// float16 storage. Dot products and the scatter accumulate in float32;
// dValue uses a per-plane float32 scratch buffer that is narrowed once
// after the plane's contributions are complete.
func neighborhoodAVBackwardFloat16(dAttn, dValue, gradOut, attn, value *tensor.RawTensor, batch, heads, length, kernel, dim, dilation int, cfg parallel.Config) {
	gradData := gradOut.AsFloat16()
	attnData := attn.AsFloat16()
	valueData := value.AsFloat16()
	dAttnData := dAttn.AsFloat16()
	dValueData := dValue.AsFloat16()

	parallel.ForBatch(batch, heads, func(b, h int) {
		plane := b*heads + h
		gPlane := gradData[plane*length*dim:][:length*dim]
		aPlane := attnData[plane*length*kernel:][:length*kernel]
		vPlane := valueData[plane*length*dim:][:length*dim]
		daPlane := dAttnData[plane*length*kernel:][:length*kernel]
		dvPlane := dValueData[plane*length*dim:][:length*dim]

		gRow32 := make([]float32, dim)
		dv32 := make([]float32, length*dim)

		for l := 0; l < length; l++ {
			w := NeighborhoodWindow(l, length, kernel, dilation)
			gRow := gPlane[l*dim:][:dim]
			for d := 0; d < dim; d++ {
				gRow32[d] = gRow[d].Float32()
			}
			aRow := aPlane[l*kernel:][:kernel]
			daRow := daPlane[l*kernel:][:kernel]

			for k := 0; k < kernel; k++ {
				p := w.At(k)
				vRow := vPlane[p*dim:][:dim]
				dvRow := dv32[p*dim:][:dim]
				a := aRow[k].Float32()

				var dot float32
				for d := 0; d < dim; d++ {
					dot += gRow32[d] * vRow[d].Float32()
					dvRow[d] += a * gRow32[d]
				}
				daRow[k] = float16.Fromfloat32(dot)
			}
		}

		for i := 0; i < length*dim; i++ {
			dvPlane[i] = float16.Fromfloat32(dv32[i])
		}
	}, cfg)
}
