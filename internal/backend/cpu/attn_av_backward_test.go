package cpu

import (
	"math"
	"math/rand"
	"testing"

	"github.com/x448/float16"

	"github.com/born-ml/natten/internal/parallel"
	"github.com/born-ml/natten/internal/tensor"
)

// roundTripF16 converts a float32 tensor to float16 storage and snaps
// the float32 source onto the fp16 grid so both precisions see
// identical input values.
func roundTripF16(t *testing.T, src *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	data := src.AsFloat32()
	out := make([]float16.Float16, len(data))
	for i := range data {
		out[i] = float16.Fromfloat32(data[i])
		data[i] = out[i].Float32()
	}
	raw, err := tensor.FromSlice(out, shape)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

// sumAV computes the scalar loss sum(forward(attn, value)) in float64,
// used as the target for finite-difference gradient checks.
func sumAV(attn, value []float64, batch, heads, length, kernel, dim, dilation int) float64 {
	out := naiveAV(attn, value, batch, heads, length, kernel, dim, dilation)
	total := 0.0
	for _, v := range out {
		total += v
	}
	return total
}

// TestNeighborhoodAVBackward_GradientCheck compares the analytic
// gradients against central finite differences of sum(O) for every
// element of A and V, across dense and dilated shapes.
func TestNeighborhoodAVBackward_GradientCheck(t *testing.T) {
	backend := New()
	rng := rand.New(rand.NewSource(42)) //nolint:gosec // deterministic test data

	cases := []struct {
		batch, heads, length, kernel, dim, dilation int
	}{
		{1, 1, 6, 3, 2, 1},
		{2, 2, 9, 3, 4, 2},
		{1, 2, 10, 2, 3, 3},
		{1, 1, 5, 1, 2, 1},
	}

	const epsilon = 1e-6
	const tolerance = 1e-6

	for _, tc := range cases {
		shapeA := tensor.Shape{tc.batch, tc.heads, tc.length, tc.kernel}
		shapeV := tensor.Shape{tc.batch, tc.heads, tc.length, tc.dim}

		attnData := make([]float64, shapeA.NumElements())
		valueData := make([]float64, shapeV.NumElements())
		for i := range attnData {
			attnData[i] = rng.NormFloat64()
		}
		for i := range valueData {
			valueData[i] = rng.NormFloat64()
		}

		attn := fromFloat64(t, attnData, shapeA)
		value := fromFloat64(t, valueData, shapeV)
		// d(sum O)/dO is all ones.
		gradOut := tensor.Full[float64](shapeV, 1)

		dAttn, dValue := backend.NeighborhoodAVBackward(gradOut, attn, value, tc.dilation)

		if !dAttn.Shape().Equal(shapeA) {
			t.Fatalf("case %+v: dAttn shape %v, want %v", tc, dAttn.Shape(), shapeA)
		}
		if !dValue.Shape().Equal(shapeV) {
			t.Fatalf("case %+v: dValue shape %v, want %v", tc, dValue.Shape(), shapeV)
		}

		daGot := dAttn.AsFloat64()
		for i := range attnData {
			orig := attnData[i]
			attnData[i] = orig + epsilon
			plus := sumAV(attnData, valueData, tc.batch, tc.heads, tc.length, tc.kernel, tc.dim, tc.dilation)
			attnData[i] = orig - epsilon
			minus := sumAV(attnData, valueData, tc.batch, tc.heads, tc.length, tc.kernel, tc.dim, tc.dilation)
			attnData[i] = orig

			numerical := (plus - minus) / (2 * epsilon)
			if math.Abs(daGot[i]-numerical) > tolerance {
				t.Fatalf("case %+v: dAttn[%d] = %v, numerical %v", tc, i, daGot[i], numerical)
			}
		}

		dvGot := dValue.AsFloat64()
		for i := range valueData {
			orig := valueData[i]
			valueData[i] = orig + epsilon
			plus := sumAV(attnData, valueData, tc.batch, tc.heads, tc.length, tc.kernel, tc.dim, tc.dilation)
			valueData[i] = orig - epsilon
			minus := sumAV(attnData, valueData, tc.batch, tc.heads, tc.length, tc.kernel, tc.dim, tc.dilation)
			valueData[i] = orig

			numerical := (plus - minus) / (2 * epsilon)
			if math.Abs(dvGot[i]-numerical) > tolerance {
				t.Fatalf("case %+v: dValue[%d] = %v, numerical %v", tc, i, dvGot[i], numerical)
			}
		}
	}
}

// TestNeighborhoodAVBackward_SingleWeight: with K=1 and dilation=1 the
// forward is O[l,:] = A[l]·V[l,:], so dA[l] = dO[l,:]·V[l,:] and
// dV[l,:] = A[l]·dO[l,:], exactly.
func TestNeighborhoodAVBackward_SingleWeight(t *testing.T) {
	backend := New()

	attn := fromFloat64(t, []float64{2, -1, 0.5}, tensor.Shape{1, 1, 3, 1})
	value := fromFloat64(t, []float64{1, 2, 3, 4, 5, 6}, tensor.Shape{1, 1, 3, 2})
	gradOut := fromFloat64(t, []float64{1, 1, 10, -10, 0, 2}, tensor.Shape{1, 1, 3, 2})

	dAttn, dValue := backend.NeighborhoodAVBackward(gradOut, attn, value, 1)

	wantDA := []float64{1*1 + 1*2, 10*3 - 10*4, 0*5 + 2*6}
	wantDV := []float64{2, 2, -10, 10, 0, 1}

	daGot := dAttn.AsFloat64()
	for i := range wantDA {
		if daGot[i] != wantDA[i] {
			t.Errorf("dAttn[%d] = %v, want %v", i, daGot[i], wantDA[i])
		}
	}
	dvGot := dValue.AsFloat64()
	for i := range wantDV {
		if dvGot[i] != wantDV[i] {
			t.Errorf("dValue[%d] = %v, want %v", i, dvGot[i], wantDV[i])
		}
	}
}

// TestNeighborhoodAVBackward_ScatterMass: with gradOut and attn all
// ones, every (query, slot) pair contributes exactly one unit to its
// neighbor, so dValue[p] counts how many windows contain p. The total
// mass must be exactly L*K per (b,h) plane regardless of boundary
// shifts - windows shift, they never truncate.
func TestNeighborhoodAVBackward_ScatterMass(t *testing.T) {
	backend := New()

	const length, kernel = 10, 3
	attn := tensor.Full[float64](tensor.Shape{1, 1, length, kernel}, 1)
	value := tensor.Rand[float64](tensor.Shape{1, 1, length, 1})
	gradOut := tensor.Full[float64](tensor.Shape{1, 1, length, 1}, 1)

	_, dValue := backend.NeighborhoodAVBackward(gradOut, attn, value, 1)

	total := 0.0
	for _, v := range dValue.AsFloat64() {
		total += v
		if v == 0 {
			t.Errorf("a value position received no gradient; shifted windows should reach every position")
		}
	}
	if total != float64(length*kernel) {
		t.Errorf("total scattered mass = %v, want %v", total, length*kernel)
	}
}

// TestNeighborhoodAVBackward_WorkerCountIndependent: the scatter-add is
// partitioned by (batch, head) plane ownership, so parallel and
// sequential runs must produce bit-identical gradients.
func TestNeighborhoodAVBackward_WorkerCountIndependent(t *testing.T) {
	par := New()
	seq := NewWithConfig(parallel.Sequential())

	attn := tensor.Randn[float32](tensor.Shape{4, 3, 24, 5})
	value := tensor.Randn[float32](tensor.Shape{4, 3, 24, 6})
	gradOut := tensor.Randn[float32](tensor.Shape{4, 3, 24, 6})

	daPar, dvPar := par.NeighborhoodAVBackward(gradOut, attn, value, 2)
	daSeq, dvSeq := seq.NeighborhoodAVBackward(gradOut, attn, value, 2)

	a, b := daPar.AsFloat32(), daSeq.AsFloat32()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("dAttn[%d] differs across worker configs: %v vs %v", i, a[i], b[i])
		}
	}
	a, b = dvPar.AsFloat32(), dvSeq.AsFloat32()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("dValue[%d] differs across worker configs: %v vs %v", i, a[i], b[i])
		}
	}
}

// TestNeighborhoodAVBackward_Float16 checks the reduced-precision
// backward against the float32 backward within fp16 tolerance.
func TestNeighborhoodAVBackward_Float16(t *testing.T) {
	backend := New()

	shapeA := tensor.Shape{1, 1, 8, 3}
	shapeV := tensor.Shape{1, 1, 8, 2}

	attn32 := tensor.Rand[float32](shapeA)
	value32 := tensor.Rand[float32](shapeV)
	gradOut32 := tensor.Full[float32](shapeV, 1)

	// Round the float32 data through fp16 so both paths see the same values.
	attn16 := roundTripF16(t, attn32, shapeA)
	value16 := roundTripF16(t, value32, shapeV)
	gradOut16 := roundTripF16(t, gradOut32, shapeV)

	da32, dv32 := backend.NeighborhoodAVBackward(gradOut32, attn32, value32, 1)
	da16, dv16 := backend.NeighborhoodAVBackward(gradOut16, attn16, value16, 1)

	checkF16 := func(name string, got, want *tensor.RawTensor) {
		g := got.AsFloat16()
		w := want.AsFloat32()
		for i := range w {
			diff := math.Abs(float64(g[i].Float32() - w[i]))
			tol := math.Max(math.Abs(float64(w[i]))*math.Pow(2, -10), 1e-3)
			if diff > tol {
				t.Errorf("%s[%d] = %v, want %v (±%v)", name, i, g[i].Float32(), w[i], tol)
			}
		}
	}
	checkF16("dAttn", da16, da32)
	checkF16("dValue", dv16, dv32)
}
