package tensor

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/x448/float16"
)

// asSlice returns a typed view of the tensor's data (zero-copy).
func asSlice[T DType](r *RawTensor) []T {
	var dummy T
	switch any(dummy).(type) {
	case float16.Float16:
		return any(r.AsFloat16()).([]T)
	case float32:
		return any(r.AsFloat32()).([]T)
	case float64:
		return any(r.AsFloat64()).([]T)
	default:
		panic("unsupported type")
	}
}

// FromSlice creates a CPU tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice[T DType](data []T, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}

	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy), CPU)
	if err != nil {
		return nil, err
	}

	copy(asSlice[T](raw), data)
	return raw, nil
}

// Zeros creates a CPU tensor filled with zeros.
//
// Example:
//
//	t := tensor.Zeros[float32](tensor.Shape{3, 4})
func Zeros[T DType](shape Shape) *RawTensor {
	var dummy T
	raw, err := NewRaw(shape, inferDataType(dummy), CPU)
	if err != nil {
		panic(err) // Shape validation should prevent this
	}
	// Data is already zero-initialized by make()
	return raw
}

// Full creates a CPU tensor filled with a specific value.
func Full[T DType](shape Shape, value T) *RawTensor {
	t := Zeros[T](shape)
	data := asSlice[T](t)
	for i := range data {
		data[i] = value
	}
	return t
}

// Rand creates a CPU tensor with values uniformly distributed in [0, 1).
// Note: Uses math/rand (not crypto/rand) - appropriate for numerical testing.
func Rand[T DType](shape Shape) *RawTensor {
	t := Zeros[T](shape)
	fillFloats(t, func() float64 { return rand.Float64() }) //nolint:gosec // G404: deterministic seeding is desirable here
	return t
}

// Randn creates a CPU tensor with values from a normal distribution (mean=0, std=1).
// Uses the Box-Muller transform.
func Randn[T DType](shape Shape) *RawTensor {
	t := Zeros[T](shape)
	fillFloats(t, func() float64 {
		u1 := rand.Float64() //nolint:gosec // G404: deterministic seeding is desirable here
		u2 := rand.Float64() //nolint:gosec // G404: deterministic seeding is desirable here
		return math.Sqrt(-2.0*math.Log1p(-u1)) * math.Cos(2.0*math.Pi*u2)
	})
	return t
}

// fillFloats fills a float tensor from a float64 source, narrowing to
// the storage type on write.
func fillFloats(t *RawTensor, next func() float64) {
	switch t.DType() {
	case Float16:
		data := t.AsFloat16()
		for i := range data {
			data[i] = float16.Fromfloat32(float32(next()))
		}
	case Float32:
		data := t.AsFloat32()
		for i := range data {
			data[i] = float32(next())
		}
	case Float64:
		data := t.AsFloat64()
		for i := range data {
			data[i] = next()
		}
	default:
		panic("fill only supports float tensors")
	}
}
