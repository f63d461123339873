package kernels_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/x448/float16"

	"attention-go/kernels"
	"attention-go/tensor"
)

func geluRef(x float64) float64 {
	return x * 0.5 * (1 + math.Tanh(0.7978845608*(x+0.044715*x*x*x)))
}

func TestGeluZeroIsZero(t *testing.T) {
	x := tensor.New(1, 1)
	bias := tensor.New(1)
	kernels.AddBiasActivate(kernels.Gelu, bias, x)
	assert.Equal(t, float32(0), x.Data[0])
}

func TestGeluMatchesFormula(t *testing.T) {
	samples := []float32{-6, -2, -0.5, 0.25, 1, 3, 8}
	x := tensor.New(1, len(samples))
	copy(x.Data, samples)
	bias := tensor.New(len(samples))

	kernels.AddBiasActivate(kernels.Gelu, bias, x)
	for i, s := range samples {
		assert.InDelta(t, geluRef(float64(s)), float64(x.Data[i]), 1e-5, "gelu(%v)", s)
	}
}

func TestTanhMatchesStdlib(t *testing.T) {
	samples := []float32{-20, -3, -0.5, 0, 0.5, 3, 20}
	x := tensor.New(1, len(samples))
	copy(x.Data, samples)
	bias := tensor.New(len(samples))

	kernels.AddBiasActivate(kernels.Tanh, bias, x)
	for i, s := range samples {
		assert.InDelta(t, math.Tanh(float64(s)), float64(x.Data[i]), 1e-6, "tanh(%v)", s)
	}
}

func TestAddBiasActivateMatchesUnfused(t *testing.T) {
	rows, cols := 3, 5
	x := tensor.New(rows, cols)
	fillPattern(x.Data)
	bias := tensor.New(cols)
	copy(bias.Data, []float32{0.5, -0.5, 0.25, 0, 1})

	// Unfused: plain bias-add then activation of each element.
	want := x.Clone()
	kernels.AddBias(bias, want)
	for i, v := range want.Data {
		want.Data[i] = float32(geluRef(float64(v)))
	}

	kernels.AddBiasActivate(kernels.Gelu, bias, x)
	assert.InDeltaSlice(t, want.Data, x.Data, 1e-5)
}

func TestAddBiasActivateHalfTracksFloat32(t *testing.T) {
	samples := []float32{-4, -1, -0.125, 0, 0.375, 1.5, 4}
	biasVals := []float32{0.25, -0.25, 0, 0.5, -0.5, 0.125, 0}

	for _, act := range []kernels.Activation{kernels.Gelu, kernels.Tanh} {
		wide := tensor.New(1, len(samples))
		copy(wide.Data, samples)
		bias32 := tensor.New(len(biasVals))
		copy(bias32.Data, biasVals)
		kernels.AddBiasActivate(act, bias32, wide)

		half := make([]float16.Float16, len(samples))
		bias16 := make([]float16.Float16, len(biasVals))
		for i := range samples {
			half[i] = float16.Fromfloat32(samples[i])
			bias16[i] = float16.Fromfloat32(biasVals[i])
		}
		kernels.AddBiasActivateHalf(act, bias16, half)

		for i := range samples {
			got := float64(half[i].Float32())
			want := float64(wide.Data[i])
			tol := math.Abs(want) * 1e-2
			if tol < 1e-3 {
				tol = 1e-3
			}
			assert.InDelta(t, want, got, tol, "%s sample %d", act, i)
		}
	}
}
