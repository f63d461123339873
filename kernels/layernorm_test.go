package kernels_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"attention-go/kernels"
	"attention-go/tensor"
)

func TestLayerNormMatchesManual(t *testing.T) {
	x := tensor.New(2, 4)
	copy(x.Data, []float32{1, 2, 3, 4, -1, 0, 1, 2})
	gamma := tensor.New(4)
	copy(gamma.Data, []float32{1, 2, 1, 0.5})
	beta := tensor.New(4)
	copy(beta.Data, []float32{0.1, 0, -0.1, 0})
	eps := float32(1e-6)

	want := make([]float32, 8)
	for r := 0; r < 2; r++ {
		row := x.Data[r*4 : (r+1)*4]
		var mean float32
		for _, v := range row {
			mean += v
		}
		mean /= 4
		var variance float32
		for _, v := range row {
			variance += (v - mean) * (v - mean)
		}
		variance /= 4
		inv := 1 / float32(math.Sqrt(float64(variance+eps)))
		for j, v := range row {
			want[r*4+j] = (v-mean)*inv*gamma.Data[j] + beta.Data[j]
		}
	}

	kernels.LayerNorm(gamma, beta, x, eps)
	assert.InDeltaSlice(t, want, x.Data, 1e-6)
}

func TestAddBiasLayerNormMatchesUnfused(t *testing.T) {
	hidden := 6
	projected := tensor.New(2, 3, hidden)
	residual := tensor.New(2, 3, hidden)
	fillPattern(projected.Data)
	fillPattern(residual.Data)
	for i := range residual.Data {
		residual.Data[i] += 0.5
	}
	bias := tensor.New(hidden)
	copy(bias.Data, []float32{0.1, -0.2, 0.3, 0, 0.7, -1})
	gamma := tensor.New(hidden)
	beta := tensor.New(hidden)
	for i := 0; i < hidden; i++ {
		gamma.Data[i] = 1 + float32(i)*0.1
		beta.Data[i] = float32(i) * 0.01
	}
	eps := float32(1e-12)

	// Unfused: residual-add, bias-add, then standalone layer norm.
	unfused := projected.Clone()
	kernels.AddInputBias(unfused, residual, bias, unfused)
	kernels.LayerNorm(gamma, beta, unfused, eps)

	fused := projected.Clone()
	kernels.AddBiasLayerNorm(residual, bias, gamma, beta, fused, eps)

	assert.InDeltaSlice(t, unfused.Data, fused.Data, 1e-6)
}

func TestAddInputBias(t *testing.T) {
	a := tensor.New(1, 2, 3)
	copy(a.Data, []float32{1, 2, 3, 4, 5, 6})
	b := tensor.New(1, 2, 3)
	copy(b.Data, []float32{10, 20, 30, 40, 50, 60})
	bias := tensor.New(3)
	copy(bias.Data, []float32{0.5, 0.5, 0.5})

	out := tensor.New()
	kernels.AddInputBias(a, b, bias, out)
	assert.Equal(t, []int{1, 2, 3}, out.Shape)
	assert.InDeltaSlice(t, []float32{11.5, 22.5, 33.5, 44.5, 55.5, 66.5}, out.Data, 1e-6)

	// In-place: out aliasing a must give the same result.
	kernels.AddInputBias(a, b, bias, a)
	assert.InDeltaSlice(t, out.Data, a.Data, 1e-6)
}

func TestAddBias(t *testing.T) {
	out := tensor.New(2, 3)
	copy(out.Data, []float32{1, 2, 3, 4, 5, 6})
	bias := tensor.New(3)
	copy(bias.Data, []float32{10, 20, 30})

	kernels.AddBias(bias, out)
	assert.InDeltaSlice(t, []float32{11, 22, 33, 14, 25, 36}, out.Data, 1e-6)
}
