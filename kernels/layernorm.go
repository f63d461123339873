package kernels

import (
	"math"

	"attention-go/tensor"
)

// LayerNorm normalizes x in place over its last axis:
// x = (x - mean) / sqrt(var + eps) * gamma + beta.
func LayerNorm(gamma, beta, x *tensor.Tensor, eps float32) {
	tensor.EnforceSameDevice("LayerNorm", gamma, beta, x)
	hidden := x.Dim(x.Rank() - 1)
	tensor.Enforce(gamma.Size() == hidden && beta.Size() == hidden,
		"LayerNorm: gamma/beta have %d/%d elements, want %d", gamma.Size(), beta.Size(), hidden)

	rows := x.Size() / hidden
	parallelFor(rows, rowChunk(rows, hidden), func(start, end int) {
		for r := start; r < end; r++ {
			row := x.Data[r*hidden : (r+1)*hidden]
			normalizeRow(row, gamma.Data, beta.Data, eps)
		}
	})
}

// AddBiasLayerNorm computes out = LayerNorm(out + input + bias) in one pass,
// the post-layernorm finalization of the attention output: input is the
// residual (the original query), bias the output-projection bias.
func AddBiasLayerNorm(input, bias, gamma, beta, out *tensor.Tensor, eps float32) {
	tensor.EnforceSameDevice("AddBiasLayerNorm", input, bias, gamma, beta, out)
	hidden := out.Dim(out.Rank() - 1)
	tensor.Enforce(bias.Size() == hidden,
		"AddBiasLayerNorm: bias has %d elements, want %d", bias.Size(), hidden)
	tensor.Enforce(input.Size() == out.Size(),
		"AddBiasLayerNorm: residual has %d elements, want %d", input.Size(), out.Size())

	rows := out.Size() / hidden
	parallelFor(rows, rowChunk(rows, hidden), func(start, end int) {
		for r := start; r < end; r++ {
			row := out.Data[r*hidden : (r+1)*hidden]
			res := input.Data[r*hidden : (r+1)*hidden]
			for j := range row {
				row[j] += res[j] + bias.Data[j]
			}
			normalizeRow(row, gamma.Data, beta.Data, eps)
		}
	})
}

func normalizeRow(row, gamma, beta []float32, eps float32) {
	var mean float32
	for _, v := range row {
		mean += v
	}
	mean /= float32(len(row))

	var variance float32
	for _, v := range row {
		d := v - mean
		variance += d * d
	}
	variance /= float32(len(row))

	inv := 1 / float32(math.Sqrt(float64(variance+eps)))
	for j, v := range row {
		row[j] = (v-mean)*inv*gamma[j] + beta[j]
	}
}
