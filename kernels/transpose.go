package kernels

import "attention-go/tensor"

// TransposeForScore merges per-head attention output back into the flat
// hidden layout: in [batch, heads, seq, sizePerHead] -> out
// [batch, seq, heads*sizePerHead].
func TransposeForScore(out, in *tensor.Tensor) {
	tensor.EnforceSameDevice("TransposeForScore", in, out)
	tensor.Enforce(in.Rank() == 4, "TransposeForScore: input must be 4-D, got rank %d", in.Rank())

	batch, heads, seq, width := in.Dim(0), in.Dim(1), in.Dim(2), in.Dim(3)
	hidden := heads * width
	out.Reshape(batch, seq, hidden)

	parallelFor(batch*heads, rowChunk(batch*heads, seq*width), func(start, end int) {
		for bh := start; bh < end; bh++ {
			b, h := bh/heads, bh%heads
			src := in.Data[bh*seq*width:]
			for s := 0; s < seq; s++ {
				dst := out.Data[(b*seq+s)*hidden+h*width:]
				copy(dst[:width], src[s*width:(s+1)*width])
			}
		}
	})
}

// AddBiasTransposeForScore splits a projected activation into per-head
// layout while adding the projection bias: in [batch, seq, heads,
// sizePerHead] plus bias [heads*sizePerHead] -> out [batch, heads, seq,
// sizePerHead]. Fusing the bias into the permutation pass avoids
// materializing the biased intermediate.
func AddBiasTransposeForScore(in, bias, out *tensor.Tensor) {
	tensor.EnforceSameDevice("AddBiasTransposeForScore", in, bias, out)
	tensor.Enforce(in.Rank() == 4, "AddBiasTransposeForScore: input must be 4-D, got rank %d", in.Rank())

	batch, seq, heads, width := in.Dim(0), in.Dim(1), in.Dim(2), in.Dim(3)
	tensor.Enforce(bias.Size() == heads*width,
		"AddBiasTransposeForScore: bias has %d elements, want %d", bias.Size(), heads*width)
	out.Reshape(batch, heads, seq, width)

	parallelFor(batch*seq, rowChunk(batch*seq, heads*width), func(start, end int) {
		for bs := start; bs < end; bs++ {
			b, s := bs/seq, bs%seq
			src := in.Data[bs*heads*width:]
			for h := 0; h < heads; h++ {
				dst := out.Data[((b*heads+h)*seq+s)*width:]
				for d := 0; d < width; d++ {
					dst[d] = src[h*width+d] + bias.Data[h*width+d]
				}
			}
		}
	})
}

// SplitAddBiasTransposeForScore handles the fused QKV projection output of
// self-attention: qkv [batch, seq, 3*hidden] (each row is the q, k and v
// projections back to back) plus bias [3*hidden] -> out [3, batch, heads,
// seq, sizePerHead], one pass for the bias-add, three-way split, and
// per-head transpose.
func SplitAddBiasTransposeForScore(out, qkv, bias *tensor.Tensor) {
	tensor.EnforceSameDevice("SplitAddBiasTransposeForScore", qkv, bias, out)
	tensor.Enforce(qkv.Rank() == 3, "SplitAddBiasTransposeForScore: input must be 3-D, got rank %d", qkv.Rank())
	tensor.Enforce(out.Rank() == 5 && out.Dim(0) == 3,
		"SplitAddBiasTransposeForScore: output must be [3, batch, heads, seq, sizePerHead]")

	batch, seq := qkv.Dim(0), qkv.Dim(1)
	heads, width := out.Dim(2), out.Dim(4)
	hidden := heads * width
	tensor.Enforce(qkv.Dim(2) == 3*hidden,
		"SplitAddBiasTransposeForScore: input last dimension is %d, want %d", qkv.Dim(2), 3*hidden)
	tensor.Enforce(bias.Size() == 3*hidden,
		"SplitAddBiasTransposeForScore: bias has %d elements, want %d", bias.Size(), 3*hidden)

	parallelFor(batch*seq, rowChunk(batch*seq, 3*hidden), func(start, end int) {
		for bs := start; bs < end; bs++ {
			b, s := bs/seq, bs%seq
			src := qkv.Data[bs*3*hidden:]
			for part := 0; part < 3; part++ {
				for h := 0; h < heads; h++ {
					col := part*hidden + h*width
					dst := out.Data[(((part*batch+b)*heads+h)*seq+s)*width:]
					for d := 0; d < width; d++ {
						dst[d] = src[col+d] + bias.Data[col+d]
					}
				}
			}
		}
	})
}
