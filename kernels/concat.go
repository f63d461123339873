package kernels

import "attention-go/tensor"

// Concat concatenates a and b along the given axis into out. All other
// dimensions must match. The self-attention cache grows with axis == 2 on
// [batch, heads, seq, sizePerHead] tensors, but the kernel is general.
func Concat(a, b *tensor.Tensor, axis int, out *tensor.Tensor) {
	tensor.EnforceSameDevice("Concat", a, b, out)
	tensor.Enforce(a.Rank() == b.Rank(), "Concat: rank mismatch %d vs %d", a.Rank(), b.Rank())
	tensor.Enforce(axis >= 0 && axis < a.Rank(), "Concat: axis %d out of range for rank %d", axis, a.Rank())

	outShape := make([]int, a.Rank())
	for i := range outShape {
		if i == axis {
			outShape[i] = a.Dim(i) + b.Dim(i)
			continue
		}
		tensor.Enforce(a.Dim(i) == b.Dim(i),
			"Concat: dimension %d differs, %d vs %d", i, a.Dim(i), b.Dim(i))
		outShape[i] = a.Dim(i)
	}
	out.Reshape(outShape...)

	inner := 1
	for i := axis + 1; i < a.Rank(); i++ {
		inner *= a.Dim(i)
	}
	outer := 1
	for i := 0; i < axis; i++ {
		outer *= a.Dim(i)
	}
	aBlock := a.Dim(axis) * inner
	bBlock := b.Dim(axis) * inner
	outBlock := aBlock + bBlock

	for o := 0; o < outer; o++ {
		copy(out.Data[o*outBlock:], a.Data[o*aBlock:(o+1)*aBlock])
		copy(out.Data[o*outBlock+aBlock:], b.Data[o*bBlock:(o+1)*bBlock])
	}
}
