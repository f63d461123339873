package kernels

import "attention-go/tensor"

// AddBias adds bias to every row of out in place. The bias length defines
// the row width; out's element count must be a multiple of it.
func AddBias(bias, out *tensor.Tensor) {
	tensor.EnforceSameDevice("AddBias", bias, out)
	width := bias.Size()
	tensor.Enforce(width > 0 && out.Size()%width == 0,
		"AddBias: output size %d is not a multiple of bias size %d", out.Size(), width)

	rows := out.Size() / width
	parallelFor(rows, rowChunk(rows, width), func(start, end int) {
		for r := start; r < end; r++ {
			row := out.Data[r*width : (r+1)*width]
			for j := range row {
				row[j] += bias.Data[j]
			}
		}
	})
}

// AddInputBias computes out = a + b + bias in one pass, the residual
// finalization of the attention output. out may alias a or b.
func AddInputBias(a, b, bias, out *tensor.Tensor) {
	tensor.EnforceSameDevice("AddInputBias", a, b, bias, out)
	tensor.Enforce(a.Size() == b.Size(),
		"AddInputBias: operand sizes differ, %d vs %d", a.Size(), b.Size())
	width := bias.Size()
	tensor.Enforce(width > 0 && a.Size()%width == 0,
		"AddInputBias: operand size %d is not a multiple of bias size %d", a.Size(), width)
	out.Reshape(a.Shape...)

	rows := a.Size() / width
	parallelFor(rows, rowChunk(rows, width), func(start, end int) {
		for r := start; r < end; r++ {
			off := r * width
			for j := 0; j < width; j++ {
				out.Data[off+j] = a.Data[off+j] + b.Data[off+j] + bias.Data[j]
			}
		}
	})
}
