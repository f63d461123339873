package kernels

import (
	"math"

	"attention-go/tensor"
)

// ApplyMaskAndSoftmax scales the score tensor, adds the attention mask, and
// softmaxes over the last axis, all in place. scores is [batch, heads,
// queryLen, keyLen]; mask is additive and broadcast over the head axis, with
// shape [batch, queryLen, keyLen] or [batch, 1, keyLen]. A nil or null mask
// skips the add.
func ApplyMaskAndSoftmax(scores, mask *tensor.Tensor, scale float32) {
	tensor.Enforce(scores.Rank() == 4,
		"ApplyMaskAndSoftmax: scores must be 4-D, got rank %d", scores.Rank())
	batch, heads, qLen, kLen := scores.Dim(0), scores.Dim(1), scores.Dim(2), scores.Dim(3)

	masked := !mask.IsNull()
	maskQ := 0
	if masked {
		tensor.EnforceSameDevice("ApplyMaskAndSoftmax", scores, mask)
		tensor.Enforce(mask.Rank() == 3 && mask.Dim(0) == batch && mask.Dim(2) == kLen,
			"ApplyMaskAndSoftmax: mask must be [batch, queryLen|1, keyLen], got %v", mask.Shape)
		maskQ = mask.Dim(1)
		tensor.Enforce(maskQ == qLen || maskQ == 1,
			"ApplyMaskAndSoftmax: mask query dimension %d does not broadcast over %d", maskQ, qLen)
	}

	rows := batch * heads * qLen
	parallelFor(rows, rowChunk(rows, kLen), func(start, end int) {
		for r := start; r < end; r++ {
			row := scores.Data[r*kLen : (r+1)*kLen]

			if scale != 1 {
				for j := range row {
					row[j] *= scale
				}
			}
			if masked {
				b := r / (heads * qLen)
				q := r % qLen
				if maskQ == 1 {
					q = 0
				}
				mrow := mask.Data[(b*maskQ+q)*kLen:]
				for j := range row {
					row[j] += mrow[j]
				}
			}

			maxVal := float32(math.Inf(-1))
			for _, v := range row {
				if v > maxVal {
					maxVal = v
				}
			}
			var sum float32
			for j, v := range row {
				e := float32(math.Exp(float64(v - maxVal)))
				row[j] = e
				sum += e
			}
			inv := 1 / sum
			for j := range row {
				row[j] *= inv
			}
		}
	})
}
