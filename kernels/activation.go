package kernels

import (
	"math"

	"github.com/x448/float16"

	"attention-go/tensor"
)

// Activation selects the function fused into AddBiasActivate.
type Activation int

const (
	// Gelu is the tanh-approximated gaussian error linear unit:
	// x * 0.5 * (1 + tanh(0.7978845608 * (x + 0.044715*x^3))).
	Gelu Activation = iota
	// Tanh is the plain hyperbolic tangent.
	Tanh
)

func (a Activation) String() string {
	switch a {
	case Gelu:
		return "gelu"
	case Tanh:
		return "tanh"
	}
	return "unknown"
}

const geluCoeff = 0.7978845608 // sqrt(2/pi)

func activate(act Activation, x float32) float32 {
	switch act {
	case Gelu:
		inner := geluCoeff * float64(x+0.044715*x*x*x)
		return x * 0.5 * (1 + float32(math.Tanh(inner)))
	case Tanh:
		return float32(math.Tanh(float64(x)))
	}
	tensor.Enforce(false, "unknown activation %d", act)
	return 0
}

// AddBiasActivate adds bias to every row of x and applies the activation,
// in place and in one pass. Rows are partitioned across goroutines; rows
// never alias, so the partitions are independent.
func AddBiasActivate(act Activation, bias, x *tensor.Tensor) {
	tensor.EnforceSameDevice("AddBiasActivate", bias, x)
	width := bias.Size()
	tensor.Enforce(width > 0 && x.Size()%width == 0,
		"AddBiasActivate: tensor size %d is not a multiple of bias size %d", x.Size(), width)

	rows := x.Size() / width
	parallelFor(rows, rowChunk(rows, width), func(start, end int) {
		for r := start; r < end; r++ {
			row := x.Data[r*width : (r+1)*width]
			for j := range row {
				row[j] = activate(act, row[j]+bias.Data[j])
			}
		}
	})
}

// AddBiasActivateHalf is the 16-bit variant over flat half-precision
// storage; len(bias) defines the row width. Each element widens to float32,
// runs the exact float32 formula, and narrows back. There is deliberately no
// native half-precision transcendental path: widening keeps the two
// precisions from diverging beyond rounding.
func AddBiasActivateHalf(act Activation, bias, x []float16.Float16) {
	width := len(bias)
	tensor.Enforce(width > 0 && len(x)%width == 0,
		"AddBiasActivateHalf: input length %d is not a multiple of bias length %d", len(x), width)

	rows := len(x) / width
	parallelFor(rows, rowChunk(rows, width), func(start, end int) {
		for r := start; r < end; r++ {
			row := x[r*width : (r+1)*width]
			for j := range row {
				wide := row[j].Float32() + bias[j].Float32()
				row[j] = float16.Fromfloat32(activate(act, wide))
			}
		}
	})
}
