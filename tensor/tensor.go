package tensor

import "fmt"

// Tensor is an n-dimensional float32 buffer with a shape and a device
// placement. The zero value (and New with no dims) is the null tensor: no
// backing storage, used as a sentinel for optional outputs and for cache
// slots that have not been populated yet.
type Tensor struct {
	Data   []float32
	Shape  []int
	Device Device
}

// New creates a zero-filled tensor with the given shape on CPU0.
// New() with no dims returns a null tensor.
func New(shape ...int) *Tensor {
	return NewOn(CPU0, shape...)
}

// NewOn creates a zero-filled tensor with the given shape on dev.
func NewOn(dev Device, shape ...int) *Tensor {
	t := &Tensor{Device: dev}
	if len(shape) > 0 {
		t.Reshape(shape...)
	}
	return t
}

// IsNull reports whether the tensor has no backing storage.
func (t *Tensor) IsNull() bool {
	return t == nil || t.Data == nil
}

// Size returns the total number of elements, 0 for a null tensor.
func (t *Tensor) Size() int {
	if t.IsNull() {
		return 0
	}
	size := 1
	for _, dim := range t.Shape {
		size *= dim
	}
	return size
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return len(t.Shape)
}

// Dim returns the length of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.Shape[i]
}

// Reshape sets the tensor's shape, keeping the existing buffer when the
// element count is unchanged and reallocating when it is not. Cache tensors
// rely on the keep-buffer case: the engine resizes them in place across
// decoding steps rather than replacing them, so pointers held by the caller
// stay valid.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	size := 1
	for _, dim := range shape {
		Enforce(dim > 0, "Reshape: dimension must be positive, got %v", shape)
		size *= dim
	}
	if size != len(t.Data) {
		t.Data = make([]float32, size)
	}
	t.Shape = append(t.Shape[:0:0], shape...)
	return t
}

// Index returns a view of slot i of the leading dimension. The view shares
// storage with t.
func (t *Tensor) Index(i int) *Tensor {
	return t.Slice(i, i+1).squeezeLeading()
}

// Slice returns a view of rows [start, end) of the leading dimension,
// sharing storage with t.
func (t *Tensor) Slice(start, end int) *Tensor {
	Enforce(t.Rank() >= 1, "Slice: cannot slice a scalar or null tensor")
	Enforce(start >= 0 && start < end && end <= t.Shape[0],
		"Slice: range [%d,%d) out of bounds for leading dimension %d", start, end, t.Shape[0])
	stride := 1
	for i := 1; i < len(t.Shape); i++ {
		stride *= t.Shape[i]
	}
	shape := append([]int{end - start}, t.Shape[1:]...)
	return &Tensor{
		Data:   t.Data[start*stride : end*stride],
		Shape:  shape,
		Device: t.Device,
	}
}

func (t *Tensor) squeezeLeading() *Tensor {
	t.Shape = t.Shape[1:]
	return t
}

// Clone returns a deep copy of t on the same device.
func (t *Tensor) Clone() *Tensor {
	if t.IsNull() {
		return &Tensor{Device: t.Device}
	}
	c := NewOn(t.Device, t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// Copy copies src's elements into dst. Shapes may differ but element counts
// must match; dst keeps its own shape.
func Copy(src, dst *Tensor) {
	Enforce(src.Size() == dst.Size(),
		"Copy: element count mismatch %d vs %d", src.Size(), dst.Size())
	EnforceSameDevice("Copy", src, dst)
	copy(dst.Data, src.Data)
}

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float32 {
	return t.Data[t.flatIndex(indices)]
}

// Set sets the element at the given indices.
func (t *Tensor) Set(val float32, indices ...int) {
	t.Data[t.flatIndex(indices)] = val
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("wrong number of indices: got %d, want %d", len(indices), len(t.Shape)))
	}
	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		idx += indices[i] * stride
		stride *= t.Shape[i]
	}
	return idx
}
