package tensor_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attention-go/tensor"
)

func TestNullSentinel(t *testing.T) {
	var nilT *tensor.Tensor
	assert.True(t, nilT.IsNull())
	assert.True(t, tensor.New().IsNull())
	assert.Equal(t, 0, tensor.New().Size())

	filled := tensor.New(2, 3)
	assert.False(t, filled.IsNull())
	assert.Equal(t, 6, filled.Size())
}

func TestReshapeKeepsBufferAtSameCount(t *testing.T) {
	a := tensor.New(2, 6)
	a.Data[0] = 42

	a.Reshape(3, 4)
	assert.Equal(t, []int{3, 4}, a.Shape)
	assert.Equal(t, float32(42), a.Data[0], "buffer must survive a same-count reshape")

	// Different count reallocates (and zeroes).
	a.Reshape(2, 2)
	assert.Equal(t, 4, a.Size())
	assert.Equal(t, float32(0), a.Data[0])
}

func TestReshapeAllocatesNullTensor(t *testing.T) {
	a := tensor.New()
	a.Reshape(2, 2)
	assert.False(t, a.IsNull())
	assert.Equal(t, 4, len(a.Data))
}

func TestIndexAndSliceShareStorage(t *testing.T) {
	a := tensor.New(3, 2, 2)
	for i := range a.Data {
		a.Data[i] = float32(i)
	}

	view := a.Index(1)
	require.Equal(t, []int{2, 2}, view.Shape)
	assert.Equal(t, float32(4), view.At(0, 0))

	view.Set(-1, 0, 0)
	assert.Equal(t, float32(-1), a.At(1, 0, 0), "view must alias the parent")

	tail := a.Slice(1, 3)
	require.Equal(t, []int{2, 2, 2}, tail.Shape)
	assert.Equal(t, float32(-1), tail.At(0, 0, 0))
}

func TestCloneIsIndependent(t *testing.T) {
	a := tensor.New(2, 2)
	a.Data[3] = 7
	b := a.Clone()
	b.Data[3] = 9
	assert.Equal(t, float32(7), a.Data[3])
	assert.Equal(t, float32(9), b.Data[3])
}

func TestCopyEnforcesElementCount(t *testing.T) {
	src := tensor.New(2, 3)
	dst := tensor.New(3, 2)
	require.NotPanics(t, func() { tensor.Copy(src, dst) })
	assert.Equal(t, []int{3, 2}, dst.Shape, "Copy must not change dst's shape")

	small := tensor.New(2, 2)
	require.Panics(t, func() { tensor.Copy(src, small) })
}

func TestEnforceWrapsConfigurationError(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, tensor.ErrConfiguration))
	}()
	tensor.Enforce(false, "bad rank %d", 2)
}

func TestEnforceSameDevice(t *testing.T) {
	cpu := tensor.New(1)
	accel := tensor.NewOn(tensor.Device{Kind: tensor.Accel, Index: 1}, 1)

	require.NotPanics(t, func() { tensor.EnforceSameDevice("test", cpu, cpu.Clone()) })

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, tensor.ErrDeviceMismatch))
	}()
	tensor.EnforceSameDevice("test", cpu, accel)
}

func TestDeviceString(t *testing.T) {
	assert.Equal(t, "cpu:0", tensor.CPU0.String())
	assert.Equal(t, "accel:2", tensor.Device{Kind: tensor.Accel, Index: 2}.String())
}
