package kernels

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"attention-go/tensor"
)

// MatMul computes out = alpha * op(a) @ op(b) + beta * out, where op applies
// the transpose flags. a may have any rank >= 2 (leading dimensions are
// flattened into rows, so a [batch, seq, hidden] activation multiplies a
// 2-D weight directly); with transA it must be exactly 2-D. b is always 2-D:
// a weight matrix stored [in, out], or [out, in] when the model checkpoint
// keeps projection weights pre-transposed (transB).
//
// With beta == 0 the output is reshaped to the result shape, reusing its
// buffer when the element count already matches. With beta != 0 the output
// must already hold the result shape.
func MatMul(a *tensor.Tensor, transA bool, b *tensor.Tensor, transB bool, alpha float32, out *tensor.Tensor, beta float32) {
	tensor.EnforceSameDevice("MatMul", a, b, out)
	tensor.Enforce(b.Rank() == 2, "MatMul: weight must be 2-D, got rank %d", b.Rank())

	var m, k int
	var outShape []int
	if transA {
		tensor.Enforce(a.Rank() == 2, "MatMul: transposed input must be 2-D, got rank %d", a.Rank())
		k, m = a.Dim(0), a.Dim(1)
	} else {
		tensor.Enforce(a.Rank() >= 2, "MatMul: input must have rank >= 2, got %d", a.Rank())
		k = a.Dim(a.Rank() - 1)
		m = a.Size() / k
	}
	kb, n := b.Dim(0), b.Dim(1)
	if transB {
		kb, n = n, kb
	}
	tensor.Enforce(k == kb, "MatMul: inner dimensions differ, %d vs %d", k, kb)

	if transA {
		outShape = []int{m, n}
	} else {
		outShape = append(append([]int{}, a.Shape[:a.Rank()-1]...), n)
	}
	prepareOut(out, outShape, m*n, beta, "MatMul")

	gemm(transA, transB, m, n, k, alpha, a.Data, b.Data, beta, out.Data)
}

// BatchMatMul is MatMul batched over all leading dimensions: a and b must
// share them, and each [.., m, k] x [.., k, n] pair multiplies
// independently. The attention scores use it as q @ k^T with the
// 1/sqrt(size_per_head) scale folded into alpha.
func BatchMatMul(a *tensor.Tensor, transA bool, b *tensor.Tensor, transB bool, alpha float32, out *tensor.Tensor, beta float32) {
	tensor.EnforceSameDevice("BatchMatMul", a, b, out)
	tensor.Enforce(a.Rank() >= 3 && a.Rank() == b.Rank(),
		"BatchMatMul: operands must share rank >= 3, got %d and %d", a.Rank(), b.Rank())

	rank := a.Rank()
	batch := 1
	for i := 0; i < rank-2; i++ {
		tensor.Enforce(a.Dim(i) == b.Dim(i),
			"BatchMatMul: batch dimension %d differs, %d vs %d", i, a.Dim(i), b.Dim(i))
		batch *= a.Dim(i)
	}

	m, k := a.Dim(rank-2), a.Dim(rank-1)
	if transA {
		m, k = k, m
	}
	kb, n := b.Dim(rank-2), b.Dim(rank-1)
	if transB {
		kb, n = n, kb
	}
	tensor.Enforce(k == kb, "BatchMatMul: inner dimensions differ, %d vs %d", k, kb)

	outShape := append(append([]int{}, a.Shape[:rank-2]...), m, n)
	prepareOut(out, outShape, batch*m*n, beta, "BatchMatMul")

	aStride := a.Dim(rank-2) * a.Dim(rank-1)
	bStride := b.Dim(rank-2) * b.Dim(rank-1)
	cStride := m * n
	for i := 0; i < batch; i++ {
		gemm(transA, transB, m, n, k, alpha,
			a.Data[i*aStride:(i+1)*aStride],
			b.Data[i*bStride:(i+1)*bStride],
			beta, out.Data[i*cStride:(i+1)*cStride])
	}
}

func prepareOut(out *tensor.Tensor, shape []int, size int, beta float32, what string) {
	if beta == 0 {
		out.Reshape(shape...)
		return
	}
	tensor.Enforce(out.Size() == size,
		"%s: accumulating output has %d elements, want %d", what, out.Size(), size)
}

// gemm computes c = alpha * op(a) @ op(b) + beta * c on flat row-major
// storage, dispatching on the active backend.
func gemm(transA, transB bool, m, n, k int, alpha float32, a, b []float32, beta float32, c []float32) {
	if ActiveBackend() == BackendBLAS {
		tA, tB := blas.NoTrans, blas.NoTrans
		ga := blas32.General{Rows: m, Cols: k, Stride: max(k, 1), Data: a}
		if transA {
			tA = blas.Trans
			ga = blas32.General{Rows: k, Cols: m, Stride: max(m, 1), Data: a}
		}
		gb := blas32.General{Rows: k, Cols: n, Stride: max(n, 1), Data: b}
		if transB {
			tB = blas.Trans
			gb = blas32.General{Rows: n, Cols: k, Stride: max(k, 1), Data: b}
		}
		gc := blas32.General{Rows: m, Cols: n, Stride: max(n, 1), Data: c}
		blas32.Gemm(tA, tB, alpha, ga, gb, beta, gc)
		return
	}
	gemmNaive(transA, transB, m, n, k, alpha, a, b, beta, c)
}

func gemmNaive(transA, transB bool, m, n, k int, alpha float32, a, b []float32, beta float32, c []float32) {
	parallelFor(m, rowChunk(m, n*k), func(start, end int) {
		for i := start; i < end; i++ {
			for j := 0; j < n; j++ {
				var sum float32
				for p := 0; p < k; p++ {
					av := a[i*k+p]
					if transA {
						av = a[p*m+i]
					}
					bv := b[p*n+j]
					if transB {
						bv = b[j*k+p]
					}
					sum += av * bv
				}
				if beta == 0 {
					c[i*n+j] = alpha * sum
				} else {
					c[i*n+j] = alpha*sum + beta*c[i*n+j]
				}
			}
		}
	})
}
