package kernels

import (
	"os"
	"sync/atomic"

	"github.com/pkg/errors"

	"attention-go/tensor"
)

// Backend selects how dense matrix multiplies execute. Every other kernel is
// backend-independent; GEMM is the only primitive with two implementations.
type Backend int32

const (
	// BackendBLAS routes GEMM through gonum's float32 BLAS.
	BackendBLAS Backend = iota
	// BackendNaive uses plain Go loops, chunk-parallel over output rows.
	// Slower, but a useful cross-check and the reference the BLAS path is
	// tested against.
	BackendNaive
)

func (b Backend) String() string {
	switch b {
	case BackendBLAS:
		return "blas"
	case BackendNaive:
		return "naive"
	}
	return "unknown"
}

var activeBackend atomic.Int32

func init() {
	// ATTN_BACKEND=naive forces the loop backend, e.g. for debugging
	// suspected BLAS discrepancies.
	if os.Getenv("ATTN_BACKEND") == "naive" {
		activeBackend.Store(int32(BackendNaive))
	}
}

// SetBackend selects the GEMM backend process-wide.
func SetBackend(b Backend) {
	tensor.Enforce(b == BackendBLAS || b == BackendNaive, "SetBackend: unknown backend %d", b)
	activeBackend.Store(int32(b))
}

// ActiveBackend returns the GEMM backend in use.
func ActiveBackend() Backend {
	return Backend(activeBackend.Load())
}

// ParseBackend maps a backend name to its Backend value.
func ParseBackend(name string) (Backend, error) {
	switch name {
	case "blas":
		return BackendBLAS, nil
	case "naive":
		return BackendNaive, nil
	}
	return 0, errors.Errorf("unknown backend %q (want blas or naive)", name)
}
