package tensor

import "github.com/pkg/errors"

// The two fatal error kinds of this engine. Both are raised as panics:
// malformed shapes and misplaced operands are programming errors in the
// caller, not conditions the forward pass can recover from. Wrap sites use
// errors.Wrapf so handlers can classify with errors.Is.
var (
	// ErrConfiguration covers wrong tensor rank, mismatched batch sizes,
	// inconsistent hidden-size/head-count, and unrecognized modes.
	ErrConfiguration = errors.New("configuration error")

	// ErrDeviceMismatch covers operand tensors on different devices.
	ErrDeviceMismatch = errors.New("device mismatch")
)

// Enforce panics with an ErrConfiguration-wrapped message unless cond holds.
func Enforce(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(errors.Wrapf(ErrConfiguration, format, args...))
	}
}

// EnforceSameDevice panics with ErrDeviceMismatch unless all tensors share
// one device.
func EnforceSameDevice(what string, ts ...*Tensor) {
	for i := 1; i < len(ts); i++ {
		if !SameDevice(ts[0], ts[i]) {
			panic(errors.Wrapf(ErrDeviceMismatch,
				"%s: operand 0 is on %s, operand %d is on %s",
				what, ts[0].Device, i, ts[i].Device))
		}
	}
}
