package tensor

import "fmt"

// DeviceKind identifies the compute backend that owns a buffer.
type DeviceKind int

const (
	// CPU is the multi-threaded vector backend.
	CPU DeviceKind = iota
	// Accel is a massively parallel accelerator queue. No accelerator
	// kernels ship with this module; the placement exists so that callers
	// staging buffers for one are rejected consistently instead of
	// silently computed on the wrong device.
	Accel
)

func (k DeviceKind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case Accel:
		return "accel"
	}
	return fmt.Sprintf("device(%d)", int(k))
}

// Device is a buffer placement: a backend kind plus a device index.
type Device struct {
	Kind  DeviceKind
	Index int
}

func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}

// CPU0 is the default placement for newly created tensors.
var CPU0 = Device{Kind: CPU}

// SameDevice reports whether two tensors live on the same device.
// Every kernel asserts this for its operands before touching data.
func SameDevice(a, b *Tensor) bool {
	return a.Device == b.Device
}
