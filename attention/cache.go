package attention

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"attention-go/tensor"
)

// LayerCache carries key/value projections across decoding steps of one
// session. The engine resizes the slot tensors rather than replacing them,
// so tensor pointers held by the caller stay valid for the whole session. A
// slot counts as present only when it is non-nil and has backing storage.
//
// SelfKeys/SelfValues grow by one step's worth along the sequence axis on
// every self-attention call. MemoryKeys/MemoryValues are the cross-attention
// projections of the encoder output: written once, then reused unchanged for
// the rest of the session.
type LayerCache struct {
	SelfKeys     *tensor.Tensor
	SelfValues   *tensor.Tensor
	MemoryKeys   *tensor.Tensor
	MemoryValues *tensor.Tensor
}

// NewLayerCache returns a cache with four empty slots, ready to be populated
// by the first forward call of a session.
func NewLayerCache() *LayerCache {
	return &LayerCache{
		SelfKeys:     tensor.New(),
		SelfValues:   tensor.New(),
		MemoryKeys:   tensor.New(),
		MemoryValues: tensor.New(),
	}
}

// HasMemory reports whether both cross-attention slots are populated.
func (c *LayerCache) HasMemory() bool {
	return !c.MemoryKeys.IsNull() && !c.MemoryValues.IsNull()
}

// ensure returns the slot's tensor, materializing an empty one on dev when
// the slot is nil.
func (c *LayerCache) ensure(slot **tensor.Tensor, dev tensor.Device) *tensor.Tensor {
	if *slot == nil {
		*slot = &tensor.Tensor{Device: dev}
	}
	return *slot
}

// Fingerprint returns an xxhash64 digest over the shapes and payloads of all
// present slots. Two calls return the same value iff no slot changed, which
// makes "the memory cache was not touched" checks cheap.
func (c *LayerCache) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte
	for i, t := range []*tensor.Tensor{c.SelfKeys, c.SelfValues, c.MemoryKeys, c.MemoryValues} {
		buf[0] = byte(i)
		h.Write(buf[:1])
		if t.IsNull() {
			continue
		}
		for _, dim := range t.Shape {
			binary.LittleEndian.PutUint64(buf[:], uint64(dim))
			h.Write(buf[:])
		}
		for _, v := range t.Data {
			binary.LittleEndian.PutUint32(buf[:4], uint32(floatBits(v)))
			h.Write(buf[:4])
		}
	}
	return h.Sum64()
}
