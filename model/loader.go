package model

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/x448/float16"
	"k8s.io/klog/v2"

	"attention-go/attention"
	"attention-go/tensor"
)

// tensorInfo describes one entry of a safetensors header.
type tensorInfo struct {
	Dtype  string   `json:"dtype"`
	Shape  []int    `json:"shape"`
	Offset [2]int64 `json:"data_offsets"`
}

// Checkpoint is the result of loading a weight file: one Weights set per
// layer plus an xxhash64 digest of the raw tensor payload, so callers can
// pin the exact bytes a model was validated against.
type Checkpoint struct {
	Layers []attention.Weights
	Digest uint64
}

// Layer tensor names inside the checkpoint. Every slot is optional; a model
// that only ever runs self-attention ships just the fused qkv pair.
var layerSlots = []struct {
	suffix string
	pick   func(w *attention.Weights) **tensor.Tensor
}{
	{"attn.q.weight", func(w *attention.Weights) **tensor.Tensor { return &w.QWeight }},
	{"attn.q.bias", func(w *attention.Weights) **tensor.Tensor { return &w.QBias }},
	{"attn.k.weight", func(w *attention.Weights) **tensor.Tensor { return &w.KWeight }},
	{"attn.k.bias", func(w *attention.Weights) **tensor.Tensor { return &w.KBias }},
	{"attn.v.weight", func(w *attention.Weights) **tensor.Tensor { return &w.VWeight }},
	{"attn.v.bias", func(w *attention.Weights) **tensor.Tensor { return &w.VBias }},
	{"attn.qkv.weight", func(w *attention.Weights) **tensor.Tensor { return &w.QKVWeight }},
	{"attn.qkv.bias", func(w *attention.Weights) **tensor.Tensor { return &w.QKVBias }},
	{"attn.out.weight", func(w *attention.Weights) **tensor.Tensor { return &w.DenseWeight }},
	{"attn.out.bias", func(w *attention.Weights) **tensor.Tensor { return &w.DenseBias }},
	{"ln.weight", func(w *attention.Weights) **tensor.Tensor { return &w.LayerNormGamma }},
	{"ln.bias", func(w *attention.Weights) **tensor.Tensor { return &w.LayerNormBeta }},
}

// LoadSafetensors loads cfg.NumLayers attention layers from a safetensors
// file. Layer tensors are named "layers.<i>.<slot>" with the slots listed in
// layerSlots; float32 and float16 payloads are supported, float16 widening
// to float32 on load.
func LoadSafetensors(path string, cfg *Config) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read checkpoint")
	}
	if len(data) < 8 {
		return nil, errors.Errorf("checkpoint too short: %d bytes", len(data))
	}

	headerSize := binary.LittleEndian.Uint64(data[:8])
	if 8+headerSize > uint64(len(data)) {
		return nil, errors.Errorf("header size %d exceeds file size %d", headerSize, len(data))
	}
	headerBytes := data[8 : 8+headerSize]
	payload := data[8+headerSize:]

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse safetensors header")
	}
	header := make(map[string]tensorInfo, len(raw))
	for name, msg := range raw {
		if strings.HasPrefix(name, "__") { // __metadata__ and friends
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, errors.Wrapf(err, "bad header entry %q", name)
		}
		header[name] = info
	}

	ckpt := &Checkpoint{
		Layers: make([]attention.Weights, cfg.NumLayers),
		Digest: xxhash.Sum64(payload),
	}

	bar := progressbar.NewOptions(cfg.NumLayers*len(layerSlots),
		progressbar.OptionSetDescription("Loading weights"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(klog.V(1).Enabled()),
	)

	for i := 0; i < cfg.NumLayers; i++ {
		w := &ckpt.Layers[i]
		for _, slot := range layerSlots {
			name := fmt.Sprintf("layers.%d.%s", i, slot.suffix)
			if info, ok := header[name]; ok {
				t, err := materialize(payload, info)
				if err != nil {
					return nil, errors.Wrapf(err, "tensor %q", name)
				}
				*slot.pick(w) = t
			}
			bar.Add(1)
		}
		if w.DenseWeight.IsNull() {
			return nil, errors.Errorf("layer %d has no output projection (layers.%d.attn.out.weight)", i, i)
		}
	}

	klog.Infof("loaded %d layers (%s payload, xxh64 %016x) from %s",
		cfg.NumLayers, humanize.Bytes(uint64(len(payload))), ckpt.Digest, path)
	return ckpt, nil
}

func materialize(payload []byte, info tensorInfo) (*tensor.Tensor, error) {
	start, end := info.Offset[0], info.Offset[1]
	if start < 0 || end < start || end > int64(len(payload)) {
		return nil, errors.Errorf("offsets [%d, %d) out of payload range %d", start, end, len(payload))
	}
	raw := payload[start:end]

	count := 1
	for _, dim := range info.Shape {
		count *= dim
	}

	t := tensor.New(info.Shape...)
	switch info.Dtype {
	case "F32":
		if len(raw) != 4*count {
			return nil, errors.Errorf("F32 payload is %d bytes, want %d", len(raw), 4*count)
		}
		for i := 0; i < count; i++ {
			bits := binary.LittleEndian.Uint32(raw[4*i:])
			t.Data[i] = floatFromBits(bits)
		}
	case "F16":
		if len(raw) != 2*count {
			return nil, errors.Errorf("F16 payload is %d bytes, want %d", len(raw), 2*count)
		}
		for i := 0; i < count; i++ {
			bits := binary.LittleEndian.Uint16(raw[2*i:])
			t.Data[i] = float16.Frombits(bits).Float32()
		}
	default:
		return nil, errors.Errorf("unsupported dtype %q", info.Dtype)
	}
	return t, nil
}

func floatFromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}
