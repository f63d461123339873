// Package model holds layer configuration and checkpoint loading for the
// attention engine. Everything here runs once at setup time; the hot path
// lives in the attention and kernels packages.
package model

import (
	"math/rand"

	"github.com/pkg/errors"

	"attention-go/attention"
	"attention-go/tensor"
)

// Config describes a stack of attention layers.
type Config struct {
	HiddenSize int
	NumHeads   int
	NumLayers  int

	PreLayerNorm      bool
	Finalize          attention.Finalize
	TransposedWeights bool
}

// ConfigOption is a functional option for Config.
type ConfigOption func(*Config)

// NewConfig creates a Config with the given dimensions and defaults.
func NewConfig(hiddenSize, numHeads int, opts ...ConfigOption) *Config {
	c := &Config{
		HiddenSize: hiddenSize,
		NumHeads:   numHeads,
		NumLayers:  1,
		Finalize:   attention.FinalizeBias,
	}

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		panic(err)
	}

	return c
}

func (c *Config) validate() error {
	if c.HiddenSize <= 0 {
		return errors.Errorf("hidden_size must be positive, got %d", c.HiddenSize)
	}
	if c.NumHeads <= 0 {
		return errors.Errorf("num_heads must be positive, got %d", c.NumHeads)
	}
	if c.HiddenSize%c.NumHeads != 0 {
		return errors.Errorf("hidden_size %d is not divisible by num_heads %d", c.HiddenSize, c.NumHeads)
	}
	if c.NumLayers < 1 {
		return errors.Errorf("num_layers must be at least 1, got %d", c.NumLayers)
	}
	return nil
}

// SizePerHead returns the width of one attention head.
func (c *Config) SizePerHead() int {
	return c.HiddenSize / c.NumHeads
}

// Params returns the per-call parameters this configuration implies.
func (c *Config) Params(v attention.Variant) attention.Params {
	return attention.Params{
		Variant:           v,
		PreLayerNorm:      c.PreLayerNorm,
		Finalize:          c.Finalize,
		TransposedWeights: c.TransposedWeights,
	}
}

// WithNumLayers sets the number of layers.
func WithNumLayers(n int) ConfigOption {
	return func(c *Config) {
		c.NumLayers = n
	}
}

// WithPreLayerNorm normalizes the query before projection.
func WithPreLayerNorm(b bool) ConfigOption {
	return func(c *Config) {
		c.PreLayerNorm = b
	}
}

// WithFinalize selects the output finalization mode.
func WithFinalize(f attention.Finalize) ConfigOption {
	return func(c *Config) {
		c.Finalize = f
	}
}

// WithTransposedWeights marks projection weights as stored [out, in].
func WithTransposedWeights(b bool) ConfigOption {
	return func(c *Config) {
		c.TransposedWeights = b
	}
}

// RandomWeights builds a full, deterministic set of layer weights for
// benchmarks and tests. All projections are populated, so the same weights
// drive both attention variants.
func RandomWeights(c *Config, seed int64) attention.Weights {
	rng := rand.New(rand.NewSource(seed))
	h := c.HiddenSize

	fill := func(shape ...int) *tensor.Tensor {
		t := tensor.New(shape...)
		for i := range t.Data {
			t.Data[i] = float32(rng.NormFloat64()) * 0.02
		}
		return t
	}
	ones := func(n int) *tensor.Tensor {
		t := tensor.New(n)
		for i := range t.Data {
			t.Data[i] = 1
		}
		return t
	}

	return attention.Weights{
		QWeight: fill(h, h), QBias: fill(h),
		KWeight: fill(h, h), KBias: fill(h),
		VWeight: fill(h, h), VBias: fill(h),
		QKVWeight: fill(h, 3*h), QKVBias: fill(3 * h),
		DenseWeight: fill(h, h), DenseBias: fill(h),
		LayerNormGamma: ones(h), LayerNormBeta: tensor.New(h),
	}
}
