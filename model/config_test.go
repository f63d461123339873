package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attention-go/attention"
	"attention-go/model"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := model.NewConfig(768, 12)
	assert.Equal(t, 1, cfg.NumLayers)
	assert.Equal(t, 64, cfg.SizePerHead())
	assert.Equal(t, attention.FinalizeBias, cfg.Finalize)
	assert.False(t, cfg.PreLayerNorm)
}

func TestNewConfigOptions(t *testing.T) {
	cfg := model.NewConfig(512, 8,
		model.WithNumLayers(6),
		model.WithPreLayerNorm(true),
		model.WithFinalize(attention.FinalizeLayerNorm),
		model.WithTransposedWeights(true),
	)
	assert.Equal(t, 6, cfg.NumLayers)
	assert.True(t, cfg.PreLayerNorm)
	assert.True(t, cfg.TransposedWeights)

	params := cfg.Params(attention.Context)
	assert.Equal(t, attention.Context, params.Variant)
	assert.True(t, params.PreLayerNorm)
	assert.Equal(t, attention.FinalizeLayerNorm, params.Finalize)
	assert.True(t, params.TransposedWeights)
}

func TestNewConfigRejectsBadDimensions(t *testing.T) {
	assert.Panics(t, func() { model.NewConfig(0, 4) })
	assert.Panics(t, func() { model.NewConfig(64, 0) })
	assert.Panics(t, func() { model.NewConfig(64, 5) })
	assert.Panics(t, func() { model.NewConfig(64, 4, model.WithNumLayers(0)) })
}

func TestRandomWeightsDeterministic(t *testing.T) {
	cfg := model.NewConfig(16, 4)
	a := model.RandomWeights(cfg, 7)
	b := model.RandomWeights(cfg, 7)
	other := model.RandomWeights(cfg, 8)

	require.Equal(t, []int{16, 48}, a.QKVWeight.Shape)
	assert.Equal(t, a.QKVWeight.Data, b.QKVWeight.Data)
	assert.Equal(t, a.DenseBias.Data, b.DenseBias.Data)
	assert.NotEqual(t, a.QKVWeight.Data, other.QKVWeight.Data)
}

func TestRandomWeightsCoverBothVariants(t *testing.T) {
	cfg := model.NewConfig(16, 4)
	w := model.RandomWeights(cfg, 1)

	assert.False(t, w.QWeight.IsNull())
	assert.False(t, w.KWeight.IsNull())
	assert.False(t, w.VWeight.IsNull())
	assert.False(t, w.QKVWeight.IsNull())
	assert.False(t, w.DenseWeight.IsNull())

	for _, g := range w.LayerNormGamma.Data {
		assert.Equal(t, float32(1), g)
	}
	for _, b := range w.LayerNormBeta.Data {
		assert.Equal(t, float32(0), b)
	}
}
