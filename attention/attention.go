// Package attention computes the forward pass of multi-headed attention for
// inference: learned projections, per-head scaled dot-product attention with
// an additive mask, and recombination, with an incremental-decoding cache
// for previously computed key/value projections.
package attention

import (
	"math"
	"sync"

	"k8s.io/klog/v2"

	"attention-go/kernels"
	"attention-go/tensor"
)

// Variant selects which attention computation runs.
type Variant int

const (
	// Self derives queries, keys, and values from the query tensor alone,
	// through the fused QKV projection.
	Self Variant = iota
	// Context derives queries from the query tensor and keys/values from
	// the key/value tensors (typically encoder output), cached across
	// decoding steps.
	Context
)

func (v Variant) String() string {
	switch v {
	case Self:
		return "self"
	case Context:
		return "context"
	}
	return "unknown"
}

// Finalize selects how the output projection is finished.
type Finalize int

const (
	// FinalizeBias adds the output-projection bias.
	FinalizeBias Finalize = iota
	// FinalizeLayerNorm adds the bias and the original (pre-normalization)
	// query as a residual, then layer-normalizes.
	FinalizeLayerNorm
	// FinalizeResidual adds the bias and the query as a residual, without
	// normalization.
	FinalizeResidual
)

// Params are the per-call mode switches of Forward.
type Params struct {
	Variant      Variant
	PreLayerNorm bool
	Finalize     Finalize
	// TransposedWeights marks projection weights stored [out, in] instead
	// of [in, out], as some checkpoints keep them.
	TransposedWeights bool
}

// Weights holds one layer's projection parameters. Self-attention uses the
// fused QKV pair; context attention uses the split Q/K/V triples. Gamma and
// beta serve both the pre-layernorm of the query and the post-layernorm
// finalization.
type Weights struct {
	QWeight, QBias *tensor.Tensor
	KWeight, KBias *tensor.Tensor
	VWeight, VBias *tensor.Tensor

	QKVWeight, QKVBias *tensor.Tensor

	DenseWeight, DenseBias *tensor.Tensor

	LayerNormGamma, LayerNormBeta *tensor.Tensor
}

// MultiHeadedAttention is the per-layer attention engine. Weights are set at
// construction and read-only afterwards; every call is otherwise stateless.
type MultiHeadedAttention struct {
	numHeads int
	w        Weights
}

const (
	preLayerNormEps  = 1e-6
	postLayerNormEps = 1e-12
)

// forwardMu serializes all forward calls process-wide, across every layer
// instance: at most one attention computation is in flight at a time. Two
// concurrent calls must never observe each other's intermediates or race on
// a shared cache, and a single engine-wide lock is the simplest guarantee.
// It is also the dominant throughput limit; see DESIGN.md for the tradeoff.
var forwardMu sync.Mutex

// New creates the engine for one attention layer. hidden size must divide
// evenly into numHeads; the division is checked against the query tensor on
// every call and against DenseBias here when present.
func New(w Weights, numHeads int) *MultiHeadedAttention {
	tensor.Enforce(numHeads > 0, "New: numHeads must be positive, got %d", numHeads)
	if !w.DenseBias.IsNull() {
		tensor.Enforce(w.DenseBias.Size()%numHeads == 0,
			"New: hidden size %d is not divisible by %d heads", w.DenseBias.Size(), numHeads)
	}
	if klog.V(3).Enabled() {
		klog.Infof("attention weights: q=%v k=%v v=%v qkv=%v dense=%v gamma=%v",
			shapeOf(w.QWeight), shapeOf(w.KWeight), shapeOf(w.VWeight),
			shapeOf(w.QKVWeight), shapeOf(w.DenseWeight), shapeOf(w.LayerNormGamma))
	}
	return &MultiHeadedAttention{numHeads: numHeads, w: w}
}

// NumHeads returns the head count the engine splits the hidden size into.
func (mha *MultiHeadedAttention) NumHeads() int {
	return mha.numHeads
}

// Forward runs one attention forward pass and writes the result into output
// (shape [batch, queryLen, hidden]).
//
// key, value, and query must each be [batch, seqLen, hidden]. mask is the
// additive attention mask, [batch, queryLen, keyLen] or [batch, 1, keyLen],
// broadcast over heads; nil skips masking. attScore, when non-nil, receives
// the masked, normalized scores [batch, heads, queryLen, keyLen]; when nil
// an internal score tensor is allocated and discarded. cache, when non-nil,
// is read and updated per LayerCache's contract.
//
// The Self variant ignores the key and value arguments entirely and derives
// q/k/v from query alone; callers conventionally pass the same tensor three
// times. This asymmetry with Context is part of the contract.
//
// Malformed ranks, mismatched batch sizes, an out-of-range variant, and
// misplaced operands are fatal: Forward panics with an error wrapping
// tensor.ErrConfiguration or tensor.ErrDeviceMismatch before any cache slot
// is mutated.
func (mha *MultiHeadedAttention) Forward(key, value, query, mask *tensor.Tensor, params Params,
	output, attScore *tensor.Tensor, cache *LayerCache) {
	forwardMu.Lock()
	defer forwardMu.Unlock()

	tensor.Enforce(key.Rank() == 3,
		"Forward: key tensor must be [batch, keySeqLen, hidden], got rank %d", key.Rank())
	tensor.Enforce(value.Rank() == 3,
		"Forward: value tensor must be [batch, keySeqLen, hidden], got rank %d", value.Rank())
	tensor.Enforce(query.Rank() == 3,
		"Forward: query tensor must be [batch, querySeqLen, hidden], got rank %d", query.Rank())
	tensor.Enforce(key.Dim(0) == value.Dim(0),
		"Forward: key and value batch sizes differ, %d vs %d", key.Dim(0), value.Dim(0))
	tensor.Enforce(params.Variant == Self || params.Variant == Context,
		"Forward: attention variant must be self or context, got %d", int(params.Variant))
	tensor.EnforceSameDevice("Forward", query, key, value)

	hidden := query.Dim(2)
	tensor.Enforce(hidden%mha.numHeads == 0,
		"Forward: hidden size %d is not divisible by %d heads", hidden, mha.numHeads)
	sizePerHead := hidden / mha.numHeads
	dev := query.Device

	var q, k, v *tensor.Tensor
	switch params.Variant {
	case Context:
		q, k, v = mha.projectContext(key, value, query, params, cache)
	case Self:
		q, k, v = mha.projectSelf(query, params, cache)
	}

	// The effective key length comes from the possibly cache-grown key
	// tensor, not from the raw inputs.
	keySeqLength := k.Dim(2)
	if klog.V(2).Enabled() {
		klog.Infof("attention %s: batch=%d queryLen=%d keyLen=%d heads=%d",
			params.Variant, query.Dim(0), query.Dim(1), keySeqLength, mha.numHeads)
	}

	score := attScore
	if score == nil {
		// The masked softmax runs in place, so an unsolicited score still
		// needs a buffer; it is allocated lazily here and never escapes.
		score = tensor.NewOn(dev)
	}
	scale := float32(1 / math.Sqrt(float64(sizePerHead)))
	kernels.BatchMatMul(q, false, k, true, scale, score, 0)
	kernels.ApplyMaskAndSoftmax(score, mask, 1)

	contextLayer := tensor.NewOn(dev)
	kernels.BatchMatMul(score, false, v, false, 1, contextLayer, 0)

	merged := tensor.NewOn(dev)
	kernels.TransposeForScore(merged, contextLayer)

	kernels.MatMul(merged, false, mha.w.DenseWeight, params.TransposedWeights, 1, output, 0)

	switch params.Finalize {
	case FinalizeResidual:
		kernels.AddInputBias(output, query, mha.w.DenseBias, output)
	case FinalizeLayerNorm:
		kernels.AddBiasLayerNorm(query, mha.w.DenseBias,
			mha.w.LayerNormGamma, mha.w.LayerNormBeta, output, postLayerNormEps)
	case FinalizeBias:
		kernels.AddBias(mha.w.DenseBias, output)
	default:
		tensor.Enforce(false, "Forward: unknown finalization mode %d", int(params.Finalize))
	}
}

// projectQuery multiplies the query (or, with pre-layernorm, a normalized
// copy of it) by the given projection weight into out. The original query
// is never modified; the finalization residual needs it untouched.
func (mha *MultiHeadedAttention) projectQuery(query, weight *tensor.Tensor, params Params, out *tensor.Tensor) {
	if params.PreLayerNorm {
		normed := query.Clone()
		kernels.LayerNorm(mha.w.LayerNormGamma, mha.w.LayerNormBeta, normed, preLayerNormEps)
		kernels.MatMul(normed, false, weight, params.TransposedWeights, 1, out, 0)
		return
	}
	kernels.MatMul(query, false, weight, params.TransposedWeights, 1, out, 0)
}

// projectContext produces the per-head q/k/v for cross-attention. Keys and
// values are projected once per encoder output: when the cache already holds
// them they are reused wholesale, and when a cache is supplied but still
// empty the fresh projections are written straight into its memory slots.
func (mha *MultiHeadedAttention) projectContext(key, value, query *tensor.Tensor, params Params,
	cache *LayerCache) (q, k, v *tensor.Tensor) {
	batch, queryLen, hidden := query.Dim(0), query.Dim(1), query.Dim(2)
	keyLen := key.Dim(1)
	heads := mha.numHeads
	width := hidden / heads
	dev := query.Device

	qOut := tensor.NewOn(dev)
	mha.projectQuery(query, mha.w.QWeight, params, qOut)
	qOut.Reshape(batch, queryLen, heads, width)
	q = tensor.NewOn(dev)
	kernels.AddBiasTransposeForScore(qOut, mha.w.QBias, q)

	if cache != nil && cache.HasMemory() {
		return q, cache.MemoryKeys, cache.MemoryValues
	}

	kOut := tensor.NewOn(dev)
	vOut := tensor.NewOn(dev)
	kernels.MatMul(key, false, mha.w.KWeight, params.TransposedWeights, 1, kOut, 0)
	kernels.MatMul(value, false, mha.w.VWeight, params.TransposedWeights, 1, vOut, 0)
	kOut.Reshape(batch, keyLen, heads, width)
	vOut.Reshape(batch, keyLen, heads, width)

	if cache != nil {
		k = cache.ensure(&cache.MemoryKeys, dev)
		v = cache.ensure(&cache.MemoryValues, dev)
	} else {
		k = tensor.NewOn(dev)
		v = tensor.NewOn(dev)
	}
	kernels.AddBiasTransposeForScore(kOut, mha.w.KBias, k)
	kernels.AddBiasTransposeForScore(vOut, mha.w.VBias, v)
	return q, k, v
}

// projectSelf produces the per-head q/k/v for self-attention through the
// fused QKV projection, merging with and updating the self cache. Fresh keys
// and values concatenate after the cached history along the sequence axis,
// and the merged result is copied back so the cache always holds the
// cumulative session.
func (mha *MultiHeadedAttention) projectSelf(query *tensor.Tensor, params Params,
	cache *LayerCache) (q, k, v *tensor.Tensor) {
	batch, queryLen, hidden := query.Dim(0), query.Dim(1), query.Dim(2)
	heads := mha.numHeads
	width := hidden / heads
	dev := query.Device

	qkvOut := tensor.NewOn(dev)
	mha.projectQuery(query, mha.w.QKVWeight, params, qkvOut)

	split := tensor.NewOn(dev, 3, batch, heads, queryLen, width)
	kernels.SplitAddBiasTransposeForScore(split, qkvOut, mha.w.QKVBias)

	q = split.Index(0)
	k = split.Index(1)
	v = split.Index(2)

	if cache == nil {
		return q, k, v
	}

	if !cache.SelfKeys.IsNull() {
		grown := tensor.NewOn(dev)
		kernels.Concat(cache.SelfKeys, k, 2, grown)
		k = grown
	}
	if !cache.SelfValues.IsNull() {
		grown := tensor.NewOn(dev)
		kernels.Concat(cache.SelfValues, v, 2, grown)
		v = grown
	}

	selfKeys := cache.ensure(&cache.SelfKeys, dev)
	selfValues := cache.ensure(&cache.SelfValues, dev)
	selfKeys.Reshape(batch, heads, k.Dim(2), width)
	selfValues.Reshape(batch, heads, v.Dim(2), width)
	tensor.Copy(k, selfKeys)
	tensor.Copy(v, selfValues)
	return q, k, v
}

func floatBits(f float32) uint32 {
	return math.Float32bits(f)
}

func shapeOf(t *tensor.Tensor) []int {
	if t.IsNull() {
		return nil
	}
	return t.Shape
}
