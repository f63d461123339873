// attn-bench exercises the attention engine the way a decoding loop does:
// one context-attention call against a fixed encoder memory plus one
// self-attention call per generated position, with a shared layer cache.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"attention-go/attention"
	"attention-go/kernels"
	"attention-go/model"
	"attention-go/tensor"
)

func main() {
	hidden := flag.Int("hidden", 768, "hidden size")
	heads := flag.Int("heads", 12, "number of attention heads")
	layers := flag.Int("layers", 12, "number of attention layers")
	batch := flag.Int("batch", 1, "batch size")
	steps := flag.Int("steps", 128, "decode steps")
	memoryLen := flag.Int("memory-len", 64, "encoder memory length for context attention")
	backendName := flag.String("backend", "blas", "gemm backend (blas or naive)")
	weightsPath := flag.String("weights", "", "optional safetensors checkpoint")
	seed := flag.Int64("seed", 42, "seed for random weights and inputs")
	klog.InitFlags(nil)
	flag.Parse()

	backend, err := kernels.ParseBackend(*backendName)
	if err != nil {
		log.Fatal(err)
	}
	kernels.SetBackend(backend)

	cfg := model.NewConfig(*hidden, *heads, model.WithNumLayers(*layers))

	var layerWeights []attention.Weights
	if *weightsPath != "" {
		ckpt, err := model.LoadSafetensors(*weightsPath, cfg)
		if err != nil {
			log.Fatalf("loading %s: %v", *weightsPath, err)
		}
		layerWeights = ckpt.Layers
	} else {
		layerWeights = make([]attention.Weights, cfg.NumLayers)
		for i := range layerWeights {
			layerWeights[i] = model.RandomWeights(cfg, *seed+int64(i))
		}
	}

	engines := make([]*attention.MultiHeadedAttention, cfg.NumLayers)
	caches := make([]*attention.LayerCache, cfg.NumLayers)
	for i := range engines {
		engines[i] = attention.New(layerWeights[i], cfg.NumHeads)
		caches[i] = attention.NewLayerCache()
	}

	rng := rand.New(rand.NewSource(*seed))
	memory := randomTensor(rng, *batch, *memoryLen, cfg.HiddenSize)

	fmt.Printf("attn-bench: %d layers, hidden=%d heads=%d batch=%d backend=%s\n",
		cfg.NumLayers, cfg.HiddenSize, cfg.NumHeads, *batch, backend)

	// Panics out of the engine are caller errors (bad shapes, bad modes);
	// surface them as a clean exit instead of a stack trace.
	if exc := exceptions.Try(func() { run(cfg, engines, caches, memory, rng, *batch, *steps) }); exc != nil {
		log.Fatalf("forward pass failed: %v", exc)
	}
}

func run(cfg *model.Config, engines []*attention.MultiHeadedAttention, caches []*attention.LayerCache,
	memory *tensor.Tensor, rng *rand.Rand, batch, steps int) {
	selfParams := cfg.Params(attention.Self)
	ctxParams := cfg.Params(attention.Context)

	bar := progressbar.NewOptions(steps,
		progressbar.OptionSetDescription("Decoding"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowIts(),
	)

	start := time.Now()
	for step := 0; step < steps; step++ {
		x := randomTensor(rng, batch, 1, cfg.HiddenSize)
		for i, engine := range engines {
			selfOut := tensor.New()
			engine.Forward(x, x, x, nil, selfParams, selfOut, nil, caches[i])
			ctxOut := tensor.New()
			engine.Forward(memory, memory, selfOut, nil, ctxParams, ctxOut, nil, caches[i])
			x = ctxOut
		}
		bar.Add(1)
	}
	elapsed := time.Since(start)

	var cacheBytes uint64
	for _, c := range caches {
		for _, t := range []*tensor.Tensor{c.SelfKeys, c.SelfValues, c.MemoryKeys, c.MemoryValues} {
			cacheBytes += uint64(t.Size()) * 4
		}
	}

	fmt.Printf("\n%d steps in %v (%.1f steps/s), layer cache %s\n",
		steps, elapsed.Round(time.Millisecond),
		float64(steps)/elapsed.Seconds(), humanize.Bytes(cacheBytes))
}

func randomTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	t := tensor.New(shape...)
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64())
	}
	return t
}
