package model

import (
	"math"
	"testing"
)

func tinyConfig() Config {
	cfg := DefaultConfig()
	cfg.DecoderLayers = 2
	cfg.MaxTargetPositions = 16
	cfg.DecoderEmbedDim = 8
	cfg.DecoderAttentionHeads = 2
	cfg.DecoderInputDim = 8
	cfg.DecoderFFNEmbedDim = 16
	cfg.VocabSize = 32
	cfg.Version = 3
	cfg.ActivationFn = "gelu"
	cfg.FP16 = false
	return cfg
}

func tinyModel(t *testing.T, cfg Config) *Model {
	t.Helper()
	m, err := NewModel(cfg)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	m.Randomize(7)
	return m
}

func compareLogits(t *testing.T, got, want []float32, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("logit length mismatch: %d vs %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > tol {
			t.Fatalf("logit %d: got %g, want %g", i, got[i], want[i])
		}
	}
}

// The cached decode path must reproduce the no-cache forward pass exactly,
// token by token.
func TestCachedDecodeMatchesFullForward(t *testing.T) {
	t.Parallel()
	cfg := tinyConfig()
	m := tinyModel(t, cfg)

	tokens := []int{5, 9, 2, 30, 11, 3, 17, 8}
	positions := BuildPositionIDs(tokens, cfg.Pad)

	full, err := m.Forward(tokens, positions)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	cache := NewCache(cfg)
	for i := range tokens {
		step, err := m.ForwardStep(tokens[i:i+1], positions[i:i+1], cache)
		if err != nil {
			t.Fatalf("ForwardStep %d: %v", i, err)
		}
		compareLogits(t, step[0], full[i], 1e-4)
	}
	if cache.Len() != len(tokens) {
		t.Fatalf("cache cursor = %d, want %d", cache.Len(), len(tokens))
	}
}

// A multi-token cached prefill yields the same logits for the final chunk
// position as the full forward pass: the last position legitimately attends
// to the entire prefix.
func TestCachedPrefillLastPositionMatchesFullForward(t *testing.T) {
	t.Parallel()
	cfg := tinyConfig()
	m := tinyModel(t, cfg)

	tokens := []int{4, 21, 7, 13, 2}
	positions := BuildPositionIDs(tokens, cfg.Pad)

	full, err := m.Forward(tokens, positions)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	cache := NewCache(cfg)
	step, err := m.ForwardStep(tokens, positions, cache)
	if err != nil {
		t.Fatalf("ForwardStep: %v", err)
	}
	compareLogits(t, step[len(tokens)-1], full[len(tokens)-1], 1e-4)
	if cache.Len() != len(tokens) {
		t.Fatalf("cache cursor = %d, want %d", cache.Len(), len(tokens))
	}
}

// Decoding must continue correctly after a chunked prefill.
func TestPrefillThenDecode(t *testing.T) {
	t.Parallel()
	cfg := tinyConfig()
	m := tinyModel(t, cfg)

	tokens := []int{4, 21, 7, 13, 2, 28, 6}
	positions := BuildPositionIDs(tokens, cfg.Pad)
	full, err := m.Forward(tokens, positions)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	cache := NewCache(cfg)
	const split = 4
	if _, err := m.ForwardStep(tokens[:split], positions[:split], cache); err != nil {
		t.Fatalf("prefill: %v", err)
	}
	for i := split; i < len(tokens); i++ {
		step, err := m.ForwardStep(tokens[i:i+1], positions[i:i+1], cache)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		compareLogits(t, step[0], full[i], 1e-4)
	}
}

func TestForwardVersion1SkipsFinalNorm(t *testing.T) {
	t.Parallel()
	cfg := tinyConfig()
	cfg.Version = 1
	m := tinyModel(t, cfg)
	if m.FinalNorm != nil {
		t.Fatal("version 1 model should not carry a final layer norm")
	}
	positions := BuildPositionIDs([]int{3, 4}, cfg.Pad)
	if _, err := m.Forward([]int{3, 4}, positions); err != nil {
		t.Fatalf("Forward: %v", err)
	}
}

func TestForwardWithInputProjection(t *testing.T) {
	t.Parallel()
	cfg := tinyConfig()
	cfg.DecoderInputDim = 4 // differs from embed dim: project_in/out active
	m := tinyModel(t, cfg)
	if m.ProjectIn == nil || m.ProjectOut == nil {
		t.Fatal("expected input/output projections")
	}
	tokens := []int{1, 2, 3}
	positions := BuildPositionIDs(tokens, cfg.Pad)
	logits, err := m.Forward(tokens, positions)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(logits) != 3 || len(logits[0]) != cfg.VocabSize {
		t.Fatalf("logits shape = %dx%d, want 3x%d", len(logits), len(logits[0]), cfg.VocabSize)
	}
}

func TestForwardRejectsBadInputs(t *testing.T) {
	t.Parallel()
	cfg := tinyConfig()
	m := tinyModel(t, cfg)

	if _, err := m.Forward(nil, nil); err == nil {
		t.Error("empty input should fail")
	}
	if _, err := m.Forward([]int{1, 2}, []int{2}); err == nil {
		t.Error("length mismatch should fail")
	}
	if _, err := m.Forward([]int{cfg.VocabSize}, []int{2}); err == nil {
		t.Error("out-of-range token should fail")
	}
	if _, err := m.Forward([]int{1}, []int{cfg.MaxTargetPositions + cfg.Pad + 1}); err == nil {
		t.Error("out-of-range position should fail")
	}
}

func TestCacheOverflow(t *testing.T) {
	t.Parallel()
	cfg := tinyConfig()
	m := tinyModel(t, cfg)
	cache := NewCache(cfg)

	for i := 0; i < cfg.MaxTargetPositions; i++ {
		if _, err := m.ForwardStep([]int{1}, []int{cfg.Pad + i + 1}, cache); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if _, err := m.ForwardStep([]int{1}, []int{cfg.Pad}, cache); err == nil {
		t.Fatal("step past max target positions should fail")
	}

	cache.Reset()
	if cache.Len() != 0 {
		t.Fatalf("cursor after reset = %d", cache.Len())
	}
	if _, err := m.ForwardStep([]int{1}, []int{cfg.Pad + 1}, cache); err != nil {
		t.Fatalf("step after reset: %v", err)
	}
}

func TestForwardStepRejectsForeignCache(t *testing.T) {
	t.Parallel()
	cfg := tinyConfig()
	m := tinyModel(t, cfg)

	other := tinyConfig()
	other.DecoderLayers = 3
	cache := NewCache(other)
	if _, err := m.ForwardStep([]int{1}, []int{2}, cache); err == nil {
		t.Fatal("cache with wrong layer count should be rejected")
	}
	if _, err := m.ForwardStep([]int{1}, []int{2}, nil); err == nil {
		t.Fatal("nil cache should be rejected")
	}
}
