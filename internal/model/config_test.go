package model

import (
	"testing"

	"github.com/truelegion47/alpa/internal/tensor"
)

func TestPresetConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		layers  int
		embed   int
		heads   int
		ffn     int
		version int
	}{
		{"125M", 12, 768, 12, 3072, 1},
		{"30B", 48, 7168, 56, 28672, 3},
		{"175B", 96, 12288, 96, 49152, 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := PresetConfig(tt.name)
			if err != nil {
				t.Fatalf("PresetConfig(%q): %v", tt.name, err)
			}
			if cfg.DecoderLayers != tt.layers {
				t.Errorf("layers = %d, want %d", cfg.DecoderLayers, tt.layers)
			}
			if cfg.DecoderEmbedDim != tt.embed {
				t.Errorf("embed dim = %d, want %d", cfg.DecoderEmbedDim, tt.embed)
			}
			if cfg.DecoderAttentionHeads != tt.heads {
				t.Errorf("heads = %d, want %d", cfg.DecoderAttentionHeads, tt.heads)
			}
			if cfg.DecoderFFNEmbedDim != tt.ffn {
				t.Errorf("ffn dim = %d, want %d", cfg.DecoderFFNEmbedDim, tt.ffn)
			}
			if cfg.Version != tt.version {
				t.Errorf("version = %d, want %d", cfg.Version, tt.version)
			}
			if cfg.VocabSize != 50272 {
				t.Errorf("vocab = %d, want 50272", cfg.VocabSize)
			}
			if cfg.MaxTargetPositions != 2048 {
				t.Errorf("max positions = %d, want 2048", cfg.MaxTargetPositions)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestPresetConfigUnknown(t *testing.T) {
	t.Parallel()
	if _, err := PresetConfig("6.7B"); err == nil {
		t.Fatal("unknown preset should fail")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	mutate := []struct {
		name string
		fn   func(*Config)
	}{
		{"zero layers", func(c *Config) { c.DecoderLayers = 0 }},
		{"zero positions", func(c *Config) { c.MaxTargetPositions = 0 }},
		{"zero vocab", func(c *Config) { c.VocabSize = 0 }},
		{"zero heads", func(c *Config) { c.DecoderAttentionHeads = 0 }},
		{"negative embed dim", func(c *Config) { c.DecoderEmbedDim = -768 }},
		{"zero input dim", func(c *Config) { c.DecoderInputDim = 0 }},
		{"negative ffn dim", func(c *Config) { c.DecoderFFNEmbedDim = -1 }},
		{"negative pad", func(c *Config) { c.Pad = -1 }},
		{"indivisible heads", func(c *Config) { c.DecoderAttentionHeads = 7 }},
		{"sinusoidal positions", func(c *Config) { c.DecoderLearnedPos = false }},
		{"post norm", func(c *Config) { c.DecoderNormalizeBefore = false }},
		{"zero eps", func(c *Config) { c.LayerNormEps = 0 }},
		{"bad activation", func(c *Config) { c.ActivationFn = "tanhx" }},
		{"indivisible stages", func(c *Config) { c.NumPipelineStages = 5 }},
	}
	for _, tt := range mutate {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.fn(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigDerived(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	if got := cfg.HeadDim(); got != 64 {
		t.Errorf("HeadDim = %d, want 64", got)
	}
	if got := cfg.EmbedScale(); got != 1 {
		t.Errorf("EmbedScale = %g, want 1", got)
	}
	cfg.NoScaleEmbedding = false
	if got, want := cfg.EmbedScale(), sqrt32(768); got != want {
		t.Errorf("EmbedScale = %g, want %g", got, want)
	}
	if got := cfg.WeightDType(); got != tensor.F16 {
		t.Errorf("WeightDType = %v, want F16", got)
	}
	cfg.FP16 = false
	if got := cfg.WeightDType(); got != tensor.F32 {
		t.Errorf("WeightDType = %v, want F32", got)
	}
}
