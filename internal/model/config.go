// Package model implements the OPT decoder-only transformer: configuration,
// weights, the forward pass, and the per-layer attention cache used for
// autoregressive decoding.
package model

import (
	"fmt"

	"github.com/truelegion47/alpa/internal/tensor"
)

// Config is the frozen model description. Field names follow the OPT
// checkpoint convention.
type Config struct {
	DecoderLayers         int
	MaxTargetPositions    int
	DecoderEmbedDim       int
	DecoderAttentionHeads int
	DecoderInputDim       int
	DecoderFFNEmbedDim    int

	// Pad is the padding token id. Learned positions are offset by it, so
	// the first real token sits at position Pad+1.
	Pad int

	ActivationFn string
	FP16         bool

	NoScaleEmbedding             bool
	DecoderLearnedPos            bool
	DecoderNormalizeBefore       bool
	ShareDecoderInputOutputEmbed bool

	// Version selects checkpoint-era behavior; versions above 2 carry a
	// final decoder layer norm.
	Version int

	VocabSize    int
	LayerNormEps float32

	// NumPipelineStages partitions layers into contiguous stages when > 0.
	NumPipelineStages int
}

// DefaultConfig mirrors the 125M-class defaults.
func DefaultConfig() Config {
	return Config{
		DecoderLayers:                12,
		MaxTargetPositions:           2048,
		DecoderEmbedDim:              768,
		DecoderAttentionHeads:        12,
		DecoderInputDim:              768,
		DecoderFFNEmbedDim:           3072,
		Pad:                          1,
		ActivationFn:                 "relu",
		FP16:                         true,
		NoScaleEmbedding:             true,
		DecoderLearnedPos:            true,
		DecoderNormalizeBefore:       true,
		ShareDecoderInputOutputEmbed: true,
		Version:                      1,
		VocabSize:                    50272,
		LayerNormEps:                 1e-5,
	}
}

// PresetConfig returns the configuration for a named OPT size.
func PresetConfig(name string) (Config, error) {
	cfg := DefaultConfig()
	switch name {
	case "125M":
		// defaults
	case "30B":
		cfg.DecoderLayers = 48
		cfg.DecoderEmbedDim = 7168
		cfg.DecoderAttentionHeads = 56
		cfg.DecoderInputDim = 7168
		cfg.DecoderFFNEmbedDim = 28672
		cfg.Version = 3
	case "175B":
		cfg.DecoderLayers = 96
		cfg.DecoderEmbedDim = 12288
		cfg.DecoderAttentionHeads = 96
		cfg.DecoderInputDim = 12288
		cfg.DecoderFFNEmbedDim = 49152
		cfg.Version = 3
	default:
		return Config{}, fmt.Errorf("model: unknown size %q", name)
	}
	return cfg, nil
}

// HeadDim returns the per-head dimension.
func (c Config) HeadDim() int {
	return c.DecoderEmbedDim / c.DecoderAttentionHeads
}

// EmbedScale is the multiplier applied to word embeddings.
func (c Config) EmbedScale() float32 {
	if c.NoScaleEmbedding {
		return 1.0
	}
	return sqrt32(float32(c.DecoderEmbedDim))
}

// WeightDType is the element type checkpoints must carry for this config.
func (c Config) WeightDType() tensor.DType {
	if c.FP16 {
		return tensor.F16
	}
	return tensor.F32
}

// Validate checks structural constraints before a model is built.
func (c Config) Validate() error {
	if c.DecoderLayers <= 0 {
		return fmt.Errorf("model: decoder layers must be positive, got %d", c.DecoderLayers)
	}
	if c.MaxTargetPositions <= 0 {
		return fmt.Errorf("model: max target positions must be positive, got %d", c.MaxTargetPositions)
	}
	if c.VocabSize <= 0 {
		return fmt.Errorf("model: vocab size must be positive, got %d", c.VocabSize)
	}
	if c.DecoderAttentionHeads <= 0 {
		return fmt.Errorf("model: attention heads must be positive, got %d", c.DecoderAttentionHeads)
	}
	if c.DecoderEmbedDim <= 0 {
		return fmt.Errorf("model: embed dim must be positive, got %d", c.DecoderEmbedDim)
	}
	if c.DecoderInputDim <= 0 {
		return fmt.Errorf("model: input dim must be positive, got %d", c.DecoderInputDim)
	}
	if c.DecoderFFNEmbedDim <= 0 {
		return fmt.Errorf("model: ffn embed dim must be positive, got %d", c.DecoderFFNEmbedDim)
	}
	if c.Pad < 0 {
		return fmt.Errorf("model: pad token id must not be negative, got %d", c.Pad)
	}
	if c.DecoderEmbedDim%c.DecoderAttentionHeads != 0 {
		return fmt.Errorf("model: embed dim %d must be a multiple of attention heads %d",
			c.DecoderEmbedDim, c.DecoderAttentionHeads)
	}
	if !c.DecoderLearnedPos {
		return fmt.Errorf("model: only learned position embeddings are supported")
	}
	if !c.DecoderNormalizeBefore {
		return fmt.Errorf("model: only pre-norm decoders are supported")
	}
	if c.LayerNormEps <= 0 {
		return fmt.Errorf("model: layer norm epsilon must be positive, got %g", c.LayerNormEps)
	}
	if _, err := activation(c.ActivationFn); err != nil {
		return err
	}
	if c.NumPipelineStages > 0 {
		if _, err := PlanStages(c.DecoderLayers, c.NumPipelineStages); err != nil {
			return err
		}
	}
	return nil
}

// activation resolves an activation name from the checkpoint config.
func activation(name string) (func(float32) float32, error) {
	switch name {
	case "relu":
		return tensor.Relu, nil
	case "gelu":
		return tensor.Gelu, nil
	case "gelu_new":
		return tensor.GeluTanh, nil
	case "silu", "swish":
		return tensor.Silu, nil
	default:
		return nil, fmt.Errorf("model: unknown activation %q", name)
	}
}
