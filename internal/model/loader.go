package model

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/truelegion47/alpa/internal/checkpoint"
	"github.com/truelegion47/alpa/internal/logger"
	"github.com/truelegion47/alpa/internal/tensor"
)

// LoadOptions controls checkpoint loading.
type LoadOptions struct {
	// Progress renders a per-layer progress bar on stderr.
	Progress bool
	// Log, when set, receives per-tensor debug records including content
	// digests.
	Log logger.Logger
}

// Load reads an OPT checkpoint through the store and remaps it into model
// weights. Every tensor is checked for exact shape and dtype agreement with
// the configuration before assignment; any mismatch aborts the load.
func Load(store checkpoint.Store, cfg Config, opts LoadOptions) (*Model, error) {
	m, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	if m.ProjectIn != nil {
		return nil, fmt.Errorf("model: checkpoints with a separate input projection are not supported")
	}
	if m.OutputEmbed != nil {
		return nil, fmt.Errorf("model: checkpoints with an untied output embedding are not supported")
	}

	ld := &loader{store: store, dtype: cfg.WeightDType(), log: opts.Log}

	embed := cfg.DecoderEmbedDim
	input := cfg.DecoderInputDim
	ffn := cfg.DecoderFFNEmbedDim

	m.WordEmbed, err = ld.mat("decoder.embed_tokens.weight", cfg.VocabSize, input)
	if err != nil {
		return nil, err
	}
	m.PosEmbed, err = ld.mat("decoder.embed_positions.weight", cfg.MaxTargetPositions+cfg.Pad+1, embed)
	if err != nil {
		return nil, err
	}
	if cfg.Version > 2 {
		if err := ld.norm(m.FinalNorm, "decoder.layer_norm", embed); err != nil {
			return nil, err
		}
	}

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.NewOptions(cfg.DecoderLayers,
			progressbar.OptionSetDescription("loading layers"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
	}
	for i := range m.Layers {
		layer := &m.Layers[i]
		prefix := fmt.Sprintf("decoder.layers.%d.", i)

		layer.QKVCombined, layer.QKVBias, err = ld.combinedQKV(prefix, embed)
		if err != nil {
			return nil, err
		}
		layer.OutProj, err = ld.mat(prefix+"self_attn.out_proj.weight", embed, embed)
		if err != nil {
			return nil, err
		}
		layer.OutProjBias, err = ld.vec(prefix+"self_attn.out_proj.bias", embed)
		if err != nil {
			return nil, err
		}
		if err := ld.norm(&layer.AttnNorm, prefix+"self_attn_layer_norm", embed); err != nil {
			return nil, err
		}

		layer.FC1, err = ld.mat(prefix+"fc1.weight", ffn, embed)
		if err != nil {
			return nil, err
		}
		layer.FC1Bias, err = ld.vec(prefix+"fc1.bias", ffn)
		if err != nil {
			return nil, err
		}
		layer.FC2, err = ld.mat(prefix+"fc2.weight", embed, ffn)
		if err != nil {
			return nil, err
		}
		layer.FC2Bias, err = ld.vec(prefix+"fc2.bias", embed)
		if err != nil {
			return nil, err
		}
		if err := ld.norm(&layer.FFNNorm, prefix+"final_layer_norm", embed); err != nil {
			return nil, err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	return m, nil
}

// LoadDummy builds a model with fabricated weights of the right shapes,
// bypassing the checkpoint entirely. Useful for data-independent benchmarks.
func LoadDummy(cfg Config, seed int64) (*Model, error) {
	m, err := NewModel(cfg)
	if err != nil {
		return nil, err
	}
	m.Randomize(seed)
	return m, nil
}

type loader struct {
	store checkpoint.Store
	dtype tensor.DType
	log   logger.Logger
}

func (ld *loader) read(name string, dims ...int) (*checkpoint.Array, error) {
	a, err := ld.store.Read(name)
	if err != nil {
		return nil, err
	}
	if a.DType != ld.dtype {
		return nil, fmt.Errorf("model: %s: checkpoint dtype %v does not match configured %v",
			name, a.DType, ld.dtype)
	}
	if !a.ShapeEquals(dims...) {
		return nil, fmt.Errorf("model: %s: checkpoint shape %v does not match expected %v",
			name, a.Shape, dims)
	}
	if ld.log != nil {
		ld.log.Debug("loaded tensor", "name", name, "shape", a.Shape, "digest", fmt.Sprintf("%016x", a.Digest()))
	}
	return a, nil
}

// mat reads a weight matrix stored in [out, in] layout, which is also the
// runtime layout, so no transposition is needed. fp16 checkpoints keep their
// raw encoding; f32 checkpoints are decoded.
func (ld *loader) mat(name string, r, c int) (*tensor.Mat, error) {
	a, err := ld.read(name, r, c)
	if err != nil {
		return nil, err
	}
	if ld.dtype == tensor.F16 {
		// The array may alias a mapping that goes away when the store
		// closes; keep an owned copy.
		raw := append([]byte(nil), a.Raw...)
		return tensor.NewMatFromRaw(r, c, tensor.F16, raw)
	}
	data, err := a.Float32s()
	if err != nil {
		return nil, err
	}
	return tensor.NewMatFromData(r, c, data)
}

func (ld *loader) vec(name string, n int) ([]float32, error) {
	a, err := ld.read(name, n)
	if err != nil {
		return nil, err
	}
	return a.Float32s()
}

func (ld *loader) norm(dst *LayerNormParams, prefix string, n int) error {
	gain, err := ld.vec(prefix+".weight", n)
	if err != nil {
		return err
	}
	bias, err := ld.vec(prefix+".bias", n)
	if err != nil {
		return err
	}
	dst.Gain = gain
	dst.Bias = bias
	return nil
}

// combinedQKV interleaves the separate q/k/v projections row-wise into the
// combined matrix the runtime uses: row 3j+0 is q row j, 3j+1 is v row j,
// 3j+2 is k row j. Biases interleave the same way.
func (ld *loader) combinedQKV(prefix string, embed int) (*tensor.Mat, []float32, error) {
	wq, err := ld.read(prefix+"self_attn.q_proj.weight", embed, embed)
	if err != nil {
		return nil, nil, err
	}
	wk, err := ld.read(prefix+"self_attn.k_proj.weight", embed, embed)
	if err != nil {
		return nil, nil, err
	}
	wv, err := ld.read(prefix+"self_attn.v_proj.weight", embed, embed)
	if err != nil {
		return nil, nil, err
	}

	var combined *tensor.Mat
	if ld.dtype == tensor.F16 {
		rowBytes := embed * 2
		raw := make([]byte, 3*embed*rowBytes)
		for j := 0; j < embed; j++ {
			copy(raw[(3*j+0)*rowBytes:], wq.Raw[j*rowBytes:(j+1)*rowBytes])
			copy(raw[(3*j+1)*rowBytes:], wv.Raw[j*rowBytes:(j+1)*rowBytes])
			copy(raw[(3*j+2)*rowBytes:], wk.Raw[j*rowBytes:(j+1)*rowBytes])
		}
		combined, err = tensor.NewMatFromRaw(3*embed, embed, tensor.F16, raw)
		if err != nil {
			return nil, nil, err
		}
	} else {
		q32, err := wq.Float32s()
		if err != nil {
			return nil, nil, err
		}
		k32, err := wk.Float32s()
		if err != nil {
			return nil, nil, err
		}
		v32, err := wv.Float32s()
		if err != nil {
			return nil, nil, err
		}
		data := make([]float32, 3*embed*embed)
		for j := 0; j < embed; j++ {
			copy(data[(3*j+0)*embed:], q32[j*embed:(j+1)*embed])
			copy(data[(3*j+1)*embed:], v32[j*embed:(j+1)*embed])
			copy(data[(3*j+2)*embed:], k32[j*embed:(j+1)*embed])
		}
		combined, err = tensor.NewMatFromData(3*embed, embed, data)
		if err != nil {
			return nil, nil, err
		}
	}

	bq, err := ld.vec(prefix+"self_attn.q_proj.bias", embed)
	if err != nil {
		return nil, nil, err
	}
	bk, err := ld.vec(prefix+"self_attn.k_proj.bias", embed)
	if err != nil {
		return nil, nil, err
	}
	bv, err := ld.vec(prefix+"self_attn.v_proj.bias", embed)
	if err != nil {
		return nil, nil, err
	}
	bias := make([]float32, 3*embed)
	for j := 0; j < embed; j++ {
		bias[3*j+0] = bq[j]
		bias[3*j+1] = bv[j]
		bias[3*j+2] = bk[j]
	}
	return combined, bias, nil
}
