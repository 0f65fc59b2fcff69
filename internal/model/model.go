package model

import (
	"math"
	"math/rand"

	"github.com/truelegion47/alpa/internal/tensor"
)

// LayerNormParams holds the gain and bias of one layer norm.
type LayerNormParams struct {
	Gain []float32
	Bias []float32
}

// Layer holds the weights of one decoder layer. The QKV projection is a
// single combined matrix whose rows interleave the query, value, and key
// projections per hidden unit: row 3j+0 produces q_j, 3j+1 v_j, 3j+2 k_j.
type Layer struct {
	AttnNorm    LayerNormParams
	QKVCombined *tensor.Mat // [3*embedDim, embedDim]
	QKVBias     []float32   // [3*embedDim], same interleaving
	OutProj     *tensor.Mat // [embedDim, embedDim]
	OutProjBias []float32

	FFNNorm LayerNormParams
	FC1     *tensor.Mat // [ffnDim, embedDim]
	FC1Bias []float32
	FC2     *tensor.Mat // [embedDim, ffnDim]
	FC2Bias []float32
}

// Model is an OPT decoder with its weights resident in memory.
type Model struct {
	Config Config

	WordEmbed *tensor.Mat // [vocab, inputDim]
	PosEmbed  *tensor.Mat // [maxPositions+pad+1, embedDim]

	// Input/output projections exist only when the input dim differs from
	// the embed dim (the 350M-class shape).
	ProjectIn      *tensor.Mat // [embedDim, inputDim]
	ProjectInBias  []float32
	ProjectOut     *tensor.Mat // [inputDim, embedDim]
	ProjectOutBias []float32

	Layers []Layer

	// FinalNorm is present for config versions above 2.
	FinalNorm *LayerNormParams

	// OutputEmbed is the untied LM head; nil when the input embedding is
	// shared as the output projection.
	OutputEmbed *tensor.Mat // [vocab, inputDim]

	act        func(float32) float32
	embedScale float32
}

// NewModel allocates a model with zeroed f32 weights for the configuration.
func NewModel(cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	act, err := activation(cfg.ActivationFn)
	if err != nil {
		return nil, err
	}

	embed := cfg.DecoderEmbedDim
	input := cfg.DecoderInputDim
	ffn := cfg.DecoderFFNEmbedDim

	m := &Model{
		Config:     cfg,
		WordEmbed:  tensor.NewMat(cfg.VocabSize, input),
		PosEmbed:   tensor.NewMat(cfg.MaxTargetPositions+cfg.Pad+1, embed),
		Layers:     make([]Layer, cfg.DecoderLayers),
		act:        act,
		embedScale: cfg.EmbedScale(),
	}
	if input != embed {
		m.ProjectIn = tensor.NewMat(embed, input)
		m.ProjectInBias = make([]float32, embed)
		m.ProjectOut = tensor.NewMat(input, embed)
		m.ProjectOutBias = make([]float32, input)
	}
	for i := range m.Layers {
		m.Layers[i] = Layer{
			AttnNorm:    newLayerNorm(embed),
			QKVCombined: tensor.NewMat(3*embed, embed),
			QKVBias:     make([]float32, 3*embed),
			OutProj:     tensor.NewMat(embed, embed),
			OutProjBias: make([]float32, embed),
			FFNNorm:     newLayerNorm(embed),
			FC1:         tensor.NewMat(ffn, embed),
			FC1Bias:     make([]float32, ffn),
			FC2:         tensor.NewMat(embed, ffn),
			FC2Bias:     make([]float32, embed),
		}
	}
	if cfg.Version > 2 {
		ln := newLayerNorm(embed)
		m.FinalNorm = &ln
	}
	if !cfg.ShareDecoderInputOutputEmbed {
		m.OutputEmbed = tensor.NewMat(cfg.VocabSize, input)
	}
	return m, nil
}

func newLayerNorm(dim int) LayerNormParams {
	gain := make([]float32, dim)
	for i := range gain {
		gain[i] = 1
	}
	return LayerNormParams{Gain: gain, Bias: make([]float32, dim)}
}

// Randomize fills every weight with small reproducible values. Used for
// dummy-weight mode and tests; the output is meaningless but well-shaped.
func (m *Model) Randomize(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	fill := func(xs []float32) {
		for i := range xs {
			xs[i] = (rng.Float32() - 0.5) * 0.2
		}
	}
	fill(m.WordEmbed.Data)
	fill(m.PosEmbed.Data)
	if m.ProjectIn != nil {
		fill(m.ProjectIn.Data)
		fill(m.ProjectInBias)
		fill(m.ProjectOut.Data)
		fill(m.ProjectOutBias)
	}
	for i := range m.Layers {
		l := &m.Layers[i]
		fill(l.AttnNorm.Gain)
		fill(l.AttnNorm.Bias)
		fill(l.QKVCombined.Data)
		fill(l.QKVBias)
		fill(l.OutProj.Data)
		fill(l.OutProjBias)
		fill(l.FFNNorm.Gain)
		fill(l.FFNNorm.Bias)
		fill(l.FC1.Data)
		fill(l.FC1Bias)
		fill(l.FC2.Data)
		fill(l.FC2Bias)
	}
	if m.FinalNorm != nil {
		fill(m.FinalNorm.Gain)
		fill(m.FinalNorm.Bias)
	}
	if m.OutputEmbed != nil {
		fill(m.OutputEmbed.Data)
	}
}

func sqrt32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}
