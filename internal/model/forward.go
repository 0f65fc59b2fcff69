package model

import (
	"fmt"

	"github.com/truelegion47/alpa/internal/tensor"
)

// Forward runs the full-sequence decoder with a causal mask and no cache,
// returning logits for every position. positions must be built for the same
// tokens (see BuildPositionIDs).
func (m *Model) Forward(tokens, positions []int) ([][]float32, error) {
	if err := m.checkInputs(tokens, positions); err != nil {
		return nil, err
	}
	T := len(tokens)
	width := m.Config.DecoderEmbedDim

	hidden := make([]float32, T*width)
	for t := range tokens {
		m.embed(hidden[t*width:(t+1)*width], tokens[t], positions[t])
	}

	q := make([]float32, T*width)
	k := make([]float32, T*width)
	v := make([]float32, T*width)
	for li := range m.Layers {
		layer := &m.Layers[li]
		m.projectQKV(layer, hidden, T, q, k, v)
		// Causal: query t sees keys 0..t.
		m.attend(layer, hidden, T, q, k, v, func(t int) int { return t + 1 })
		m.feedForward(layer, hidden, T)
	}
	return m.head(hidden, T), nil
}

// ForwardStep runs the decoder for new tokens appended after cache.Len()
// already-processed positions. New key/value vectors are written at the
// cursor before it advances; attention sees every cached position plus the
// new chunk, and positions at or beyond cursor+len(tokens) stay masked.
// Logits are returned for the new tokens only.
func (m *Model) ForwardStep(tokens, positions []int, cache *Cache) ([][]float32, error) {
	if cache == nil {
		return nil, fmt.Errorf("model: nil attention cache")
	}
	if len(cache.Layers) != len(m.Layers) {
		return nil, fmt.Errorf("model: cache has %d layers, model has %d", len(cache.Layers), len(m.Layers))
	}
	if cache.width != m.Config.DecoderEmbedDim {
		return nil, fmt.Errorf("model: cache width %d does not match embed dim %d",
			cache.width, m.Config.DecoderEmbedDim)
	}
	if err := m.checkInputs(tokens, positions); err != nil {
		return nil, err
	}
	n := len(tokens)
	if err := cache.advance(n); err != nil {
		return nil, err
	}
	base := cache.Len()
	limit := base + n
	width := m.Config.DecoderEmbedDim

	hidden := make([]float32, n*width)
	for t := range tokens {
		m.embed(hidden[t*width:(t+1)*width], tokens[t], positions[t])
	}

	q := make([]float32, n*width)
	k := make([]float32, n*width)
	v := make([]float32, n*width)
	for li := range m.Layers {
		layer := &m.Layers[li]
		lc := &cache.Layers[li]
		m.projectQKV(layer, hidden, n, q, k, v)
		for t := 0; t < n; t++ {
			lc.write(width, base+t, k[t*width:(t+1)*width], v[t*width:(t+1)*width])
		}
		lc.Cursor = limit
		m.attendCached(layer, hidden, n, q, lc, limit)
		m.feedForward(layer, hidden, n)
	}
	return m.head(hidden, n), nil
}

func (m *Model) checkInputs(tokens, positions []int) error {
	if len(tokens) == 0 {
		return fmt.Errorf("model: empty input")
	}
	if len(tokens) != len(positions) {
		return fmt.Errorf("model: %d tokens but %d positions", len(tokens), len(positions))
	}
	if len(tokens) > m.Config.MaxTargetPositions {
		return fmt.Errorf("model: sequence length %d exceeds max target positions %d",
			len(tokens), m.Config.MaxTargetPositions)
	}
	for i, tok := range tokens {
		if tok < 0 || tok >= m.Config.VocabSize {
			return fmt.Errorf("model: token id out of range at %d: %d", i, tok)
		}
	}
	maxPos := m.Config.MaxTargetPositions + m.Config.Pad + 1
	for i, pos := range positions {
		if pos < 0 || pos >= maxPos {
			return fmt.Errorf("model: position id out of range at %d: %d", i, pos)
		}
	}
	return nil
}

// embed writes the scaled word embedding plus learned position embedding.
func (m *Model) embed(dst []float32, tok, pos int) {
	input := m.Config.DecoderInputDim
	if m.ProjectIn == nil {
		m.WordEmbed.RowTo(dst, tok)
		if m.embedScale != 1 {
			tensor.Scale(dst, m.embedScale)
		}
	} else {
		e := make([]float32, input)
		m.WordEmbed.RowTo(e, tok)
		if m.embedScale != 1 {
			tensor.Scale(e, m.embedScale)
		}
		tensor.MatVec(dst, m.ProjectIn, e)
		tensor.Add(dst, m.ProjectInBias)
	}
	tensor.Add(dst, m.PosEmbed.Row(pos))
}

// projectQKV applies the pre-attention norm and the combined projection,
// de-interleaving the (q, v, k) triplets into separate buffers.
func (m *Model) projectQKV(layer *Layer, hidden []float32, n int, q, k, v []float32) {
	width := m.Config.DecoderEmbedDim
	tmp := make([]float32, width)
	qkv := make([]float32, 3*width)
	for t := 0; t < n; t++ {
		h := hidden[t*width : (t+1)*width]
		tensor.LayerNorm(tmp, h, layer.AttnNorm.Gain, layer.AttnNorm.Bias, m.Config.LayerNormEps)
		tensor.MatVec(qkv, layer.QKVCombined, tmp)
		tensor.Add(qkv, layer.QKVBias)
		for j := 0; j < width; j++ {
			q[t*width+j] = qkv[3*j]
			v[t*width+j] = qkv[3*j+1]
			k[t*width+j] = qkv[3*j+2]
		}
	}
}

// attend runs scaled dot-product attention over in-chunk keys. visible(t)
// returns the number of key positions query t may see.
func (m *Model) attend(layer *Layer, hidden []float32, n int, q, k, v []float32, visible func(int) int) {
	width := m.Config.DecoderEmbedDim
	heads := m.Config.DecoderAttentionHeads
	headDim := m.Config.HeadDim()
	scale := 1 / sqrt32(float32(headDim))

	attnOut := make([]float32, width)
	proj := make([]float32, width)
	scores := make([]float32, n)
	for t := 0; t < n; t++ {
		vis := visible(t)
		for h := 0; h < heads; h++ {
			qh := q[t*width+h*headDim : t*width+(h+1)*headDim]
			for s := 0; s < vis; s++ {
				kh := k[s*width+h*headDim : s*width+(h+1)*headDim]
				scores[s] = tensor.Dot(qh, kh) * scale
			}
			tensor.Softmax(scores[:vis])
			out := attnOut[h*headDim : (h+1)*headDim]
			for j := range out {
				out[j] = 0
			}
			for s := 0; s < vis; s++ {
				p := scores[s]
				vh := v[s*width+h*headDim : s*width+(h+1)*headDim]
				for j := range out {
					out[j] += p * vh[j]
				}
			}
		}
		tensor.MatVec(proj, layer.OutProj, attnOut)
		tensor.Add(proj, layer.OutProjBias)
		tensor.Add(hidden[t*width:(t+1)*width], proj)
	}
}

// attendCached attends every new query over the cache contents up to limit.
func (m *Model) attendCached(layer *Layer, hidden []float32, n int, q []float32, lc *LayerCache, limit int) {
	width := m.Config.DecoderEmbedDim
	heads := m.Config.DecoderAttentionHeads
	headDim := m.Config.HeadDim()
	scale := 1 / sqrt32(float32(headDim))

	attnOut := make([]float32, width)
	proj := make([]float32, width)
	scores := make([]float32, limit)
	for t := 0; t < n; t++ {
		for h := 0; h < heads; h++ {
			qh := q[t*width+h*headDim : t*width+(h+1)*headDim]
			for s := 0; s < limit; s++ {
				kh := lc.K[s*width+h*headDim : s*width+(h+1)*headDim]
				scores[s] = tensor.Dot(qh, kh) * scale
			}
			tensor.Softmax(scores[:limit])
			out := attnOut[h*headDim : (h+1)*headDim]
			for j := range out {
				out[j] = 0
			}
			for s := 0; s < limit; s++ {
				p := scores[s]
				vh := lc.V[s*width+h*headDim : s*width+(h+1)*headDim]
				for j := range out {
					out[j] += p * vh[j]
				}
			}
		}
		tensor.MatVec(proj, layer.OutProj, attnOut)
		tensor.Add(proj, layer.OutProjBias)
		tensor.Add(hidden[t*width:(t+1)*width], proj)
	}
}

// feedForward applies the pre-norm FFN block with residual.
func (m *Model) feedForward(layer *Layer, hidden []float32, n int) {
	width := m.Config.DecoderEmbedDim
	ffn := m.Config.DecoderFFNEmbedDim
	tmp := make([]float32, width)
	mid := make([]float32, ffn)
	out := make([]float32, width)
	for t := 0; t < n; t++ {
		h := hidden[t*width : (t+1)*width]
		tensor.LayerNorm(tmp, h, layer.FFNNorm.Gain, layer.FFNNorm.Bias, m.Config.LayerNormEps)
		tensor.MatVec(mid, layer.FC1, tmp)
		tensor.Add(mid, layer.FC1Bias)
		for i := range mid {
			mid[i] = m.act(mid[i])
		}
		tensor.MatVec(out, layer.FC2, mid)
		tensor.Add(out, layer.FC2Bias)
		tensor.Add(h, out)
	}
}

// head applies the optional final norm and output projection, then the
// (tied or untied) LM head, producing per-position logits.
func (m *Model) head(hidden []float32, n int) [][]float32 {
	width := m.Config.DecoderEmbedDim
	input := m.Config.DecoderInputDim

	logits := make([][]float32, n)
	normed := make([]float32, width)
	projected := make([]float32, input)
	for t := 0; t < n; t++ {
		h := hidden[t*width : (t+1)*width]
		if m.FinalNorm != nil {
			tensor.LayerNorm(normed, h, m.FinalNorm.Gain, m.FinalNorm.Bias, m.Config.LayerNormEps)
			h = normed
		}
		if m.ProjectOut != nil {
			tensor.MatVec(projected, m.ProjectOut, h)
			tensor.Add(projected, m.ProjectOutBias)
			h = projected
		}
		row := make([]float32, m.Config.VocabSize)
		if m.OutputEmbed != nil {
			tensor.MatVec(row, m.OutputEmbed, h)
		} else {
			tensor.MatVec(row, m.WordEmbed, h)
		}
		logits[t] = row
	}
	return logits
}
