// Package logits turns a logits vector into a token id: greedy argmax or
// temperature sampling with top-k and nucleus truncation.
package logits

import (
	"math"
	"math/rand"
)

// SamplerConfig configures a Sampler. Zero values select sensible defaults;
// a non-positive Temperature makes the sampler greedy.
type SamplerConfig struct {
	Seed          int64
	Temperature   float32
	TopK          int
	TopP          float32
	RepeatPenalty float32
	RepeatLastN   int
}

// Sampler draws token ids from logits vectors. It is not safe for concurrent
// use; each decoding stream owns its own sampler.
type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool

	topIdx []int
	topVal []float32
	prob   []float64
}

// NewSampler returns a sampler with the provided configuration, filling in
// defaults for unset fields.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Greedy reports whether the sampler always returns the argmax.
func (s *Sampler) Greedy() bool {
	return s.greedy && s.cfg.RepeatPenalty <= 1
}

// Sample draws one token id from logits. recent is the tail of previously
// emitted tokens, consulted for the repetition penalty; it may be nil. The
// logits slice is modified in place when a penalty applies.
func (s *Sampler) Sample(logits []float32, recent []int) int {
	if s.cfg.RepeatPenalty > 1 && len(recent) > 0 {
		s.penalize(logits, recent)
	}
	if s.greedy {
		return argmax(logits)
	}

	k := min(s.cfg.TopK, len(logits))
	idx, val := s.topK(logits, k, 1/s.cfg.Temperature)
	if len(val) == 0 {
		return 0
	}

	// Softmax over the shortlist; val is sorted descending so val[0] is
	// the stabilizing max.
	if cap(s.prob) < len(val) {
		s.prob = make([]float64, len(val))
	}
	prob := s.prob[:len(val)]
	var sum float64
	for i, v := range val {
		e := math.Exp(float64(v - val[0]))
		prob[i] = e
		sum += e
	}
	if sum == 0 {
		return idx[0]
	}
	for i := range prob {
		prob[i] /= sum
	}

	cut := len(prob)
	if s.cfg.TopP < 1 {
		var c float64
		for i, p := range prob {
			c += p
			if float32(c) >= s.cfg.TopP {
				cut = i + 1
				break
			}
		}
	}

	r := s.rng.Float64()
	var c float64
	for i := 0; i < cut; i++ {
		c += prob[i]
		if r <= c {
			return idx[i]
		}
	}
	return idx[cut-1]
}

// penalize dampens the logits of tokens seen in the recent window.
func (s *Sampler) penalize(logits []float32, recent []int) {
	start := max(len(recent)-s.cfg.RepeatLastN, 0)
	seen := make(map[int]struct{}, len(recent)-start)
	for _, id := range recent[start:] {
		if id < 0 || id >= len(logits) {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if logits[id] > 0 {
			logits[id] /= s.cfg.RepeatPenalty
		} else {
			logits[id] *= s.cfg.RepeatPenalty
		}
	}
}

func argmax(x []float32) int {
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}

// topK selects the k largest logits scaled by invTemp, ordered descending.
// Insertion into a short sorted prefix; O(V*k), fine for the k values used
// in practice.
func (s *Sampler) topK(logits []float32, k int, invTemp float32) ([]int, []float32) {
	if k <= 0 {
		return nil, nil
	}
	if cap(s.topIdx) < k+1 {
		s.topIdx = make([]int, 0, k+1)
		s.topVal = make([]float32, 0, k+1)
	}
	idx := s.topIdx[:0]
	val := s.topVal[:0]
	for i, l := range logits {
		v := l * invTemp
		pos := len(val)
		for pos > 0 && val[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}
		idx = append(idx, 0)
		val = append(val, 0)
		copy(idx[pos+1:], idx[pos:])
		copy(val[pos+1:], val[pos:])
		idx[pos] = i
		val[pos] = v
		if len(val) > k {
			idx = idx[:k]
			val = val[:k]
		}
	}
	s.topIdx = idx
	s.topVal = val
	return idx, val
}
