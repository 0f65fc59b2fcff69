// Package inference drives autoregressive generation: prompt prefill through
// the attention cache, per-step sampling, and streaming of decoded text.
package inference

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/truelegion47/alpa/internal/config"
	"github.com/truelegion47/alpa/internal/logger"
	"github.com/truelegion47/alpa/internal/logits"
	"github.com/truelegion47/alpa/internal/metrics"
	"github.com/truelegion47/alpa/internal/model"
	"github.com/truelegion47/alpa/internal/tokenizer"
)

// EOSToken is the OPT end-of-sequence id.
const EOSToken = 2

// Stats summarizes one generation run.
type Stats struct {
	PromptTokens    int
	TokensGenerated int
	PrefillDuration time.Duration
	DecodeDuration  time.Duration
	Duration        time.Duration
	TPS             float64
}

// StreamFunc receives each decoded token fragment as it is produced.
type StreamFunc func(text string)

// Engine owns a model, its attention cache, and a tokenizer, and serializes
// generation requests over them. The cache carries the previous request's
// context; a request whose prompt extends it skips re-prefilling the shared
// prefix.
type Engine struct {
	mu    sync.Mutex
	model *model.Model
	tok   tokenizer.Tokenizer
	log   logger.Logger

	cache *model.Cache
	// seen holds the token ids resident in the cache, in order. nonPad
	// counts the non-pad entries, which is what learned positions advance
	// on.
	seen   []int
	nonPad int

	// logTimings mirrors ALPA_LOG_TIMINGS.
	logTimings bool
}

// New builds an engine around a loaded model.
func New(m *model.Model, tok tokenizer.Tokenizer, log logger.Logger) *Engine {
	e := &Engine{
		model: m,
		tok:   tok,
		log:   log,
		cache: model.NewCache(m.Config),
	}
	if g, err := config.Get(); err == nil {
		e.logTimings = g.LogTimings
	}
	return e
}

// Model exposes the engine's model configuration.
func (e *Engine) Model() *model.Model { return e.model }

// Close releases the tokenizer.
func (e *Engine) Close() error {
	if e.tok != nil {
		return e.tok.Close()
	}
	return nil
}

// Generate runs one request to completion, streaming decoded fragments if
// stream is non-nil. Generation stops at MaxNewTokens, a stop token, a full
// cache, or context cancellation; cancellation returns the tokens produced
// so far along with ctx.Err().
func (e *Engine) Generate(ctx context.Context, req Request, stream StreamFunc) (*Result, error) {
	req.fill()
	prompt, err := e.tok.Encode(req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("inference: encode prompt: %w", err)
	}
	if len(prompt) == 0 {
		return nil, fmt.Errorf("inference: empty prompt")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	stats := Stats{PromptTokens: len(prompt)}
	sampler := logits.NewSampler(logits.SamplerConfig{
		Seed:          req.Seed,
		Temperature:   req.Temperature,
		TopK:          req.TopK,
		TopP:          req.TopP,
		RepeatPenalty: req.RepeatPenalty,
		RepeatLastN:   req.RepeatLastN,
	})

	logitRows, err := e.prefill(prompt)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	stats.PrefillDuration = time.Since(start)
	decodeStart := time.Now()
	last := logitRows[len(logitRows)-1]

	pad := e.model.Config.Pad
	toks := append([]int(nil), e.seen...)
	var generated []int
	for len(generated) < req.MaxNewTokens {
		if err := ctx.Err(); err != nil {
			metrics.RequestsTotal.WithLabelValues("canceled").Inc()
			stats.DecodeDuration = time.Since(decodeStart)
			return e.result(req, prompt, generated, stats, start), err
		}
		next := sampler.Sample(last, toks)
		if slices.Contains(req.StopTokens, next) {
			break
		}
		toks = append(toks, next)
		generated = append(generated, next)
		if stream != nil {
			if s, err := e.tok.Decode([]int{next}); err == nil {
				stream(s)
			}
		}

		stepStart := time.Now()
		pos := model.NextPositions(e.nonPad, 1, pad)
		rows, err := e.model.ForwardStep([]int{next}, pos, e.cache)
		if err != nil {
			// Typically cache exhaustion; the tokens so far are
			// still valid output.
			if e.log != nil {
				e.log.Warn("decode stopped early", "err", err, "generated", len(generated))
			}
			break
		}
		e.seen = append(e.seen, next)
		e.nonPad++
		last = rows[0]
		stats.TokensGenerated++
		metrics.DecodeTokensTotal.Inc()
		metrics.StepDuration.Observe(time.Since(stepStart).Seconds())
	}
	metrics.RequestsTotal.WithLabelValues("ok").Inc()
	metrics.ContextLength.Observe(float64(e.cache.Len()))
	metrics.CacheOccupancy.Set(float64(e.cache.Len()))
	stats.DecodeDuration = time.Since(decodeStart)
	if e.logTimings && e.log != nil {
		e.log.Info("phase timings",
			"prefill", stats.PrefillDuration,
			"decode", stats.DecodeDuration,
		)
	}
	return e.result(req, prompt, generated, stats, start), nil
}

// prefill brings the cache in sync with the prompt, reusing any cached
// prefix, and returns the logits of the final prompt position.
func (e *Engine) prefill(prompt []int) ([][]float32, error) {
	reuse := 0
	if len(e.seen) <= len(prompt) {
		reuse = len(e.seen)
		for i := range e.seen {
			if e.seen[i] != prompt[i] {
				reuse = 0
				break
			}
		}
	}
	if reuse == 0 && e.cache.Len() > 0 {
		e.reset()
	}
	if reuse == len(prompt) {
		// Entire prompt already resident; rerun it so a fresh logits
		// row exists. Reset is cheaper than special-casing an empty
		// forward chunk.
		e.reset()
		reuse = 0
	}

	pad := e.model.Config.Pad
	chunk := prompt[reuse:]
	positions := model.BuildPositionIDs(prompt, pad)[reuse:]
	rows, err := e.model.ForwardStep(chunk, positions, e.cache)
	if err != nil {
		return nil, fmt.Errorf("inference: prefill: %w", err)
	}
	e.seen = append(e.seen, chunk...)
	for _, tok := range chunk {
		if tok != pad {
			e.nonPad++
		}
	}
	metrics.PrefillTokensTotal.Add(float64(len(chunk)))
	if e.log != nil {
		e.log.Debug("prefill complete", "prompt", len(prompt), "reused", reuse)
	}
	return rows, nil
}

func (e *Engine) reset() {
	e.cache.Reset()
	e.seen = e.seen[:0]
	e.nonPad = 0
}

func (e *Engine) result(req Request, prompt, generated []int, stats Stats, start time.Time) *Result {
	stats.Duration = time.Since(start)
	if secs := stats.Duration.Seconds(); secs > 0 {
		stats.TPS = float64(stats.TokensGenerated) / secs
	}
	out := generated
	if req.EchoPrompt {
		out = append(append([]int(nil), prompt...), generated...)
	}
	text, err := e.tok.Decode(out)
	if err != nil {
		text = ""
	}
	return &Result{Text: text, Tokens: out, Stats: stats}
}
