package inference

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/truelegion47/alpa/internal/logger"
	"github.com/truelegion47/alpa/internal/model"
)

// numericTokenizer maps space-separated integers to token ids, keeping the
// engine tests independent of any tokenizer asset.
type numericTokenizer struct{}

func (numericTokenizer) Encode(text string) ([]int, error) {
	fields := strings.Fields(text)
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (numericTokenizer) Decode(ids []int) (string, error) {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, " "), nil
}

func (numericTokenizer) Close() error { return nil }

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.DecoderLayers = 2
	cfg.MaxTargetPositions = 32
	cfg.DecoderEmbedDim = 8
	cfg.DecoderAttentionHeads = 2
	cfg.DecoderInputDim = 8
	cfg.DecoderFFNEmbedDim = 16
	cfg.VocabSize = 48
	cfg.Version = 3
	cfg.FP16 = false
	m, err := model.LoadDummy(cfg, 21)
	if err != nil {
		t.Fatalf("LoadDummy: %v", err)
	}
	return New(m, numericTokenizer{}, nil)
}

func TestGenerateProducesRequestedTokens(t *testing.T) {
	t.Parallel()
	e := testEngine(t)
	defer e.Close()

	var streamed []string
	res, err := e.Generate(context.Background(), Request{
		Prompt:       "5 9 12",
		MaxNewTokens: 4,
		StopTokens:   []int{-1}, // never sampled
	}, func(s string) { streamed = append(streamed, s) })
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Stats.PromptTokens != 3 {
		t.Errorf("prompt tokens = %d, want 3", res.Stats.PromptTokens)
	}
	if res.Stats.TokensGenerated != 4 {
		t.Errorf("generated = %d, want 4", res.Stats.TokensGenerated)
	}
	if len(res.Tokens) != 4 {
		t.Errorf("result tokens = %d, want 4", len(res.Tokens))
	}
	if len(streamed) != 4 {
		t.Errorf("streamed fragments = %d, want 4", len(streamed))
	}
	if res.Stats.Duration <= 0 {
		t.Error("duration not recorded")
	}
}

func TestGenerateIsDeterministicGreedy(t *testing.T) {
	t.Parallel()
	e := testEngine(t)
	defer e.Close()

	req := Request{Prompt: "5 9 12", MaxNewTokens: 6, StopTokens: []int{-1}}
	a, err := e.Generate(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	b, err := e.Generate(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if a.Text != b.Text {
		t.Fatalf("greedy runs diverged: %q vs %q", a.Text, b.Text)
	}
}

func TestGenerateEchoPrompt(t *testing.T) {
	t.Parallel()
	e := testEngine(t)
	defer e.Close()

	res, err := e.Generate(context.Background(), Request{
		Prompt:       "7 3",
		MaxNewTokens: 2,
		StopTokens:   []int{-1},
		EchoPrompt:   true,
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.Tokens) != 4 {
		t.Fatalf("echoed tokens = %d, want 4", len(res.Tokens))
	}
	if res.Tokens[0] != 7 || res.Tokens[1] != 3 {
		t.Fatalf("echo prefix = %v", res.Tokens[:2])
	}
}

func TestGenerateStopToken(t *testing.T) {
	t.Parallel()
	e := testEngine(t)
	defer e.Close()

	// Find the first greedy token, then rerun with it as the stop token.
	probe, err := e.Generate(context.Background(), Request{
		Prompt:       "5 9",
		MaxNewTokens: 1,
		StopTokens:   []int{-1},
	}, nil)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if len(probe.Tokens) != 1 {
		t.Fatalf("probe tokens = %v", probe.Tokens)
	}
	res, err := e.Generate(context.Background(), Request{
		Prompt:       "5 9",
		MaxNewTokens: 8,
		StopTokens:   []int{probe.Tokens[0]},
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.Tokens) != 0 {
		t.Fatalf("expected immediate stop, got tokens %v", res.Tokens)
	}
}

func TestGeneratePrefixReuse(t *testing.T) {
	t.Parallel()
	e := testEngine(t)
	defer e.Close()

	probe, err := e.Generate(context.Background(), Request{
		Prompt:       "5 9",
		MaxNewTokens: 1,
		StopTokens:   []int{-1},
	}, nil)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	full, err := e.Generate(context.Background(), Request{
		Prompt:       "5 9 12 4",
		MaxNewTokens: 3,
		StopTokens:   []int{-1},
	}, nil)
	if err != nil {
		t.Fatalf("cold: %v", err)
	}

	// Warm a second engine so its cache holds exactly the prompt prefix:
	// stopping on the probed greedy token leaves "5 9" resident with
	// nothing generated. Extending it must match the cold run.
	e2 := testEngine(t)
	defer e2.Close()
	warmup, err := e2.Generate(context.Background(), Request{
		Prompt:       "5 9",
		MaxNewTokens: 8,
		StopTokens:   []int{probe.Tokens[0]},
	}, nil)
	if err != nil {
		t.Fatalf("warm-up: %v", err)
	}
	if len(warmup.Tokens) != 0 {
		t.Fatalf("warm-up generated %v", warmup.Tokens)
	}
	warm, err := e2.Generate(context.Background(), Request{
		Prompt:       "5 9 12 4",
		MaxNewTokens: 3,
		StopTokens:   []int{-1},
	}, nil)
	if err != nil {
		t.Fatalf("warm: %v", err)
	}
	if full.Text != warm.Text {
		t.Fatalf("prefix reuse changed output: %q vs %q", full.Text, warm.Text)
	}
}

func TestGenerateCancellation(t *testing.T) {
	t.Parallel()
	e := testEngine(t)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Generate(ctx, Request{
		Prompt:       "5 9",
		MaxNewTokens: 8,
		StopTokens:   []int{-1},
	}, nil)
	if err == nil {
		t.Fatal("expected context error")
	}
	if res == nil {
		t.Fatal("partial result should still be returned")
	}
	if res.Stats.TokensGenerated != 0 {
		t.Fatalf("generated = %d, want 0", res.Stats.TokensGenerated)
	}
}

// recordLogger captures log messages for assertions.
type recordLogger struct {
	msgs []string
}

func (r *recordLogger) Debug(msg string, args ...any) { r.msgs = append(r.msgs, msg) }
func (r *recordLogger) Info(msg string, args ...any)  { r.msgs = append(r.msgs, msg) }
func (r *recordLogger) Warn(msg string, args ...any)  { r.msgs = append(r.msgs, msg) }
func (r *recordLogger) Error(msg string, args ...any) { r.msgs = append(r.msgs, msg) }
func (r *recordLogger) With(args ...any) logger.Logger { return r }

func TestGenerateLogsPhaseTimings(t *testing.T) {
	t.Parallel()
	e := testEngine(t)
	defer e.Close()
	rec := &recordLogger{}
	e.log = rec
	e.logTimings = true

	res, err := e.Generate(context.Background(), Request{
		Prompt:       "5 9",
		MaxNewTokens: 2,
		StopTokens:   []int{-1},
	}, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Stats.PrefillDuration <= 0 {
		t.Error("prefill duration not recorded")
	}
	if res.Stats.DecodeDuration <= 0 {
		t.Error("decode duration not recorded")
	}
	if !slices.Contains(rec.msgs, "phase timings") {
		t.Fatalf("phase timings not logged, got %v", rec.msgs)
	}
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	t.Parallel()
	e := testEngine(t)
	defer e.Close()
	if _, err := e.Generate(context.Background(), Request{Prompt: ""}, nil); err == nil {
		t.Fatal("empty prompt should fail")
	}
}

func TestResolveRequestDefaultsAndOverrides(t *testing.T) {
	t.Parallel()
	req := ResolveRequest(RequestOptions{Prompt: "hi"})
	if req.MaxNewTokens != 128 || req.TopK != 40 || req.TopP != 0.95 {
		t.Fatalf("unexpected defaults: %+v", req)
	}
	if len(req.StopTokens) != 1 || req.StopTokens[0] != EOSToken {
		t.Fatalf("stop tokens = %v", req.StopTokens)
	}

	steps := 7
	temp := float32(0.2)
	echo := true
	req = ResolveRequest(RequestOptions{
		Prompt:       "hi",
		MaxNewTokens: &steps,
		Temperature:  &temp,
		EchoPrompt:   &echo,
		StopTokens:   []int{5},
	})
	if req.MaxNewTokens != 7 || req.Temperature != 0.2 || !req.EchoPrompt {
		t.Fatalf("overrides not applied: %+v", req)
	}
	if len(req.StopTokens) != 1 || req.StopTokens[0] != 5 {
		t.Fatalf("stop tokens = %v", req.StopTokens)
	}
}
