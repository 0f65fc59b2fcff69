package inference

// Request describes one generation call. Zero-valued sampling fields are
// filled with defaults before use.
type Request struct {
	Prompt       string
	MaxNewTokens int
	Seed         int64

	Temperature   float32
	TopK          int
	TopP          float32
	RepeatPenalty float32
	RepeatLastN   int

	// StopTokens end generation when sampled; the stop token itself is
	// not emitted.
	StopTokens []int

	// EchoPrompt includes the prompt tokens in the result.
	EchoPrompt bool
}

// Result is the completed output of a generation call.
type Result struct {
	Text   string
	Tokens []int
	Stats  Stats
}

func (r *Request) fill() {
	if r.MaxNewTokens <= 0 {
		r.MaxNewTokens = 128
	}
	if r.StopTokens == nil {
		r.StopTokens = []int{EOSToken}
	}
}

// RequestOptions carries optional overrides from the API or CLI layer; nil
// fields fall through to the request defaults.
type RequestOptions struct {
	Prompt       string
	MaxNewTokens *int
	Seed         *int64

	Temperature   *float32
	TopK          *int
	TopP          *float32
	RepeatPenalty *float32
	RepeatLastN   *int

	StopTokens []int
	EchoPrompt *bool
}

// ResolveRequest merges explicit options over the built-in defaults.
func ResolveRequest(opts RequestOptions) Request {
	req := Request{
		Prompt:        opts.Prompt,
		MaxNewTokens:  128,
		Seed:          -1,
		Temperature:   0.7,
		TopK:          40,
		TopP:          0.95,
		RepeatPenalty: 1.0,
		RepeatLastN:   64,
		StopTokens:    []int{EOSToken},
	}
	if opts.MaxNewTokens != nil && *opts.MaxNewTokens > 0 {
		req.MaxNewTokens = *opts.MaxNewTokens
	}
	if opts.Seed != nil {
		req.Seed = *opts.Seed
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.TopK != nil && *opts.TopK > 0 {
		req.TopK = *opts.TopK
	}
	if opts.TopP != nil && *opts.TopP > 0 && *opts.TopP <= 1 {
		req.TopP = *opts.TopP
	}
	if opts.RepeatPenalty != nil && *opts.RepeatPenalty > 0 {
		req.RepeatPenalty = *opts.RepeatPenalty
	}
	if opts.RepeatLastN != nil && *opts.RepeatLastN > 0 {
		req.RepeatLastN = *opts.RepeatLastN
	}
	if len(opts.StopTokens) > 0 {
		req.StopTokens = append([]int(nil), opts.StopTokens...)
	}
	if opts.EchoPrompt != nil {
		req.EchoPrompt = *opts.EchoPrompt
	}
	return req
}
