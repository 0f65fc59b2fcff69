package tokenizer

import (
	"fmt"

	"github.com/daulet/tokenizers"
)

// HF wraps a HuggingFace tokenizer.json via the native tokenizers binding.
// OPT checkpoints ship a GPT-2 byte-level BPE in this format.
type HF struct {
	tk *tokenizers.Tokenizer
}

// OpenHF loads a tokenizer.json file.
func OpenHF(path string) (*HF, error) {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %s: %w", path, err)
	}
	return &HF{tk: tk}, nil
}

func (h *HF) Encode(text string) ([]int, error) {
	ids, _ := h.tk.Encode(text, false)
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out, nil
}

func (h *HF) Decode(ids []int) (string, error) {
	u := make([]uint32, len(ids))
	for i, id := range ids {
		if id < 0 {
			return "", fmt.Errorf("tokenizer: negative token id %d", id)
		}
		u[i] = uint32(id)
	}
	return h.tk.Decode(u, true), nil
}

func (h *HF) Close() error {
	return h.tk.Close()
}
