// Package tokenizer abstracts text-to-token conversion for the generation
// loop and the serving layer.
package tokenizer

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
	Close() error
}
