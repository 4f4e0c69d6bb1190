package tokenizer

// Tokenizer converts between text and sub-word ids.
type Tokenizer interface {
	// Encode converts text to token ids.
	Encode(text string) []int

	// Decode converts token ids back to text.
	Decode(ids []int) string

	// Name identifies the encoding.
	Name() string
}
