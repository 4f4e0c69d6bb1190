package tokenizer

import (
	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the encoding used by the CLI.
const DefaultEncoding = "cl100k_base"

// TikToken wraps the pkoukk/tiktoken-go BPE encodings.
//
// Supported encodings:
//   - cl100k_base: GPT-4, GPT-3.5-turbo, text-embedding-ada-002
//   - p50k_base: GPT-3, Codex
//   - r50k_base: GPT-3, davinci-002, babbage-002
//
// Loading an encoding fetches its ranks file unless it is cached in
// TIKTOKEN_CACHE_DIR.
type TikToken struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// NewTikToken loads the named encoding.
func NewTikToken(encodingName string) (*TikToken, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, errors.Wrapf(err, "loading tiktoken encoding %q", encodingName)
	}
	return &TikToken{encoding: encoding, name: encodingName}, nil
}

// NewTikTokenForModel loads the encoding of an OpenAI model, e.g. "gpt-4".
func NewTikTokenForModel(modelName string) (*TikToken, error) {
	encoding, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		return nil, errors.Wrapf(err, "loading tiktoken encoding for model %q", modelName)
	}
	return &TikToken{encoding: encoding, name: modelName}, nil
}

// Encode implements Tokenizer. Special-token text is encoded as plain text.
func (t *TikToken) Encode(text string) []int {
	return t.encoding.Encode(text, nil, nil)
}

// Decode implements Tokenizer.
func (t *TikToken) Decode(ids []int) string {
	return t.encoding.Decode(ids)
}

// Name implements Tokenizer.
func (t *TikToken) Name() string { return t.name }
