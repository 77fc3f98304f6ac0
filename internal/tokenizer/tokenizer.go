// Package tokenizer turns text into model token ids and back.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is used when the model is unknown to tiktoken.
const DefaultEncoding = "cl100k_base"

// Tokenizer is the only thing the budget package needs from a vocabulary.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

var loaderOnce sync.Once

// Tiktoken wraps a tiktoken BPE encoding.
type Tiktoken struct {
	enc  *tiktoken.Tiktoken
	name string
}

// New resolves the encoding for model, falling back to encoding (or
// DefaultEncoding when empty). BPE ranks come from the embedded offline
// loader, so no network access is needed.
func New(model, encoding string) (*Tiktoken, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return &Tiktoken{enc: enc, name: model}, nil
		}
	}
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &Tiktoken{enc: enc, name: encoding}, nil
}

// Name is the model or encoding the tokenizer was resolved from.
func (t *Tiktoken) Name() string { return t.name }

func (t *Tiktoken) Encode(text string) []int {
	if text == "" {
		return nil
	}
	return t.enc.Encode(text, nil, nil)
}

func (t *Tiktoken) Decode(tokens []int) string {
	if len(tokens) == 0 {
		return ""
	}
	return t.enc.Decode(tokens)
}
