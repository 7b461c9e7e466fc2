package ingest

import (
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

var (
	encOnce sync.Once
	enc     tokenizer.Codec
)

// ApproxTokenCount counts cl100k_base tokens for a chunk's text. The count is
// stored on the manifest for budgeting only, so a rune/4 estimate is an
// acceptable fallback if the tokenizer cannot initialize.
func ApproxTokenCount(text string) int {
	if text == "" {
		return 0
	}
	encOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			enc = c
		}
	})
	if enc != nil {
		if ids, _, err := enc.Encode(text); err == nil {
			return len(ids)
		}
	}
	n := utf8.RuneCountInString(text)/4 + 1
	return n
}
