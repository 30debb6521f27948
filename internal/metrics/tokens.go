package metrics

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Encodings ship with the binary; nothing is downloaded at runtime.
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// TokenCounter counts cl100k_base tokens.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	mu       sync.Mutex
}

var (
	counterInstance *TokenCounter
	counterOnce     sync.Once
	counterErr      error
)

// GetTokenCounter returns the shared counter, loading the encoding once.
func GetTokenCounter() (*TokenCounter, error) {
	counterOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			counterErr = err
			return
		}
		counterInstance = &TokenCounter{encoding: enc}
	})
	if counterErr != nil {
		return nil, counterErr
	}
	return counterInstance, nil
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoding.Encode(text, nil, nil))
}

// CountTokens counts text with the shared counter, falling back to a
// four-characters-per-token estimate if the encoding cannot be loaded.
func CountTokens(text string) int {
	counter, err := GetTokenCounter()
	if err != nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return counter.Count(text)
}
