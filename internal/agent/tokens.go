package agent

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/weaviate/tiktoken-go"
)

const (
	// DefaultMaxMessageTokens bounds user content before it is stored or prompted.
	DefaultMaxMessageTokens = 512
	// DefaultMaxMessageRunes applies when no tokenizer is available.
	DefaultMaxMessageRunes = 2000
	// DefaultEncoding is the tokenizer used for the cap.
	DefaultEncoding = "cl100k_base"

	truncationSuffix = "…"
)

// Capper bounds the length of a message.
type Capper interface {
	Cap(text string) string
}

// encoding is the part of a tokenizer the cap needs.
type encoding interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

// TokenCapper truncates text to a number of tokens.
type TokenCapper struct {
	enc       encoding
	maxTokens int
}

// NewTokenCapper loads the cl100k_base tokenizer. If it cannot be loaded the
// returned Capper bounds by runes instead.
func NewTokenCapper(maxTokens int) Capper {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxMessageTokens
	}
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		slog.Warn("agent.NewTokenCapper: tokenizer unavailable, capping by runes", "error", err, "max_runes", DefaultMaxMessageRunes)
		return RuneCapper(DefaultMaxMessageRunes)
	}
	return &TokenCapper{enc: enc, maxTokens: maxTokens}
}

// Cap returns text unchanged when it fits, otherwise its first tokens plus an ellipsis.
func (c *TokenCapper) Cap(text string) string {
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= c.maxTokens {
		return text
	}
	head := c.enc.Decode(tokens[:c.maxTokens])
	// A token boundary can split a multi-byte character.
	head = strings.ToValidUTF8(head, "")
	return strings.TrimRight(head, " \t\n") + truncationSuffix
}

// RuneCapper truncates text to a number of runes.
type RuneCapper int

// Cap returns text unchanged when it fits, otherwise its first runes plus an ellipsis.
func (c RuneCapper) Cap(text string) string {
	limit := int(c)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimRight(string(runes[:limit]), " \t\n") + truncationSuffix
}
