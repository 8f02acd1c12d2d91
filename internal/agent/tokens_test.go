package agent

import (
	"strings"
	"testing"
	"unicode/utf8"
)

// wordEncoding treats each space-separated word as one token.
type wordEncoding struct{}

func (wordEncoding) Encode(text string, _, _ []string) []int {
	words := strings.Fields(text)
	out := make([]int, len(words))
	for i := range words {
		out[i] = i
	}
	return out
}

func (wordEncoding) Decode(tokens []int) string {
	words := make([]string, len(tokens))
	for i := range tokens {
		words[i] = "mot"
	}
	return strings.Join(words, " ")
}

func TestTokenCapper(t *testing.T) {
	c := &TokenCapper{enc: wordEncoding{}, maxTokens: 3}

	if got := c.Cap("un deux trois"); got != "un deux trois" {
		t.Errorf("expected text within limit unchanged, got %q", got)
	}
	if got := c.Cap("un deux trois quatre"); got != "mot mot mot…" {
		t.Errorf("expected truncated text, got %q", got)
	}
}

func TestRuneCapper(t *testing.T) {
	c := RuneCapper(5)
	if got := c.Cap("éèàùç"); got != "éèàùç" {
		t.Errorf("expected unchanged, got %q", got)
	}
	got := c.Cap("éèàùçô")
	if got != "éèàùç…" || !utf8.ValidString(got) {
		t.Errorf("expected rune-safe truncation, got %q", got)
	}
	if got := RuneCapper(0).Cap("abc"); got != "abc" {
		t.Errorf("zero limit must disable the cap, got %q", got)
	}
}

func TestNewTokenCapper(t *testing.T) {
	c := NewTokenCapper(8)
	long := strings.Repeat("Je dors mal depuis des semaines. ", 200)
	got := c.Cap(long)
	if len(got) >= len(long) || !strings.HasSuffix(got, "…") {
		t.Errorf("expected long message to be capped, got %d bytes", len(got))
	}
	if !utf8.ValidString(got) {
		t.Errorf("capped text is not valid UTF-8")
	}
	if short := "Bonjour"; c.Cap(short) != short {
		t.Errorf("expected short message unchanged")
	}
}
