package tiktoken

import (
	"strings"
	"testing"
)

func newOrSkip(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := New("cl100k_base")
	if err != nil {
		t.Skipf("encoding unavailable (offline?): %v", err)
	}
	return tok
}

func TestTruncate(t *testing.T) {
	tok := newOrSkip(t)
	text := strings.Repeat("The spice must flow. ", 50)

	cut := tok.Truncate(text, 10)
	if got := tok.CountTokens(cut); got > 10 {
		t.Errorf("Expected at most 10 tokens, got %d", got)
	}
	if !strings.HasPrefix(text, cut) {
		t.Errorf("Expected a prefix of the input, got %q", cut)
	}
	if tok.Truncate("short", 10) != "short" {
		t.Error("Expected short text to pass through")
	}
}
