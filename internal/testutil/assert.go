package testutil

import (
	"testing"

	"github.com/example/go-tiktoken/internal/vocab"
)

// Codec is the part of a tokenizer the assertions need.
type Codec interface {
	Encode(text string) ([]vocab.Rank, error)
	Decode(tokens []vocab.Rank) (string, error)
}

// AssertRoundTrip checks that text encodes without error and decodes back to
// itself, and returns the tokens.
func AssertRoundTrip(tb testing.TB, c Codec, text string) []vocab.Rank {
	tb.Helper()

	tokens, err := c.Encode(text)
	if err != nil {
		tb.Fatalf("Encode(%q): %v", text, err)
	}

	got, err := c.Decode(tokens)
	if err != nil {
		tb.Fatalf("Decode(%v): %v", tokens, err)
	}

	if got != text {
		tb.Fatalf("round trip of %q gave %q (tokens %v)", text, got, tokens)
	}
	return tokens
}
