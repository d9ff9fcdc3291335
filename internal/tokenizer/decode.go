package tokenizer

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/example/go-tiktoken/internal/vocab"
)

var (
	// ErrUnknownToken is wrapped by UnknownTokenError.
	ErrUnknownToken = errors.New("token has no vocabulary entry")
	// ErrInvalidUTF8 is returned by Decode when the joined bytes are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("decoded bytes are not valid UTF-8")
)

// UnknownTokenError reports a token id absent from the vocabulary.
type UnknownTokenError struct {
	Index int
	Token vocab.Rank
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("%v: token %d at index %d", ErrUnknownToken, e.Token, e.Index)
}

func (e *UnknownTokenError) Unwrap() error { return ErrUnknownToken }

// DecodeBytes joins the byte sequences of tokens in order. It does not
// validate the result, so it can reassemble tokens that split a character.
func (b *BPE) DecodeBytes(tokens []vocab.Rank) ([]byte, error) {
	out := make([]byte, 0, len(tokens)*4)
	for i, tok := range tokens {
		piece, ok := b.vocab.Bytes(tok)
		if !ok {
			return nil, &UnknownTokenError{Index: i, Token: tok}
		}
		out = append(out, piece...)
	}
	return out, nil
}

// Decode is DecodeBytes followed by UTF-8 validation.
func (b *BPE) Decode(tokens []vocab.Rank) (string, error) {
	raw, err := b.DecodeBytes(tokens)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", ErrInvalidUTF8
	}
	return string(raw), nil
}
