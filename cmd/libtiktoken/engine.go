package main

import (
	"bytes"
	"errors"
	"fmt"
	"runtime/cgo"
	"strings"

	"github.com/example/go-tiktoken/internal/tokenizer"
	"github.com/example/go-tiktoken/internal/vocab"
)

var (
	errPatternRequired = errors.New("The 'pat' argument is required")
	errPathRequired    = errors.New("The 'bpe_path' argument is required")
	errVocabRequired   = errors.New("The 'vocab' argument is required")
	errTextRequired    = errors.New("The 'text' argument is required")
	errTokensRequired  = errors.New("The 'tokens' argument is required")
	errInvalidHandle   = errors.New("invalid engine handle")
	errInteriorNUL     = errors.New("decoded text contains a NUL byte and cannot be returned as a C string")
)

// Engines cross the boundary as cgo handles. The handle keeps the engine
// reachable until destroy deletes it.

func openEngine(pattern, path string) (uintptr, error) {
	tok, err := tokenizer.NewFromFile(pattern, path, tokenizer.WithName(path))
	if err != nil {
		return 0, err
	}
	return uintptr(cgo.NewHandle(tok)), nil
}

func openEngineFromMemory(pattern string, src []byte) (uintptr, error) {
	tok, err := tokenizer.New(pattern, bytes.NewReader(src), tokenizer.WithName("memory"))
	if err != nil {
		return 0, err
	}
	return uintptr(cgo.NewHandle(tok)), nil
}

func engineFor(ref uintptr) (*tokenizer.BPE, error) {
	if ref == 0 {
		return nil, errInvalidHandle
	}
	tok, ok := cgo.Handle(ref).Value().(*tokenizer.BPE)
	if !ok {
		return nil, errInvalidHandle
	}
	return tok, nil
}

func releaseEngine(ref uintptr) {
	if ref == 0 {
		return
	}
	h := cgo.Handle(ref)
	if tok, ok := h.Value().(*tokenizer.BPE); ok {
		_ = tok.Close()
	}
	h.Delete()
}

func encodeText(ref uintptr, text string) ([]vocab.Rank, error) {
	tok, err := engineFor(ref)
	if err != nil {
		return nil, err
	}
	return tok.Encode(text)
}

func decodeTokens(ref uintptr, tokens []vocab.Rank) (string, error) {
	tok, err := engineFor(ref)
	if err != nil {
		return "", err
	}
	text, err := tok.Decode(tokens)
	if err != nil {
		return "", err
	}
	if i := strings.IndexByte(text, 0); i >= 0 {
		return "", fmt.Errorf("%w (offset %d)", errInteriorNUL, i)
	}
	return text, nil
}

// panicError turns a recovered value into an error for the error cell.
func panicError(op string, r any) error {
	return fmt.Errorf("%s: unexpected failure: %v", op, r)
}
