// Package tokenizer composes a vocabulary and a split pattern into a BPE
// engine that turns text into token ids and back.
//
// Text is split into chunks, every chunk is merged on its own, and the
// results are concatenated in order, so merges never cross a chunk boundary.
package tokenizer

import (
	"errors"

	"github.com/example/go-tiktoken/internal/splitter"
	"github.com/example/go-tiktoken/internal/vocab"
)

var (
	// ErrEmptyPath is returned when NewFromFile is called with an empty path.
	ErrEmptyPath = vocab.ErrEmptyPath
	// ErrEmptyPattern is returned when the split pattern is empty.
	ErrEmptyPattern = splitter.ErrEmptyPattern
	// ErrNilVocabulary is returned when no vocabulary source is given.
	ErrNilVocabulary = errors.New("vocabulary source is required")
	// ErrInvalidChunkSize is returned by EncodeInChunks for a limit below one.
	ErrInvalidChunkSize = errors.New("max tokens per chunk must be positive")
)

// Tokenizer encodes text into token ids and decodes them back.
//
// Returned slices and strings belong to the caller. Close releases the
// engine; using it afterwards is a caller bug and is not detected.
type Tokenizer interface {
	Encode(text string) ([]vocab.Rank, error)
	Decode(tokens []vocab.Rank) (string, error)
	Close() error
}
