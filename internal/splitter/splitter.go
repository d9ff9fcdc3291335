// Package splitter breaks text into the chunks a BPE engine encodes
// independently. Chunk boundaries come from a caller supplied pattern in the
// .NET/PCRE dialect understood by regexp2, which covers the lookahead used by
// the published tiktoken patterns.
package splitter

import (
	"errors"
	"fmt"
	"iter"

	"github.com/dlclark/regexp2"
)

// ErrEmptyPattern is returned when Compile is called with an empty pattern.
var ErrEmptyPattern = errors.New("split pattern must not be empty")

// CompileError reports a pattern that regexp2 rejected.
type CompileError struct {
	Pattern string
	Err     error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile split pattern %q: %v", e.Pattern, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Splitter yields chunks of text that concatenate back to exactly the input.
// It holds no per-call state and may be shared between goroutines.
type Splitter struct {
	pattern string
	re      *regexp2.Regexp
}

// Compile builds a Splitter for pattern.
func Compile(pattern string) (*Splitter, error) {
	if pattern == "" {
		return nil, ErrEmptyPattern
	}

	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, &CompileError{Pattern: pattern, Err: err}
	}

	return &Splitter{pattern: pattern, re: re}, nil
}

// Pattern returns the source pattern.
func (s *Splitter) Pattern() string { return s.pattern }

// Chunks lazily yields the chunks of text in order. Text between two matches
// that the pattern does not cover is yielded as a chunk of its own, so no
// byte is ever dropped. Empty matches yield nothing. A matcher failure is
// yielded once as a non-nil error and ends the sequence.
func (s *Splitter) Chunks(text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if text == "" {
			return
		}

		// regexp2 reports match positions in runes. offsets maps a rune index
		// to its byte offset so invalid UTF-8 bytes survive untouched.
		runes := make([]rune, 0, len(text))
		offsets := make([]int, 0, len(text)+1)
		for i, r := range text {
			runes = append(runes, r)
			offsets = append(offsets, i)
		}
		offsets = append(offsets, len(text))

		pos := 0
		m, err := s.re.FindRunesMatch(runes)
		for m != nil {
			start := offsets[m.Index]
			end := offsets[m.Index+m.Length]

			if start > pos {
				if !yield(text[pos:start], nil) {
					return
				}
				pos = start
			}
			if end > start {
				if !yield(text[start:end], nil) {
					return
				}
				pos = end
			}

			m, err = s.re.FindNextMatch(m)
		}

		if err != nil {
			yield("", fmt.Errorf("split text: %w", err))
			return
		}

		if pos < len(text) {
			yield(text[pos:], nil)
		}
	}
}

// Split collects Chunks into a slice.
func (s *Splitter) Split(text string) ([]string, error) {
	var out []string
	for chunk, err := range s.Chunks(text) {
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)
	}
	return out, nil
}
