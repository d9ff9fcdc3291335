//go:build !(darwin || linux || freebsd)

package libclient

import "github.com/example/go-tiktoken/internal/vocab"

// Library is unavailable on this platform.
type Library struct{}

// Encoder is unavailable on this platform.
type Encoder struct{}

func Open(string) (*Library, error) { return nil, ErrUnsupported }

func (l *Library) Path() string { return "" }

func (l *Library) NewEncoder(string, string, string) (*Encoder, error) {
	return nil, ErrUnsupported
}

func (l *Library) NewEncoderFromMemory(string, string, []byte) (*Encoder, error) {
	return nil, ErrUnsupported
}

func (e *Encoder) Name() string { return "" }

func (e *Encoder) Encode(string) ([]vocab.Rank, error) { return nil, ErrUnsupported }

func (e *Encoder) Decode([]vocab.Rank) (string, error) { return "", ErrUnsupported }

func (e *Encoder) Close() error { return nil }
