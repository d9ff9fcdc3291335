package provider

import (
	"io"
	"log/slog"

	"github.com/example/go-tiktoken/internal/config"
	"github.com/example/go-tiktoken/internal/encoding"
	"github.com/example/go-tiktoken/internal/loader"
)

// FromConfig builds a Provider from the loaded configuration. A vocab path
// binds the configured encoding to that file; a pattern without one overrides
// the registered pattern of the configured encoding. progress receives
// download progress and may be nil.
func FromConfig(cfg config.Config, progress io.Writer, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []Option{
		WithBackend(cfg.Tokenizer.Backend),
		WithLibPath(cfg.Paths.LibPath),
		WithCacheSize(cfg.Tokenizer.CacheSize),
		WithLoader(&loader.Loader{CacheDir: cfg.Paths.CacheDir, Stdout: progress}),
		WithLogger(logger),
	}

	switch {
	case cfg.Paths.VocabPath != "":
		opts = append(opts, WithVocabFile(cfg.Tokenizer.Encoding, cfg.Paths.VocabPath, cfg.Tokenizer.Pattern))
	case cfg.Tokenizer.Pattern != "":
		opts = append(opts, WithLookup(patternOverride(cfg.Tokenizer.Encoding, cfg.Tokenizer.Pattern)))
	}

	return New(opts...)
}

func patternOverride(name, pattern string) func(string) (encoding.Encoding, error) {
	return func(n string) (encoding.Encoding, error) {
		enc, err := encoding.Lookup(n)
		if err != nil {
			return enc, err
		}
		if n == name {
			enc.Pattern = pattern
		}
		return enc, nil
	}
}
