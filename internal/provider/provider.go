// Package provider hands out ready encoders by encoding or model name,
// loading each vocabulary at most once.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/example/go-tiktoken/internal/encoding"
	"github.com/example/go-tiktoken/internal/libclient"
	"github.com/example/go-tiktoken/internal/loader"
	"github.com/example/go-tiktoken/internal/tokenizer"
	"github.com/example/go-tiktoken/internal/vocab"
)

// Backend names accepted by WithBackend.
const (
	// BackendNative runs the engine in process.
	BackendNative = "native"
	// BackendLib calls libtiktoken through libclient.
	BackendLib = "lib"
)

// ErrUnknownBackend is returned by New for a backend other than native or lib.
var ErrUnknownBackend = errors.New("unknown backend")

// Encoder is a tokenizer that knows its encoding name.
type Encoder interface {
	tokenizer.Tokenizer
	Name() string
}

var (
	_ Encoder = (*tokenizer.BPE)(nil)
	_ Encoder = (*libclient.Encoder)(nil)
)

type options struct {
	backend   string
	libPath   string
	cacheSize int
	loader    *loader.Loader
	lookup    func(name string) (encoding.Encoding, error)
	files     []vocabFile
	logger    *slog.Logger
}

// Option configures a Provider.
type Option func(*options)

// WithBackend selects BackendNative (default) or BackendLib.
func WithBackend(b string) Option { return func(o *options) { o.backend = b } }

// WithLibPath sets the explicit shared library location for BackendLib.
func WithLibPath(p string) Option { return func(o *options) { o.libPath = p } }

// WithCacheSize sets the per-engine chunk cache of native encoders.
func WithCacheSize(n int) Option { return func(o *options) { o.cacheSize = n } }

// WithLoader sets the vocabulary loader.
func WithLoader(l *loader.Loader) Option { return func(o *options) { o.loader = l } }

// WithLookup replaces the encoding registry.
func WithLookup(fn func(name string) (encoding.Encoding, error)) Option {
	return func(o *options) { o.lookup = fn }
}

// WithVocabFile serves encoding name from a local vocabulary file instead of
// its registry download. An empty pattern keeps the registered one; a name
// missing from the registry needs a pattern.
func WithVocabFile(name, path, pattern string) Option {
	return func(o *options) { o.files = append(o.files, vocabFile{name: name, path: path, pattern: pattern}) }
}

type vocabFile struct {
	name    string
	path    string
	pattern string
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// Provider is safe for concurrent use. Concurrent first requests for one
// encoding share a single load.
type Provider struct {
	opts options

	mu       sync.Mutex
	encoders map[string]Encoder
	group    singleflight.Group
}

// New returns a Provider.
func New(optFns ...Option) (*Provider, error) {
	opts := options{
		backend: BackendNative,
		lookup:  encoding.Lookup,
		logger:  slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.backend != BackendNative && opts.backend != BackendLib {
		return nil, fmt.Errorf("%w %q (want %s or %s)", ErrUnknownBackend, opts.backend, BackendNative, BackendLib)
	}
	if opts.loader == nil {
		opts.loader = &loader.Loader{}
	}

	return &Provider{opts: opts, encoders: make(map[string]Encoder)}, nil
}

// resolve reports local as true when enc.URL is a local file to read in place.
func (p *Provider) resolve(name string) (enc encoding.Encoding, local bool, err error) {
	for _, f := range p.opts.files {
		if f.name != name {
			continue
		}
		enc, err := p.opts.lookup(name)
		if err != nil && f.pattern == "" {
			return encoding.Encoding{}, false, fmt.Errorf("%w: a split pattern is required for a custom vocabulary", err)
		}
		enc.Name = name
		enc.URL = f.path
		enc.SHA256 = ""
		if f.pattern != "" {
			enc.Pattern = f.pattern
		}
		return enc, true, nil
	}
	enc, err = p.opts.lookup(name)
	return enc, false, err
}

// Backend returns the configured backend.
func (p *Provider) Backend() string { return p.opts.backend }

// Get returns the encoder for a registered encoding name.
func (p *Provider) Get(ctx context.Context, name string) (Encoder, error) {
	enc, local, err := p.resolve(name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if e, ok := p.encoders[name]; ok {
		p.mu.Unlock()
		return e, nil
	}
	p.mu.Unlock()

	// The load is shared by every caller waiting on name, so it must not end
	// with the first caller's deadline. Each caller's ctx bounds only its wait.
	loadCtx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(name, func() (any, error) {
		e, err := p.load(loadCtx, enc, local)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.encoders[name] = e
		p.mu.Unlock()
		return e, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		p.opts.logger.Debug("encoder ready", slog.String("encoding", name), slog.Bool("shared", res.Shared))
		return res.Val.(Encoder), nil
	}
}

// ForModel returns the encoder used by a model name such as "gpt-4o".
func (p *Provider) ForModel(ctx context.Context, model string) (Encoder, error) {
	name, err := encoding.EncodingNameForModel(model)
	if err != nil {
		return nil, err
	}
	return p.Get(ctx, name)
}

func (p *Provider) load(ctx context.Context, enc encoding.Encoding, local bool) (Encoder, error) {
	log := p.opts.logger.With(slog.String("encoding", enc.Name), slog.String("backend", p.opts.backend))
	log.Info("loading encoder", slog.String("source", enc.URL), slog.Bool("local", local))

	switch p.opts.backend {
	case BackendLib:
		path := enc.URL
		if !local {
			var err error
			path, err = p.opts.loader.LoadFile(ctx, enc.URL, enc.SHA256)
			if err != nil {
				return nil, fmt.Errorf("load %s vocabulary: %w", enc.Name, err)
			}
		}

		lib, err := libclient.Open(p.opts.libPath)
		if err != nil {
			return nil, err
		}
		return lib.NewEncoder(enc.Name, enc.Pattern, path)
	default:
		var v *vocab.Vocabulary
		var err error
		if local {
			v, err = vocab.ParseFile(enc.URL)
		} else {
			v, err = p.opts.loader.Load(ctx, enc.URL, enc.SHA256)
		}
		if err != nil {
			return nil, fmt.Errorf("load %s vocabulary: %w", enc.Name, err)
		}

		return tokenizer.NewFromVocabulary(enc.Pattern, v,
			tokenizer.WithName(enc.Name),
			tokenizer.WithCacheSize(p.opts.cacheSize),
			tokenizer.WithLogger(log),
		)
	}
}

// Loaded returns the names of encoders loaded so far.
func (p *Provider) Loaded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.encoders))
	for name := range p.encoders {
		names = append(names, name)
	}
	return names
}

// Reset forgets loaded encoders without closing them, so encoders already
// handed out stay usable.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.encoders = make(map[string]Encoder)
}

// Close closes every loaded encoder. Encoders handed out must not be used
// afterwards.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, e := range p.encoders {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.encoders = make(map[string]Encoder)
	return errors.Join(errs...)
}
