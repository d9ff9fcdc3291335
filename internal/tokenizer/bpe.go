package tokenizer

import (
	"fmt"
	"io"
	"log/slog"

	lru "github.com/hashicorp/golang-lru"

	"github.com/example/go-tiktoken/internal/bpe"
	"github.com/example/go-tiktoken/internal/splitter"
	"github.com/example/go-tiktoken/internal/vocab"
)

type options struct {
	name      string
	cacheSize int
	logger    *slog.Logger
}

func defaultOptions() options {
	return options{
		name:   "custom",
		logger: slog.Default(),
	}
}

// Option configures a BPE engine.
type Option func(*options)

// WithName sets the encoding name reported by Name and String.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithCacheSize keeps the encodings of up to n recently seen chunks.
// Zero disables the cache.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithLogger sets the logger used for construction diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// BPE is the Tokenizer implementation. Everything it holds is immutable after
// construction, so Encode and Decode may run concurrently.
type BPE struct {
	name   string
	vocab  *vocab.Vocabulary
	split  *splitter.Splitter
	cache  *lru.Cache
	logger *slog.Logger
}

var _ Tokenizer = (*BPE)(nil)

// New compiles pattern and parses the vocabulary read from r. Either both
// succeed or no engine is returned.
func New(pattern string, r io.Reader, optFns ...Option) (*BPE, error) {
	if pattern == "" {
		return nil, ErrEmptyPattern
	}
	if r == nil {
		return nil, ErrNilVocabulary
	}

	v, err := vocab.Parse(r)
	if err != nil {
		return nil, err
	}

	return NewFromVocabulary(pattern, v, optFns...)
}

// NewFromFile is New reading the vocabulary from path.
func NewFromFile(pattern, path string, optFns ...Option) (*BPE, error) {
	if pattern == "" {
		return nil, ErrEmptyPattern
	}

	v, err := vocab.ParseFile(path)
	if err != nil {
		return nil, err
	}

	return NewFromVocabulary(pattern, v, optFns...)
}

// NewFromVocabulary builds an engine around an already parsed vocabulary.
func NewFromVocabulary(pattern string, v *vocab.Vocabulary, optFns ...Option) (*BPE, error) {
	if v == nil {
		return nil, ErrNilVocabulary
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	split, err := splitter.Compile(pattern)
	if err != nil {
		return nil, err
	}

	b := &BPE{
		name:   opts.name,
		vocab:  v,
		split:  split,
		logger: opts.logger,
	}

	if opts.cacheSize > 0 {
		b.cache, err = lru.New(opts.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create chunk cache: %w", err)
		}
	}

	b.logger.Debug("tokenizer constructed",
		slog.String("encoding", b.name),
		slog.Int("vocab_size", v.Len()),
		slog.Int("cache_size", opts.cacheSize),
	)

	return b, nil
}

// Name returns the encoding name.
func (b *BPE) Name() string { return b.name }

// Vocabulary returns the vocabulary the engine merges against.
func (b *BPE) Vocabulary() *vocab.Vocabulary { return b.vocab }

// Pattern returns the split pattern.
func (b *BPE) Pattern() string { return b.split.Pattern() }

func (b *BPE) String() string {
	return fmt.Sprintf("BPE(name=%q, vocab=%d)", b.name, b.vocab.Len())
}

// Encode splits text and merges every chunk. Empty text yields an empty,
// non-nil slice.
func (b *BPE) Encode(text string) ([]vocab.Rank, error) {
	out := make([]vocab.Rank, 0, len(text)/3+1)
	for chunk, err := range b.split.Chunks(text) {
		if err != nil {
			return nil, err
		}

		tokens, err := b.encodeChunk(chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, tokens...)
	}
	return out, nil
}

// EncodeInChunks encodes text and groups the tokens of consecutive split
// chunks into batches of at most maxTokensPerChunk tokens. A split chunk is
// never divided, so one that alone exceeds the limit forms its own batch.
func (b *BPE) EncodeInChunks(text string, maxTokensPerChunk int) ([][]vocab.Rank, error) {
	if maxTokensPerChunk < 1 {
		return nil, ErrInvalidChunkSize
	}

	var batches [][]vocab.Rank
	var current []vocab.Rank
	for chunk, err := range b.split.Chunks(text) {
		if err != nil {
			return nil, err
		}

		tokens, err := b.encodeChunk(chunk)
		if err != nil {
			return nil, err
		}

		if len(current) > 0 && len(current)+len(tokens) > maxTokensPerChunk {
			batches = append(batches, current)
			current = nil
		}
		current = append(current, tokens...)
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}

// Count returns the number of tokens text encodes to.
func (b *BPE) Count(text string) (int, error) {
	n := 0
	for chunk, err := range b.split.Chunks(text) {
		if err != nil {
			return 0, err
		}

		tokens, err := b.encodeChunk(chunk)
		if err != nil {
			return 0, err
		}
		n += len(tokens)
	}
	return n, nil
}

// encodeChunk returns a slice the caller may append from but must not keep
// writing into, since it can be shared with the cache.
func (b *BPE) encodeChunk(chunk string) ([]vocab.Rank, error) {
	// A chunk that is itself an entry is one token even when merging could not
	// reach it. tiktoken does the same, and parity depends on it.
	if r, ok := b.vocab.RankString(chunk); ok {
		return []vocab.Rank{r}, nil
	}

	if b.cache != nil {
		if v, ok := b.cache.Get(chunk); ok {
			return v.([]vocab.Rank), nil
		}
	}

	tokens, err := bpe.Encode([]byte(chunk), b.vocab)
	if err != nil {
		return nil, fmt.Errorf("encode chunk %q: %w", chunk, err)
	}

	if b.cache != nil {
		b.cache.Add(chunk, tokens)
	}
	return tokens, nil
}

// Close releases the engine's tables.
func (b *BPE) Close() error {
	if b.cache != nil {
		b.cache.Purge()
	}
	b.cache = nil
	b.vocab = nil
	b.split = nil
	return nil
}
