package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-tiktoken/internal/config"
	"github.com/example/go-tiktoken/internal/encoding"
	"github.com/example/go-tiktoken/internal/provider"
	"github.com/example/go-tiktoken/internal/vocab"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Source hands out encoders by encoding name. *provider.Provider implements it.
type Source interface {
	Get(ctx context.Context, name string) (provider.Encoder, error)
	Loaded() []string
}

var _ Source = (*provider.Provider)(nil)

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes    int
	workers         int
	requestTimeout  time.Duration
	defaultEncoding string
	logger          *slog.Logger
}

func defaultOptions() options {
	return options{
		maxTextBytes:    1 << 20,
		workers:         4,
		requestTimeout:  30 * time.Second,
		defaultEncoding: "cl100k_base",
		logger:          slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes limits the total text size of one request.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithWorkers sets the maximum number of requests tokenizing at once. It also
// bounds the parallelism of a single batch request.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-request deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithDefaultEncoding sets the encoding used when a request names none.
func WithDefaultEncoding(name string) Option {
	return func(o *options) { o.defaultEncoding = name }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	src  Source
	opts options
	sem  chan struct{}
	log  *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, /encodings and
// POST /encode, /decode and /count.
func NewHandler(src Source, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		src:  src,
		opts: opts,
		log:  opts.logger,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/encodings", h.handleEncodings)
	mux.HandleFunc("/encode", h.handleEncode)
	mux.HandleFunc("/decode", h.handleDecode)
	mux.HandleFunc("/count", h.handleCount)
	return withRequestLog(mux, opts.logger)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

type encodingInfo struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern,omitempty"`
	URL     string `json:"url,omitempty"`
	Loaded  bool   `json:"loaded"`
}

func (h *handler) handleEncodings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	loaded := make(map[string]bool)
	for _, name := range h.src.Loaded() {
		loaded[name] = true
	}

	out := make([]encodingInfo, 0, len(loaded))
	for _, name := range encoding.Names() {
		enc, _ := encoding.Lookup(name)
		out = append(out, encodingInfo{Name: name, Pattern: enc.Pattern, URL: enc.URL, Loaded: loaded[name]})
		delete(loaded, name)
	}

	// encodings served from local files are not registered
	var extra []string
	for name := range loaded {
		extra = append(extra, name)
	}
	sort.Strings(extra)
	for _, name := range extra {
		out = append(out, encodingInfo{Name: name, Loaded: true})
	}

	writeJSON(w, http.StatusOK, out)
}

type encodeRequest struct {
	Encoding string   `json:"encoding"`
	Text     string   `json:"text"`
	Texts    []string `json:"texts,omitempty"`
}

type encodeResponse struct {
	Encoding string       `json:"encoding"`
	Tokens   []vocab.Rank `json:"tokens"`
	Count    int          `json:"count"`
}

type batchResponse struct {
	Encoding string         `json:"encoding"`
	Batch    [][]vocab.Rank `json:"batch"`
	Count    int            `json:"count"`
}

func (h *handler) handleEncode(w http.ResponseWriter, r *http.Request) {
	var req encodeRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	size := len(req.Text)
	for _, t := range req.Texts {
		size += len(t)
	}
	if !h.checkSize(w, size) {
		return
	}

	h.serve(w, r, req.Encoding, size, func(ctx context.Context, enc provider.Encoder) (any, error) {
		if req.Texts == nil {
			tokens, err := enc.Encode(req.Text)
			if err != nil {
				return nil, err
			}
			if tokens == nil {
				tokens = []vocab.Rank{}
			}
			return encodeResponse{Encoding: enc.Name(), Tokens: tokens, Count: len(tokens)}, nil
		}

		batch, err := encodeBatch(ctx, enc, req.Texts, h.opts.workers)
		if err != nil {
			return nil, err
		}
		resp := batchResponse{Encoding: enc.Name(), Batch: batch}
		for _, tokens := range batch {
			resp.Count += len(tokens)
		}
		return resp, nil
	})
}

// encodeBatch encodes texts concurrently with at most workers goroutines.
// The result keeps the order of texts.
func encodeBatch(ctx context.Context, enc provider.Encoder, texts []string, workers int) ([][]vocab.Rank, error) {
	out := make([][]vocab.Rank, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for i, text := range texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tokens, err := enc.Encode(text)
			if err != nil {
				return fmt.Errorf("texts[%d]: %w", i, err)
			}
			if tokens == nil {
				tokens = []vocab.Rank{}
			}
			out[i] = tokens
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type decodeRequest struct {
	Encoding string       `json:"encoding"`
	Tokens   []vocab.Rank `json:"tokens"`
}

type decodeResponse struct {
	Encoding string `json:"encoding"`
	Text     string `json:"text"`
}

func (h *handler) handleDecode(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	if req.Tokens == nil {
		writeError(w, http.StatusBadRequest, "tokens field is required")
		return
	}

	h.serve(w, r, req.Encoding, len(req.Tokens), func(_ context.Context, enc provider.Encoder) (any, error) {
		text, err := enc.Decode(req.Tokens)
		if err != nil {
			return nil, err
		}
		return decodeResponse{Encoding: enc.Name(), Text: text}, nil
	})
}

type countResponse struct {
	Encoding string `json:"encoding"`
	Count    int    `json:"count"`
}

func (h *handler) handleCount(w http.ResponseWriter, r *http.Request) {
	var req encodeRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	if !h.checkSize(w, len(req.Text)) {
		return
	}

	h.serve(w, r, req.Encoding, len(req.Text), func(_ context.Context, enc provider.Encoder) (any, error) {
		tokens, err := enc.Encode(req.Text)
		if err != nil {
			return nil, err
		}
		return countResponse{Encoding: enc.Name(), Count: len(tokens)}, nil
	})
}

// decodeRequest enforces POST and reads a JSON body of bounded size into v.
// It writes the error response itself and reports whether to continue.
func (h *handler) decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}

	if r.Body == nil || r.Body == http.NoBody {
		writeError(w, http.StatusBadRequest, "request body is required")
		return false
	}

	// JSON escaping can grow text up to six times; leave room for the envelope.
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.opts.maxTextBytes)*6+4096)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (h *handler) checkSize(w http.ResponseWriter, n int) bool {
	if n > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return false
	}
	return true
}

type workFunc func(ctx context.Context, enc provider.Encoder) (any, error)

// serve acquires a worker slot, resolves the encoder and runs fn under the
// request deadline, mapping failures to status codes.
func (h *handler) serve(w http.ResponseWriter, r *http.Request, name string, size int, fn workFunc) {
	if name == "" {
		name = h.opts.defaultEncoding
	}

	// Acquire a worker slot, honouring cancellation while waiting.
	if h.sem != nil {
		select {
		case h.sem <- struct{}{}:
		case <-r.Context().Done():
			writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
			return
		}
		defer func() { <-h.sem }()
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	log := h.log.With(
		slog.String("request_id", RequestID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("encoding", name),
		slog.Int("input_len", size),
	)

	start := time.Now()
	result, err := runWithContext(ctx, func() (any, error) {
		enc, err := h.src.Get(ctx, name)
		if err != nil {
			return nil, &loadError{err: err}
		}
		return fn(ctx, enc)
	})
	durationMS := time.Since(start).Milliseconds()

	if err != nil {
		status, msg := classify(err)
		attrs := []any{slog.Int64("duration_ms", durationMS), slog.Int("status", status), slog.String("error", err.Error())}
		if status >= 500 {
			log.ErrorContext(r.Context(), "request failed", attrs...)
		} else {
			log.WarnContext(r.Context(), "request rejected", attrs...)
		}
		writeError(w, status, msg)
		return
	}

	log.DebugContext(r.Context(), "request complete", slog.Int64("duration_ms", durationMS))
	writeJSON(w, http.StatusOK, result)
}

// loadError marks a failure to obtain the encoder as opposed to a failure
// of the tokenizer itself.
type loadError struct{ err error }

func (e *loadError) Error() string { return e.err.Error() }
func (e *loadError) Unwrap() error { return e.err }

func classify(err error) (int, string) {
	var le *loadError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, encoding.ErrUnknownEncoding):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &le):
		return http.StatusInternalServerError, "load encoding: " + err.Error()
	default:
		return http.StatusUnprocessableEntity, err.Error()
	}
}

// runWithContext runs fn and returns early with ctx.Err() once ctx is done.
// fn keeps running in the background until it returns.
func runWithContext(ctx context.Context, fn func() (any, error)) (any, error) {
	type result struct {
		v   any
		err error
	}

	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server: wires handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	src             Source
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// New returns a Server. A nil src makes Start build a provider from cfg and
// close it on return.
func New(cfg config.Config, src Source) *Server {
	timeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Server{
		cfg:             cfg,
		src:             src,
		logger:          slog.Default(),
		shutdownTimeout: timeout,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// WithLogger sets the logger passed to the handler and provider.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

func (s *Server) Start(ctx context.Context) error {
	src := s.src
	if src == nil {
		p, err := provider.FromConfig(s.cfg, nil, s.logger)
		if err != nil {
			return fmt.Errorf("initialize provider: %w", err)
		}
		defer func() { _ = p.Close() }()

		// Warm the default encoding; on failure it loads on first request.
		if _, err := p.Get(ctx, s.cfg.Tokenizer.Encoding); err != nil {
			s.logger.Warn("preload encoding failed",
				slog.String("encoding", s.cfg.Tokenizer.Encoding),
				slog.String("error", err.Error()),
			)
		}
		src = p
	}

	h := NewHandler(src,
		WithWorkers(s.cfg.Server.Workers),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
		WithDefaultEncoding(s.cfg.Tokenizer.Encoding),
		WithLogger(s.logger),
	)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("server listening", slog.String("addr", s.cfg.Server.ListenAddr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}
