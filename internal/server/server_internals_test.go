package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/go-tiktoken/internal/config"
	"github.com/example/go-tiktoken/internal/encoding"
	"github.com/example/go-tiktoken/internal/tokenizer"
)

// --- New & WithShutdownTimeout ---

func TestNew_ShutdownTimeoutFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	s := New(cfg, nil)
	if s == nil {
		t.Fatal("New() returned nil")
	}

	if s.shutdownTimeout != 10*time.Second {
		t.Errorf("shutdownTimeout = %v; want 10s", s.shutdownTimeout)
	}
}

func TestNew_DefaultShutdownTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.ShutdownTimeout = 0

	if s := New(cfg, nil); s.shutdownTimeout != 30*time.Second {
		t.Errorf("shutdownTimeout = %v; want 30s", s.shutdownTimeout)
	}
}

func TestWithShutdownTimeout(t *testing.T) {
	cfg := config.DefaultConfig()

	s := New(cfg, nil).WithShutdownTimeout(5 * time.Second)
	if s.shutdownTimeout != 5*time.Second {
		t.Errorf("shutdownTimeout = %v; want 5s", s.shutdownTimeout)
	}
}

func TestWithShutdownTimeout_Chaining(t *testing.T) {
	cfg := config.DefaultConfig()
	s := New(cfg, nil)
	returned := s.WithShutdownTimeout(10 * time.Second)
	// Must return the same *Server for chaining.
	if returned != s {
		t.Error("WithShutdownTimeout should return the same *Server")
	}
}

// --- classify ---

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"load deadline", &loadError{err: fmt.Errorf("fetch: %w", context.DeadlineExceeded)}, http.StatusGatewayTimeout},
		{"unknown encoding", &loadError{err: fmt.Errorf("%w: x", encoding.ErrUnknownEncoding)}, http.StatusBadRequest},
		{"load failure", &loadError{err: errors.New("disk full")}, http.StatusInternalServerError},
		{"unknown token", fmt.Errorf("decode: %w", tokenizer.ErrUnknownToken), http.StatusUnprocessableEntity},
		{"invalid utf8", tokenizer.ErrInvalidUTF8, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := classify(tt.err)
			if got != tt.want {
				t.Errorf("classify(%v) = %d; want %d", tt.err, got, tt.want)
			}
			if msg == "" {
				t.Error("want a non-empty message")
			}
		})
	}
}

// --- runWithContext ---

func TestRunWithContext_ReturnsResult(t *testing.T) {
	v, err := runWithContext(context.Background(), func() (any, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Errorf("runWithContext = %v, %v; want 42, nil", v, err)
	}
}

func TestRunWithContext_StopsAtDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	_, err := runWithContext(ctx, func() (any, error) {
		<-release
		return nil, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("runWithContext = %v; want DeadlineExceeded", err)
	}
}

// --- ProbeHTTP ---

func TestProbeHTTP_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	// ProbeHTTP uses "http://" prefix + addr, so strip the scheme.
	addr := srv.Listener.Addr().String()

	err := ProbeHTTP(addr)
	if err != nil {
		t.Errorf("ProbeHTTP(%q) = %v; want nil", addr, err)
	}
}

func TestProbeHTTP_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	addr := srv.Listener.Addr().String()

	err := ProbeHTTP(addr)
	if err == nil {
		t.Error("ProbeHTTP() = nil; want error for non-200 response")
	}
}

func TestProbeHTTP_ConnectionRefused(t *testing.T) {
	err := ProbeHTTP("127.0.0.1:1")
	if err == nil {
		t.Error("ProbeHTTP() = nil; want error for unreachable host")
	}
}

// --- Start: invalid backend config ---

func TestStart_InvalidBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Tokenizer.Backend = "bogus"
	s := New(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	err := s.Start(ctx)
	if err == nil {
		t.Error("Start() = nil; want error for invalid backend")
	}
}

// --- Functional options ---

func TestOptions_WithMaxTextBytes(t *testing.T) {
	opts := defaultOptions()
	WithMaxTextBytes(1024)(&opts)

	if opts.maxTextBytes != 1024 {
		t.Errorf("maxTextBytes = %d; want 1024", opts.maxTextBytes)
	}
}

func TestOptions_WithWorkers(t *testing.T) {
	opts := defaultOptions()
	WithWorkers(8)(&opts)

	if opts.workers != 8 {
		t.Errorf("workers = %d; want 8", opts.workers)
	}
}

func TestOptions_WithRequestTimeout(t *testing.T) {
	opts := defaultOptions()
	WithRequestTimeout(90 * time.Second)(&opts)

	if opts.requestTimeout != 90*time.Second {
		t.Errorf("requestTimeout = %v; want 90s", opts.requestTimeout)
	}
}

func TestOptions_WithDefaultEncoding(t *testing.T) {
	opts := defaultOptions()
	WithDefaultEncoding("o200k_base")(&opts)

	if opts.defaultEncoding != "o200k_base" {
		t.Errorf("defaultEncoding = %q; want o200k_base", opts.defaultEncoding)
	}
}
