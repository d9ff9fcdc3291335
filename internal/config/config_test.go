package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered at their defaults.
func newFlagBinder(defaults Config) *fakeBinder {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	return &fakeBinder{fs: fs}
}

// chdirTemp runs the test from an empty directory so no tiktoken.yaml in the
// package directory is picked up.
func chdirTemp(t *testing.T) {
	t.Helper()

	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	t.Cleanup(func() { os.Chdir(orig) }) //nolint:errcheck
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Tokenizer.Encoding != "cl100k_base" {
		t.Errorf("Tokenizer.Encoding = %q; want %q", cfg.Tokenizer.Encoding, "cl100k_base")
	}

	if cfg.Tokenizer.Backend != BackendNative {
		t.Errorf("Tokenizer.Backend = %q; want %q", cfg.Tokenizer.Backend, BackendNative)
	}

	if cfg.Tokenizer.CacheSize != 4096 {
		t.Errorf("Tokenizer.CacheSize = %d; want 4096", cfg.Tokenizer.CacheSize)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":8080")
	}

	if cfg.Server.Workers != 4 {
		t.Errorf("Server.Workers = %d; want 4", cfg.Server.Workers)
	}

	if cfg.Server.MaxTextBytes != 1<<20 {
		t.Errorf("Server.MaxTextBytes = %d; want %d", cfg.Server.MaxTextBytes, 1<<20)
	}

	if cfg.Server.RequestTimeout != 30 || cfg.Server.ShutdownTimeout != 10 {
		t.Errorf("timeouts = %d/%d; want 30/10", cfg.Server.RequestTimeout, cfg.Server.ShutdownTimeout)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}
}

// --- NormalizeBackend ---

func TestNormalizeBackend(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"native", "native", "native", false},
		{"lib", "lib", "lib", false},
		{"native uppercase", "NATIVE", "native", false},
		{"lib with spaces", "  lib  ", "lib", false},
		{"go alias", "go", "native", false},
		{"ffi alias", "ffi", "lib", false},
		{"empty defaults to native", "", "native", false},
		{"whitespace defaults to native", "   ", "native", false},
		{"invalid value", "cuda", "", true},
		{"invalid with spaces", "  bad  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBackend(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizeBackend(%q) = %q, nil; want error", tt.input, got)
				}

				return
			}

			if err != nil {
				t.Errorf("NormalizeBackend(%q) unexpected error: %v", tt.input, err)
				return
			}

			if got != tt.want {
				t.Errorf("NormalizeBackend(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	checks := []struct {
		flag string
		want string
	}{
		{"encoding", "cl100k_base"},
		{"backend", "native"},
		{"server-listen-addr", ":8080"},
		{"workers", "4"},
		{"cache-size", "4096"},
		{"log-level", "info"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}
}

func TestFlagKeys_AllRegistered(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())

	for name := range flagKeys {
		if fs.Lookup(name) == nil {
			t.Errorf("flagKeys names %q, which RegisterFlags does not define", name)
		}
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TIKTOKEN_CACHE_DIR", "")
	t.Setenv("TIKTOKEN_LIB_PATH", "")
	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(defaults),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg != defaults {
		t.Errorf("Load() = %+v; want defaults %+v", cfg, defaults)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	chdirTemp(t)
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	err := fs.Parse([]string{
		"--backend=lib",
		"--workers=8",
		"--encoding=o200k_base",
		"--log-level=debug",
	})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(LoadOptions{
		Cmd:      &fakeBinder{fs: fs},
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Tokenizer.Backend != "lib" {
		t.Errorf("Tokenizer.Backend = %q; want %q", cfg.Tokenizer.Backend, "lib")
	}

	if cfg.Server.Workers != 8 {
		t.Errorf("Server.Workers = %d; want 8", cfg.Server.Workers)
	}

	if cfg.Tokenizer.Encoding != "o200k_base" {
		t.Errorf("Tokenizer.Encoding = %q; want o200k_base", cfg.Tokenizer.Encoding)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TIKTOKEN_LOG_LEVEL", "warn")
	t.Setenv("TIKTOKEN_SERVER_LISTEN_ADDR", ":9999")
	t.Setenv("TIKTOKEN_TOKENIZER_ENCODING", "p50k_base")

	cfg, err := Load(LoadOptions{
		Defaults: DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":9999")
	}

	if cfg.Tokenizer.Encoding != "p50k_base" {
		t.Errorf("Tokenizer.Encoding = %q; want p50k_base", cfg.Tokenizer.Encoding)
	}
}

func TestLoad_ShortEnvNames(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TIKTOKEN_CACHE_DIR", "/var/cache/tiktoken")
	t.Setenv("TIKTOKEN_LIB_PATH", "/opt/lib")

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Paths.CacheDir != "/var/cache/tiktoken" {
		t.Errorf("Paths.CacheDir = %q", cfg.Paths.CacheDir)
	}

	if cfg.Paths.LibPath != "/opt/lib" {
		t.Errorf("Paths.LibPath = %q", cfg.Paths.LibPath)
	}
}

func TestLoad_FlagBeatsEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TIKTOKEN_TOKENIZER_ENCODING", "p50k_base")

	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)
	if err := fs.Parse([]string{"--encoding=r50k_base"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg, err := Load(LoadOptions{Cmd: &fakeBinder{fs: fs}, Defaults: defaults})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Tokenizer.Encoding != "r50k_base" {
		t.Errorf("Tokenizer.Encoding = %q; want r50k_base", cfg.Tokenizer.Encoding)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	chdirTemp(t)
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "tiktoken.yaml")

	content := `
log_level: error
tokenizer:
  encoding: o200k_base
  backend: lib
server:
  workers: 16
  listen_addr: ":7777"
`

	err := os.WriteFile(cfgFile, []byte(content), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:        newFlagBinder(defaults),
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "error")
	}

	if cfg.Server.Workers != 16 {
		t.Errorf("Server.Workers = %d; want 16", cfg.Server.Workers)
	}

	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":7777")
	}

	if cfg.Tokenizer.Encoding != "o200k_base" || cfg.Tokenizer.Backend != "lib" {
		t.Errorf("Tokenizer = %+v", cfg.Tokenizer)
	}
}

func TestLoad_ConfigFileInWorkingDir(t *testing.T) {
	chdirTemp(t)

	if err := os.WriteFile("tiktoken.yaml", []byte("tokenizer:\n  cache_size: 7\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Tokenizer.CacheSize != 7 {
		t.Errorf("Tokenizer.CacheSize = %d; want 7", cfg.Tokenizer.CacheSize)
	}
}

func TestLoad_InvalidBackend(t *testing.T) {
	chdirTemp(t)
	t.Setenv("TIKTOKEN_TOKENIZER_BACKEND", "cuda")

	if _, err := Load(LoadOptions{Defaults: DefaultConfig()}); err == nil {
		t.Error("Load() = nil; want error for invalid backend")
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")
	// Write invalid YAML
	err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/tiktoken.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}
