package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Server    ServerConfig    `mapstructure:"server"`
	LogLevel  string          `mapstructure:"log_level"`
}

type PathsConfig struct {
	// CacheDir holds downloaded vocabularies; empty means loader.DefaultCacheDir.
	CacheDir string `mapstructure:"cache_dir"`
	// LibPath is a libtiktoken file or a directory containing it.
	LibPath string `mapstructure:"lib_path"`
	// VocabPath, when set, replaces the registry vocabulary of the encoding.
	VocabPath string `mapstructure:"vocab_path"`
}

type TokenizerConfig struct {
	Encoding string `mapstructure:"encoding"`
	// Pattern overrides the encoding's split pattern; required with a custom VocabPath
	// whose encoding is not registered.
	Pattern   string `mapstructure:"pattern"`
	Backend   string `mapstructure:"backend"`
	CacheSize int    `mapstructure:"cache_size"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			CacheDir:  "",
			LibPath:   "",
			VocabPath: "",
		},
		Tokenizer: TokenizerConfig{
			Encoding:  "cl100k_base",
			Pattern:   "",
			Backend:   BackendNative,
			CacheSize: 4096,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         4,
			MaxTextBytes:    1 << 20,
			RequestTimeout:  30,
			ShutdownTimeout: 10,
		},
		LogLevel: "info",
	}
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"cache-dir":               "paths.cache_dir",
	"lib-path":                "paths.lib_path",
	"vocab":                   "paths.vocab_path",
	"encoding":                "tokenizer.encoding",
	"pattern":                 "tokenizer.pattern",
	"backend":                 "tokenizer.backend",
	"cache-size":              "tokenizer.cache_size",
	"server-listen-addr":      "server.listen_addr",
	"workers":                 "server.workers",
	"server-max-text-bytes":   "server.max_text_bytes",
	"server-request-timeout":  "server.request_timeout",
	"server-shutdown-timeout": "server.shutdown_timeout",
	"log-level":               "log_level",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("cache-dir", defaults.Paths.CacheDir, "Vocabulary cache directory (default $TIKTOKEN_CACHE_DIR or <tmp>/tiktoken)")
	fs.String("lib-path", defaults.Paths.LibPath, "Path to libtiktoken or the directory holding it")
	fs.String("vocab", defaults.Paths.VocabPath, "Local .tiktoken vocabulary file used instead of the registry download")
	fs.String("encoding", defaults.Tokenizer.Encoding, "Encoding name (r50k_base|p50k_base|p50k_edit|cl100k_base|o200k_base)")
	fs.String("pattern", defaults.Tokenizer.Pattern, "Split pattern override")
	fs.String("backend", defaults.Tokenizer.Backend, "Tokenizer backend (native|lib)")
	fs.Int("cache-size", defaults.Tokenizer.CacheSize, "Chunk cache entries per encoder (0 disables)")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent tokenize requests")
	fs.Int("server-max-text-bytes", defaults.Server.MaxTextBytes, "Max request text size in bytes")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request timeout in seconds")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

// Load merges, from lowest to highest precedence: defaults, the config file,
// TIKTOKEN_* environment variables, and flags set on the command line.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("TIKTOKEN")
	replacer := strings.NewReplacer("-", "_", ".", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("paths.cache_dir", "TIKTOKEN_PATHS_CACHE_DIR", "TIKTOKEN_CACHE_DIR"); err != nil {
		return Config{}, fmt.Errorf("bind cache dir env vars: %w", err)
	}
	if err := v.BindEnv("paths.lib_path", "TIKTOKEN_PATHS_LIB_PATH", "TIKTOKEN_LIB_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind lib path env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("tiktoken")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	backend, err := NormalizeBackend(cfg.Tokenizer.Backend)
	if err != nil {
		return Config{}, err
	}
	cfg.Tokenizer.Backend = backend

	return cfg, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.cache_dir", c.Paths.CacheDir)
	v.SetDefault("paths.lib_path", c.Paths.LibPath)
	v.SetDefault("paths.vocab_path", c.Paths.VocabPath)
	v.SetDefault("tokenizer.encoding", c.Tokenizer.Encoding)
	v.SetDefault("tokenizer.pattern", c.Tokenizer.Pattern)
	v.SetDefault("tokenizer.backend", c.Tokenizer.Backend)
	v.SetDefault("tokenizer.cache_size", c.Tokenizer.CacheSize)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("log_level", c.LogLevel)
}
