// Package doctor provides environment preflight checks for tiktoken.
package doctor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/example/go-tiktoken/internal/encoding"
	"github.com/example/go-tiktoken/internal/libclient"
	"github.com/example/go-tiktoken/internal/loader"
	"github.com/example/go-tiktoken/internal/splitter"
	"github.com/example/go-tiktoken/internal/vocab"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// minGoMinor is the oldest Go 1.x able to build libtiktoken.
const minGoMinor = 23

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// CacheDir must be creatable and writable; empty means loader.DefaultCacheDir.
	CacheDir string
	// Encoding is checked against the registry unless VocabPath is set.
	Encoding string
	// VocabPath, when set, is parsed in full.
	VocabPath string
	// Pattern overrides the registered split pattern and must compile.
	Pattern string

	// CheckLibrary looks for the shared library at LibPath (lib backend).
	CheckLibrary bool
	LibPath      string

	// GoVersion returns the toolchain version (e.g. "go1.25.0").
	GoVersion VersionFunc
	// SkipGo skips the toolchain check (prebuilt or native backend).
	SkipGo bool
	// CCompilerVersion returns the first line of `cc --version`.
	CCompilerVersion VersionFunc
	// SkipCCompiler skips the C compiler check.
	SkipCCompiler bool
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- cache directory --------------------------------------------------
	dir := cfg.CacheDir
	if dir == "" {
		dir = loader.DefaultCacheDir()
	}
	if err := checkWritable(dir); err != nil {
		res.fail(fmt.Sprintf("cache dir %q: %v", dir, err))
		fmt.Fprintf(w, "%s cache dir %s: %v\n", FailMark, dir, err)
	} else {
		fmt.Fprintf(w, "%s cache dir: %s\n", PassMark, dir)
	}

	// ---- vocabulary -------------------------------------------------------
	pattern := cfg.Pattern
	if cfg.VocabPath != "" {
		v, err := vocab.ParseFile(cfg.VocabPath)
		if err != nil {
			res.fail(fmt.Sprintf("vocab file %q: %v", cfg.VocabPath, err))
			fmt.Fprintf(w, "%s vocab file %s: %v\n", FailMark, cfg.VocabPath, err)
		} else {
			fmt.Fprintf(w, "%s vocab file: %s (%d entries)\n", PassMark, cfg.VocabPath, v.Len())
			if missing := v.MissingBytes(); len(missing) > 0 {
				fmt.Fprintf(w, "  note: %d single bytes have no rank; text containing them cannot be encoded\n", len(missing))
			}
		}
	}

	enc, err := encoding.Lookup(cfg.Encoding)
	switch {
	case err == nil:
		if pattern == "" {
			pattern = enc.Pattern
		}
		if cfg.VocabPath == "" {
			l := loader.Loader{CacheDir: dir}
			state := "not cached"
			if _, statErr := os.Stat(l.CachePath(enc.URL)); statErr == nil {
				state = "cached"
			}
			fmt.Fprintf(w, "%s encoding: %s (%s)\n", PassMark, enc.Name, state)
		}
	case cfg.VocabPath == "":
		res.fail(fmt.Sprintf("encoding: %v", err))
		fmt.Fprintf(w, "%s encoding: %v\n", FailMark, err)
	}

	// ---- split pattern ----------------------------------------------------
	if pattern == "" {
		if cfg.VocabPath != "" {
			res.fail("split pattern: required for an unregistered encoding")
			fmt.Fprintf(w, "%s split pattern: missing\n", FailMark)
		}
	} else if _, err := splitter.Compile(pattern); err != nil {
		res.fail(fmt.Sprintf("split pattern: %v", err))
		fmt.Fprintf(w, "%s split pattern: %v\n", FailMark, err)
	} else {
		fmt.Fprintf(w, "%s split pattern: compiles\n", PassMark)
	}

	// ---- shared library ---------------------------------------------------
	if cfg.CheckLibrary {
		path, err := libclient.Find(cfg.LibPath)
		if err != nil {
			res.fail(fmt.Sprintf("shared library: %v", err))
			fmt.Fprintf(w, "%s shared library: %v\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s shared library: %s\n", PassMark, path)
		}
	} else {
		fmt.Fprintf(w, "%s shared library: skipped\n", PassMark)
	}

	// ---- Go toolchain -----------------------------------------------------
	if cfg.SkipGo {
		fmt.Fprintf(w, "%s go toolchain: skipped\n", PassMark)
	} else {
		ver, err := cfg.GoVersion()
		if err != nil {
			res.fail(fmt.Sprintf("go toolchain: %v", err))
			fmt.Fprintf(w, "%s go toolchain: not found (%v)\n", FailMark, err)
		} else if verErr := checkGoVersion(ver); verErr != nil {
			res.fail(fmt.Sprintf("go toolchain: %v", verErr))
			fmt.Fprintf(w, "%s go toolchain %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s go toolchain: %s\n", PassMark, ver)
		}
	}

	// ---- C compiler -------------------------------------------------------
	if cfg.SkipCCompiler {
		fmt.Fprintf(w, "%s c compiler: skipped\n", PassMark)
	} else {
		ver, err := cfg.CCompilerVersion()
		if err != nil {
			res.fail(fmt.Sprintf("c compiler: %v", err))
			fmt.Fprintf(w, "%s c compiler: not found (%v)\n", FailMark, err)
		} else {
			fmt.Fprintf(w, "%s c compiler: %s\n", PassMark, ver)
		}
	}

	return res
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

// checkGoVersion returns an error if ver is older than go1.23.
// ver is expected to be a string like "go1.25.0".
func checkGoVersion(ver string) error {
	major, minor, err := parseMajorMinor(strings.TrimPrefix(ver, "go"))
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires Go 1, got %d", major)
	}
	if minor < minGoMinor {
		return fmt.Errorf("requires Go >=1.%d, got 1.%d", minGoMinor, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	// pre-releases look like "1.26rc1"
	minorPart := parts[1]
	if i := strings.IndexFunc(minorPart, func(r rune) bool { return r < '0' || r > '9' }); i > 0 {
		minorPart = minorPart[:i]
	}
	minor, err = strconv.Atoi(minorPart)
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
