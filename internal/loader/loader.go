// Package loader fetches vocabulary files into a local cache directory and
// verifies them against a pinned sha256.
package loader

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/example/go-tiktoken/internal/vocab"
)

// ChecksumError reports fetched or cached content that does not hash to the
// expected sha256.
type ChecksumError struct {
	URI      string
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s got %s", e.URI, e.Expected, e.Actual)
}

// FetchError reports a source that could not be read.
type FetchError struct {
	URI    string
	Status string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("fetch %s: %s", e.URI, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URI, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// DefaultCacheDir returns $TIKTOKEN_CACHE_DIR, or a tiktoken directory under
// the system temp dir when that is unset.
func DefaultCacheDir() string {
	if dir := os.Getenv("TIKTOKEN_CACHE_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "tiktoken")
}

// Loader caches vocabulary sources on disk. The zero value uses
// DefaultCacheDir and http.DefaultClient.
type Loader struct {
	CacheDir string
	Client   *http.Client
	// Stdout receives progress lines; nil discards them.
	Stdout io.Writer
}

func (l *Loader) cacheDir() string {
	if l.CacheDir != "" {
		return l.CacheDir
	}
	return DefaultCacheDir()
}

func (l *Loader) client() *http.Client {
	if l.Client != nil {
		return l.Client
	}
	return http.DefaultClient
}

func (l *Loader) stdout() io.Writer {
	if l.Stdout != nil {
		return l.Stdout
	}
	return io.Discard
}

// CachePath returns where uri is cached.
func (l *Loader) CachePath(uri string) string {
	sum := sha1.Sum([]byte(uri))
	return filepath.Join(l.cacheDir(), hex.EncodeToString(sum[:]))
}

// LoadFile makes sure uri is cached and returns the cache path. An empty
// checksum accepts any cached or fetched content.
func (l *Loader) LoadFile(ctx context.Context, uri, checksum string) (string, error) {
	if uri == "" {
		return "", fmt.Errorf("vocabulary uri is required")
	}
	expected := strings.ToLower(checksum)
	if expected != "" && !IsSHA256Hex(expected) {
		return "", fmt.Errorf("invalid sha256 checksum %q", checksum)
	}

	cachePath := l.CachePath(uri)
	if ok, err := existingMatches(cachePath, expected); err != nil {
		return "", err
	} else if ok {
		fmt.Fprintf(l.stdout(), "cached %s -> %s\n", uri, cachePath)
		return cachePath, nil
	}

	if err := os.MkdirAll(l.cacheDir(), 0o750); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	src, err := l.open(ctx, uri)
	if err != nil {
		return "", err
	}
	defer src.Close()

	fmt.Fprintf(l.stdout(), "download %s -> %s\n", uri, cachePath)
	tmp, actual, err := writeWithProgress(src, cachePath, l.stdout())
	if err != nil {
		return "", &FetchError{URI: uri, Err: err}
	}

	// only verified content is moved into the cache path
	if expected != "" && actual != expected {
		_ = os.Remove(tmp)
		return "", &ChecksumError{URI: uri, Expected: expected, Actual: actual}
	}
	if err := os.Rename(tmp, cachePath); err != nil {
		_ = os.Remove(tmp)
		return "", &FetchError{URI: uri, Err: fmt.Errorf("move temp file into place: %w", err)}
	}

	fmt.Fprintf(l.stdout(), "verified %s (sha256=%s)\n", uri, actual)
	return cachePath, nil
}

// Load is LoadFile followed by parsing the cached file.
func (l *Loader) Load(ctx context.Context, uri, checksum string) (*vocab.Vocabulary, error) {
	path, err := l.LoadFile(ctx, uri, checksum)
	if err != nil {
		return nil, err
	}
	return vocab.ParseFile(path)
}

// open returns a reader for http(s) URLs, file:// URLs and plain paths.
func (l *Loader) open(ctx context.Context, uri string) (io.ReadCloser, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// plain path, including Windows drive letters
		return openFile(uri)
	}

	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := l.client().Do(req)
		if err != nil {
			return nil, &FetchError{URI: uri, Err: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = resp.Body.Close()
			return nil, &FetchError{URI: uri, Status: resp.Status}
		}
		return resp.Body, nil
	case "file":
		return openFile(u.Path)
	default:
		return nil, &FetchError{URI: uri, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FetchError{URI: path, Err: err}
	}
	return f, nil
}

// writeWithProgress copies src into a temp file next to outPath and returns
// the temp file and the sha256 of its content. The caller renames it.
func writeWithProgress(src io.Reader, outPath string, stdout io.Writer) (tmp, digest string, err error) {
	fh, err := os.CreateTemp(filepath.Dir(outPath), filepath.Base(outPath)+".*.tmp")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	tmp = fh.Name()

	h := sha256.New()
	mw := io.MultiWriter(fh, h)

	var written int64
	buf := make([]byte, 64*1024)
	lastPrint := time.Now()
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := mw.Write(buf[:n])
			if writeErr != nil {
				_ = fh.Close()
				_ = os.Remove(tmp)
				return "", "", fmt.Errorf("write temp file: %w", writeErr)
			}
			written += int64(wn)
			if time.Since(lastPrint) > 700*time.Millisecond {
				fmt.Fprintf(stdout, "  progress: %d bytes\n", written)
				lastPrint = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = fh.Close()
			_ = os.Remove(tmp)
			return "", "", fmt.Errorf("read source: %w", readErr)
		}
	}

	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", "", fmt.Errorf("close temp file: %w", err)
	}

	return tmp, hex.EncodeToString(h.Sum(nil)), nil
}

func existingMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat cached file: %w", err)
	}
	if fi.IsDir() {
		return false, fmt.Errorf("expected file at %s, found directory", path)
	}
	if expected == "" {
		return true, nil
	}
	actual, err := FileSHA256(path)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

// IsSHA256Hex reports whether v looks like a hex sha256 digest.
func IsSHA256Hex(v string) bool {
	return shaHexPattern.MatchString(v)
}

// FileSHA256 returns the hex sha256 of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
