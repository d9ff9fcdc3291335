// Package encoding lists the published tiktoken encodings and the model names
// that use them.
package encoding

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrUnknownEncoding is returned by Lookup for a name not in the registry.
	ErrUnknownEncoding = errors.New("unknown encoding")
	// ErrUnknownModel is returned by ForModel when no table maps the model.
	ErrUnknownModel = errors.New("unknown model name")
)

// Encoding describes where a vocabulary lives and how text is split for it.
type Encoding struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	SHA256  string `json:"sha256"`
	Pattern string `json:"pattern"`
}

const (
	gpt2Pattern   = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`
	cl100kPattern = `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`
	o200kPattern  = `[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]*[\p{Ll}\p{Lm}\p{Lo}\p{M}]+(?i:'s|'t|'re|'ve|'m|'ll|'d)?` +
		`|[^\r\n\p{L}\p{N}]?[\p{Lu}\p{Lt}\p{Lm}\p{Lo}\p{M}]+[\p{Ll}\p{Lm}\p{Lo}\p{M}]*(?i:'s|'t|'re|'ve|'m|'ll|'d)?` +
		`|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n/]*|\s*[\r\n]+|\s+(?!\S)|\s+`

	baseURL = "https://openaipublic.blob.core.windows.net/encodings/"
)

var registry = map[string]Encoding{
	"r50k_base": {
		Name:    "r50k_base",
		URL:     baseURL + "r50k_base.tiktoken",
		SHA256:  "306cd27f03c1a714eca7108e03d66b7dc042abe8c258b44c199a7ed9838dd930",
		Pattern: gpt2Pattern,
	},
	"p50k_base": {
		Name:    "p50k_base",
		URL:     baseURL + "p50k_base.tiktoken",
		SHA256:  "94b5ca7dff4d00767bc256fdd1b27e5b17361d7b8a5f968547f9f23eb70d2069",
		Pattern: gpt2Pattern,
	},
	// p50k_edit shares the p50k_base vocabulary
	"p50k_edit": {
		Name:    "p50k_edit",
		URL:     baseURL + "p50k_base.tiktoken",
		SHA256:  "94b5ca7dff4d00767bc256fdd1b27e5b17361d7b8a5f968547f9f23eb70d2069",
		Pattern: gpt2Pattern,
	},
	"cl100k_base": {
		Name:    "cl100k_base",
		URL:     baseURL + "cl100k_base.tiktoken",
		SHA256:  "223921b76ee99bde995b7ff738513eef100fb51d18c93597a113bcffe865b2a7",
		Pattern: cl100kPattern,
	},
	"o200k_base": {
		Name:    "o200k_base",
		URL:     baseURL + "o200k_base.tiktoken",
		SHA256:  "446a9538cb6c348e3516120d7c08b09f57c36495e2acfffe59a5bf8b0cfb1a2d",
		Pattern: o200kPattern,
	},
}

var modelToEncoding = map[string]string{
	"o1":                           "o200k_base",
	"o3":                           "o200k_base",
	"o4-mini":                      "o200k_base",
	"gpt-4":                        "cl100k_base",
	"gpt-4.1":                      "o200k_base",
	"gpt-4o":                       "o200k_base",
	"gpt-3.5-turbo":                "cl100k_base",
	"gpt-3.5":                      "cl100k_base",
	"davinci-002":                  "cl100k_base",
	"babbage-002":                  "cl100k_base",
	"text-embedding-ada-002":       "cl100k_base",
	"text-embedding-3-small":       "cl100k_base",
	"text-embedding-3-large":       "cl100k_base",
	"text-davinci-003":             "p50k_base",
	"text-davinci-002":             "p50k_base",
	"text-davinci-001":             "r50k_base",
	"text-curie-001":               "r50k_base",
	"text-babbage-001":             "r50k_base",
	"text-ada-001":                 "r50k_base",
	"davinci":                      "r50k_base",
	"curie":                        "r50k_base",
	"babbage":                      "r50k_base",
	"ada":                          "r50k_base",
	"code-davinci-002":             "p50k_base",
	"code-davinci-001":             "p50k_base",
	"code-cushman-002":             "p50k_base",
	"code-cushman-001":             "p50k_base",
	"davinci-codex":                "p50k_base",
	"cushman-codex":                "p50k_base",
	"text-davinci-edit-001":        "p50k_edit",
	"code-davinci-edit-001":        "p50k_edit",
	"text-similarity-davinci-001":  "r50k_base",
	"text-similarity-curie-001":    "r50k_base",
	"text-similarity-babbage-001":  "r50k_base",
	"text-similarity-ada-001":      "r50k_base",
	"text-search-davinci-doc-001":  "r50k_base",
	"text-search-curie-doc-001":    "r50k_base",
	"text-search-babbage-doc-001":  "r50k_base",
	"text-search-ada-doc-001":      "r50k_base",
	"code-search-babbage-code-001": "r50k_base",
	"code-search-ada-code-001":     "r50k_base",
}

// Checked in order; the first matching prefix wins.
var modelPrefixToEncoding = []struct {
	prefix   string
	encoding string
}{
	{"o1-", "o200k_base"},
	{"o3-", "o200k_base"},
	{"o4-mini-", "o200k_base"},
	{"chatgpt-4o-", "o200k_base"},
	{"gpt-5-", "o200k_base"},
	{"gpt-4-", "cl100k_base"},
	{"gpt-4.1-", "o200k_base"},
	{"gpt-4.5-", "o200k_base"},
	{"gpt-4o-", "o200k_base"},
	{"gpt-3.5-turbo-", "cl100k_base"},
	{"gpt-oss-", "o200k_base"},
}

// Lookup returns the registered encoding called name.
func Lookup(name string) (Encoding, error) {
	enc, ok := registry[name]
	if !ok {
		return Encoding{}, fmt.Errorf("%w: %s", ErrUnknownEncoding, name)
	}
	return enc, nil
}

// Names returns the registered encoding names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// EncodingNameForModel resolves a model name to an encoding name without
// looking the encoding up.
func EncodingNameForModel(model string) (string, error) {
	if name, ok := modelToEncoding[model]; ok {
		return name, nil
	}

	for _, p := range modelPrefixToEncoding {
		if strings.HasPrefix(model, p.prefix) {
			return p.encoding, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownModel, model)
}

// ForModel returns the encoding used by model. Exact names are matched before
// prefixes such as "gpt-4o-".
func ForModel(model string) (Encoding, error) {
	name, err := EncodingNameForModel(model)
	if err != nil {
		return Encoding{}, err
	}
	return Lookup(name)
}
