package encoding

import (
	"errors"
	"slices"
	"testing"

	"github.com/dlclark/regexp2"
)

func TestLookup_KnownEncodings(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			enc, err := Lookup(name)
			if err != nil {
				t.Fatalf("Lookup(%q): %v", name, err)
			}

			if enc.Name != name {
				t.Errorf("Name = %q; want %q", enc.Name, name)
			}
			if enc.URL == "" || enc.Pattern == "" {
				t.Errorf("encoding %q has empty URL or Pattern", name)
			}
			if len(enc.SHA256) != 64 {
				t.Errorf("SHA256 length = %d; want 64", len(enc.SHA256))
			}

			if _, err := regexp2.Compile(enc.Pattern, regexp2.None); err != nil {
				t.Errorf("pattern does not compile: %v", err)
			}
		})
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("nope")
	if !errors.Is(err, ErrUnknownEncoding) {
		t.Errorf("Lookup(nope) = %v; want ErrUnknownEncoding", err)
	}
}

func TestNames(t *testing.T) {
	want := []string{"cl100k_base", "o200k_base", "p50k_base", "p50k_edit", "r50k_base"}
	if got := Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v; want %v", got, want)
	}
}

func TestForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"text-davinci-003", "p50k_base"},
		{"text-davinci-edit-001", "p50k_edit"},
		{"gpt-3.5-turbo-0301", "cl100k_base"},
		{"gpt-4", "cl100k_base"},
		{"gpt-4-0613", "cl100k_base"},
		{"gpt-4o", "o200k_base"},
		{"gpt-4o-mini", "o200k_base"},
		{"gpt-4.1-nano", "o200k_base"},
		{"gpt-5-mini", "o200k_base"},
		{"o1", "o200k_base"},
		{"davinci", "r50k_base"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			enc, err := ForModel(tt.model)
			if err != nil {
				t.Fatalf("ForModel(%q): %v", tt.model, err)
			}
			if enc.Name != tt.want {
				t.Errorf("ForModel(%q) = %q; want %q", tt.model, enc.Name, tt.want)
			}
		})
	}
}

func TestForModel_Unknown(t *testing.T) {
	for _, model := range []string{"", "llama-3", "gpt4"} {
		if _, err := ForModel(model); !errors.Is(err, ErrUnknownModel) {
			t.Errorf("ForModel(%q) = %v; want ErrUnknownModel", model, err)
		}
	}
}

func TestModelTablesReferenceRegisteredEncodings(t *testing.T) {
	for model, name := range modelToEncoding {
		if _, ok := registry[name]; !ok {
			t.Errorf("model %q maps to unregistered encoding %q", model, name)
		}
	}
	for _, p := range modelPrefixToEncoding {
		if _, ok := registry[p.encoding]; !ok {
			t.Errorf("prefix %q maps to unregistered encoding %q", p.prefix, p.encoding)
		}
	}
}
