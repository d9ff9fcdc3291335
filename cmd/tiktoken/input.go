package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-tiktoken/internal/config"
	"github.com/example/go-tiktoken/internal/provider"
	"github.com/example/go-tiktoken/internal/vocab"
)

// textSource is the --text/--file pair shared by the text commands.
type textSource struct {
	text string
	file string
}

func (s *textSource) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.text, "text", "", "Input text (if unset, read --file or stdin)")
	cmd.Flags().StringVar(&s.file, "file", "", "Read input text from this file")
}

// read returns the input text verbatim. Whitespace is significant to the
// tokenizer, so nothing is trimmed, and an explicit --text "" is valid.
func (s *textSource) read(cmd *cobra.Command, stdin io.Reader) (string, error) {
	if cmd.Flags().Changed("text") {
		if s.file != "" {
			return "", fmt.Errorf("--text and --file are mutually exclusive")
		}
		return s.text, nil
	}

	if s.file != "" {
		b, err := os.ReadFile(s.file)
		if err != nil {
			return "", fmt.Errorf("read --file: %w", err)
		}
		return string(b), nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

// openEncoder resolves the encoder for --model when set, else for the
// configured encoding. The returned close releases the provider.
func openEncoder(ctx context.Context, cfg config.Config, model string) (provider.Encoder, func() error, error) {
	p, err := provider.FromConfig(cfg, os.Stderr, slog.Default())
	if err != nil {
		return nil, nil, err
	}

	var enc provider.Encoder
	if model != "" {
		enc, err = p.ForModel(ctx, model)
	} else {
		enc, err = p.Get(ctx, cfg.Tokenizer.Encoding)
	}
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}
	return enc, p.Close, nil
}

// parseTokens accepts a JSON array or ids separated by whitespace or commas.
func parseTokens(s string) ([]vocab.Rank, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var tokens []vocab.Rank
		if err := json.Unmarshal([]byte(s), &tokens); err != nil {
			return nil, fmt.Errorf("parse token array: %w", err)
		}
		return tokens, nil
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	tokens := make([]vocab.Rank, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid token id %q: %w", f, err)
		}
		tokens = append(tokens, vocab.Rank(n))
	}
	return tokens, nil
}

func writeTokens(w io.Writer, tokens []vocab.Rank, format string) error {
	switch format {
	case "json":
		if tokens == nil {
			tokens = []vocab.Rank{}
		}
		return json.NewEncoder(w).Encode(tokens)
	case "plain":
		parts := make([]string, len(tokens))
		for i, t := range tokens {
			parts[i] = strconv.FormatUint(uint64(t), 10)
		}
		_, err := fmt.Fprintln(w, strings.Join(parts, " "))
		return err
	default:
		return fmt.Errorf("--format must be 'json' or 'plain'")
	}
}
