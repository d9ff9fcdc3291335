package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-tiktoken/internal/encoding"
	"github.com/example/go-tiktoken/internal/loader"
	"github.com/example/go-tiktoken/internal/vocab"
)

func newVocabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Vocabulary acquisition and verification commands",
	}

	cmd.AddCommand(newVocabDownloadCmd())
	cmd.AddCommand(newVocabVerifyCmd())
	return cmd
}

func newVocabDownloadCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "download [encoding...]",
		Short: "Download and checksum-verify encoding vocabularies into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			names := args
			switch {
			case all:
				names = encoding.Names()
			case len(names) == 0:
				names = []string{cfg.Tokenizer.Encoding}
			}

			l := &loader.Loader{CacheDir: cfg.Paths.CacheDir, Stdout: cmd.OutOrStdout()}
			for _, name := range names {
				enc, err := encoding.Lookup(name)
				if err != nil {
					return err
				}

				path, err := l.LoadFile(cmd.Context(), enc.URL, enc.SHA256)
				if err != nil {
					return fmt.Errorf("vocab download failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Download every registered encoding")

	return cmd
}

func newVocabVerifyCmd() *cobra.Command {
	var checksum string

	cmd := &cobra.Command{
		Use:   "verify [path]",
		Short: "Parse a vocabulary file and check its sha256",
		Long: "Parse a .tiktoken file and report its size. Without a path, the cached " +
			"vocabulary of the configured encoding is verified against the registry checksum.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			path := ""
			expected := strings.ToLower(strings.TrimSpace(checksum))
			if len(args) == 1 {
				path = args[0]
			} else {
				enc, err := encoding.Lookup(cfg.Tokenizer.Encoding)
				if err != nil {
					return err
				}
				path = (&loader.Loader{CacheDir: cfg.Paths.CacheDir}).CachePath(enc.URL)
				if expected == "" {
					expected = enc.SHA256
				}
				if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("%s is not cached; run `tiktoken vocab download %s`", enc.Name, enc.Name)
				}
			}

			return verifyVocabFile(cmd, path, expected)
		},
	}

	cmd.Flags().StringVar(&checksum, "sha256", "", "Expected sha256 of the file")

	return cmd
}

func verifyVocabFile(cmd *cobra.Command, path, expected string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "verifying vocabulary: %s\n", path)

	if expected != "" {
		if !loader.IsSHA256Hex(expected) {
			return fmt.Errorf("invalid sha256 %q", expected)
		}
		actual, err := loader.FileSHA256(path)
		if err != nil {
			return err
		}
		if actual != expected {
			return &loader.ChecksumError{URI: path, Expected: expected, Actual: actual}
		}
		fmt.Fprintf(out, "  ✓ sha256 %s\n", actual)
	}

	v, err := vocab.ParseFile(path)
	if err != nil {
		return fmt.Errorf("vocab verify failed: %w", err)
	}
	fmt.Fprintf(out, "  ✓ %d entries, max rank %d\n", v.Len(), v.MaxRank())

	if missing := v.MissingBytes(); len(missing) > 0 {
		fmt.Fprintf(out, "  ⚠ %d single bytes have no rank\n", len(missing))
	}

	fmt.Fprintln(out, "vocabulary verification passed")
	return nil
}
