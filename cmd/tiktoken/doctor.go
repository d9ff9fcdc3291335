package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/go-tiktoken/internal/config"
	"github.com/example/go-tiktoken/internal/doctor"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local cache, vocabulary and shared library checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			libMode := cfg.Tokenizer.Backend == config.BackendLib
			_, _ = fmt.Fprintf(out, "backend: %s\n", cfg.Tokenizer.Backend)

			result := doctor.Run(doctor.Config{
				CacheDir:         cfg.Paths.CacheDir,
				Encoding:         cfg.Tokenizer.Encoding,
				VocabPath:        cfg.Paths.VocabPath,
				Pattern:          cfg.Tokenizer.Pattern,
				CheckLibrary:     libMode,
				LibPath:          cfg.Paths.LibPath,
				GoVersion:        probeGoVersion,
				SkipGo:           !libMode,
				CCompilerVersion: probeCCompiler,
				SkipCCompiler:    !libMode,
			}, out)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

// probeGoVersion runs `go env GOVERSION`.
func probeGoVersion() (string, error) {
	out, err := exec.CommandContext(context.Background(), "go", "env", "GOVERSION").Output()
	if err != nil {
		return "", fmt.Errorf("go env GOVERSION failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// probeCCompiler returns the first line of `$CC --version`, defaulting to cc.
func probeCCompiler() (string, error) {
	cc := os.Getenv("CC")
	if cc == "" {
		cc = "cc"
	}

	out, err := exec.CommandContext(context.Background(), cc, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s --version failed: %w", cc, err)
	}

	line, _, _ := strings.Cut(string(out), "\n")
	if line = strings.TrimSpace(line); line == "" {
		return "", fmt.Errorf("%s --version printed nothing", cc)
	}
	return line, nil
}
