package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-tiktoken/internal/bench"
	"github.com/example/go-tiktoken/internal/provider"
)

func newBenchCmd() *cobra.Command {
	var (
		src           textSource
		model         string
		runs          int
		format        string
		minThroughput float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark encode latency and throughput",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			text, err := src.read(cmd, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if text == "" {
				return fmt.Errorf("bench needs non-empty input text")
			}

			enc, closeFn, err := openEncoder(cmd.Context(), cfg, model)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			results, err := runBench(enc, text, runs)
			if err != nil {
				return err
			}

			durations := make([]time.Duration, len(results))
			for i, r := range results {
				durations[i] = r.Duration
			}
			stats := bench.ComputeStats(durations)

			switch format {
			case "json":
				bench.FormatJSON(results, stats, cmd.OutOrStdout())
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			return bench.CheckMinThroughput(bench.MeanTokensPerSec(results), minThroughput)
		},
	}

	src.register(cmd)
	cmd.Flags().StringVar(&model, "model", "", "Pick the encoding used by this model (e.g. gpt-4o)")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of encode runs")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&minThroughput, "min-tokens-per-sec", 0, "Exit non-zero if mean warm throughput is below this value (0 = disabled)")

	return cmd
}

func runBench(enc provider.Encoder, text string, runs int) ([]bench.RunResult, error) {
	results := make([]bench.RunResult, 0, runs)

	for i := range runs {
		start := time.Now()
		tokens, err := enc.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("run %d failed: %w", i+1, err)
		}

		results = append(results, bench.RunResult{
			Index:    i,
			Cold:     i == 0,
			Duration: time.Since(start),
			Bytes:    len(text),
			Tokens:   len(tokens),
		})
	}

	return results, nil
}
