// Package bench provides benchmarking primitives for the tiktoken bench command.
package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Run result and stats
// ---------------------------------------------------------------------------

// RunResult holds the timing and size of a single encode run.
type RunResult struct {
	Index    int
	Cold     bool // true for the first run (cold chunk cache)
	Duration time.Duration
	Bytes    int
	Tokens   int
}

// TokensPerSec returns Tokens over Duration.
func (r RunResult) TokensPerSec() float64 { return Throughput(r.Tokens, r.Duration) }

// MBPerSec returns input megabytes over Duration.
func (r RunResult) MBPerSec() float64 { return Throughput(r.Bytes, r.Duration) / 1e6 }

// Stats holds aggregate timing statistics across all runs.
type Stats struct {
	Min  time.Duration
	Max  time.Duration
	Mean time.Duration
}

// ComputeStats calculates min, max and mean over a slice of durations.
// The slice must be non-empty.
func ComputeStats(durations []time.Duration) Stats {
	if len(durations) == 0 {
		return Stats{}
	}
	mn, mx := durations[0], durations[0]
	var sum time.Duration
	for _, d := range durations {
		if d < mn {
			mn = d
		}
		if d > mx {
			mx = d
		}
		sum += d
	}
	return Stats{
		Min:  mn,
		Max:  mx,
		Mean: sum / time.Duration(len(durations)),
	}
}

// ---------------------------------------------------------------------------
// Throughput helpers
// ---------------------------------------------------------------------------

// Throughput returns n per second of d.
// Returns 0 if d is zero to avoid division by zero.
func Throughput(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// MeanTokensPerSec averages the per-run token throughput, skipping the cold run
// when there are warm ones.
func MeanTokensPerSec(runs []RunResult) float64 {
	var sum float64
	var n int
	for _, r := range runs {
		if r.Cold && len(runs) > 1 {
			continue
		}
		sum += r.TokensPerSec()
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ---------------------------------------------------------------------------
// Throughput threshold gate
// ---------------------------------------------------------------------------

// CheckMinThroughput returns an error if tokensPerSec < threshold.
// A threshold of 0 disables the gate.
func CheckMinThroughput(tokensPerSec, threshold float64) error {
	if threshold <= 0 {
		return nil
	}
	if tokensPerSec < threshold {
		return fmt.Errorf("mean throughput %.0f tokens/s is below threshold %.0f", tokensPerSec, threshold)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

// FormatTable writes a human-readable ASCII table of bench results to w.
func FormatTable(runs []RunResult, stats Stats, w io.Writer) {
	sb := &strings.Builder{}

	fmt.Fprintf(sb, "%-5s  %-5s  %10s  %10s  %12s  %8s\n", "Run", "Cold", "MS", "Tokens", "Tokens/s", "MB/s")
	fmt.Fprintln(sb, strings.Repeat("-", 60))

	for _, r := range runs {
		cold := ""
		if r.Cold {
			cold = "yes"
		}
		fmt.Fprintf(sb, "%-5d  %-5s  %10.1f  %10d  %12.0f  %8.2f\n",
			r.Index+1,
			cold,
			float64(r.Duration.Microseconds())/1000,
			r.Tokens,
			r.TokensPerSec(),
			r.MBPerSec(),
		)
	}

	fmt.Fprintln(sb, strings.Repeat("-", 60))
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (min)\n", "", "", float64(stats.Min.Microseconds())/1000)
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (mean)\n", "", "", float64(stats.Mean.Microseconds())/1000)
	fmt.Fprintf(sb, "%-5s  %-5s  %10.1f  (max)\n", "", "", float64(stats.Max.Microseconds())/1000)

	fmt.Fprint(w, sb.String())
}

// jsonReport is the top-level JSON structure emitted by FormatJSON.
type jsonReport struct {
	Runs  []jsonRun `json:"runs"`
	Stats jsonStats `json:"stats"`
}

type jsonRun struct {
	Index        int     `json:"index"`
	Cold         bool    `json:"cold"`
	DurationMS   float64 `json:"duration_ms"`
	Bytes        int     `json:"bytes"`
	Tokens       int     `json:"tokens"`
	TokensPerSec float64 `json:"tokens_per_sec"`
}

type jsonStats struct {
	MinMS            float64 `json:"min_ms"`
	MeanMS           float64 `json:"mean_ms"`
	MaxMS            float64 `json:"max_ms"`
	MeanTokensPerSec float64 `json:"mean_tokens_per_sec"`
}

// FormatJSON writes a JSON report of bench results to w.
func FormatJSON(runs []RunResult, stats Stats, w io.Writer) {
	jr := jsonReport{
		Runs: make([]jsonRun, len(runs)),
		Stats: jsonStats{
			MinMS:            float64(stats.Min.Microseconds()) / 1000,
			MeanMS:           float64(stats.Mean.Microseconds()) / 1000,
			MaxMS:            float64(stats.Max.Microseconds()) / 1000,
			MeanTokensPerSec: MeanTokensPerSec(runs),
		},
	}
	for i, r := range runs {
		jr.Runs[i] = jsonRun{
			Index:        r.Index,
			Cold:         r.Cold,
			DurationMS:   float64(r.Duration.Microseconds()) / 1000,
			Bytes:        r.Bytes,
			Tokens:       r.Tokens,
			TokensPerSec: r.TokensPerSec(),
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(jr)
}
