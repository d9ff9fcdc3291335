package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-tiktoken/internal/provider"
	"github.com/example/go-tiktoken/internal/tokenizer"
)

// counter is implemented by engines that count without keeping the tokens.
type counter interface {
	Count(text string) (int, error)
}

var _ counter = (*tokenizer.BPE)(nil)

// encoderCounter counts with any encoder, encoding in full when the engine
// has no dedicated counter.
type encoderCounter struct {
	enc provider.Encoder
}

func (e encoderCounter) Count(text string) (int, error) {
	if c, ok := e.enc.(counter); ok {
		return c.Count(text)
	}
	tokens, err := e.enc.Encode(text)
	return len(tokens), err
}

func newCountCmd() *cobra.Command {
	var (
		src   textSource
		model string
	)

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Print the number of tokens the text encodes to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			text, err := src.read(cmd, cmd.InOrStdin())
			if err != nil {
				return err
			}

			enc, closeFn, err := openEncoder(cmd.Context(), cfg, model)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			n, err := encoderCounter{enc}.Count(text)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
			return err
		},
	}

	src.register(cmd)
	cmd.Flags().StringVar(&model, "model", "", "Pick the encoding used by this model (e.g. gpt-4o)")

	return cmd
}
