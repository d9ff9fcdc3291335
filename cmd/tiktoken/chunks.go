package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/go-tiktoken/internal/text"
	"github.com/example/go-tiktoken/internal/tokenizer"
)

func newChunksCmd() *cobra.Command {
	var (
		src       textSource
		model     string
		maxTokens int
		sentences bool
	)

	cmd := &cobra.Command{
		Use:   "chunks",
		Short: "Encode text into batches of at most --max-tokens tokens",
		Long: "Encode text and group the tokens into batches without splitting a pre-tokenized piece. " +
			"Each batch is printed as one JSON array per line and requires the native backend.\n\n" +
			"With --sentences the text itself is cut at sentence ends into pieces of at most " +
			"--max-tokens tokens, printed as one JSON string per line.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			input, err := src.read(cmd, cmd.InOrStdin())
			if err != nil {
				return err
			}

			enc, closeFn, err := openEncoder(cmd.Context(), cfg, model)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			out := json.NewEncoder(cmd.OutOrStdout())

			if sentences {
				pieces, err := text.ChunkBySentence(encoderCounter{enc}, input, maxTokens)
				if err != nil {
					return err
				}
				for _, piece := range pieces {
					if err := out.Encode(piece); err != nil {
						return err
					}
				}
				return nil
			}

			bpe, ok := enc.(*tokenizer.BPE)
			if !ok {
				return fmt.Errorf("chunks requires the native backend (got %T)", enc)
			}

			batches, err := bpe.EncodeInChunks(input, maxTokens)
			if err != nil {
				return err
			}

			for _, batch := range batches {
				if err := out.Encode(batch); err != nil {
					return err
				}
			}
			return nil
		},
	}

	src.register(cmd)
	cmd.Flags().StringVar(&model, "model", "", "Pick the encoding used by this model (e.g. gpt-4o)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 512, "Maximum tokens per batch")
	cmd.Flags().BoolVar(&sentences, "sentences", false, "Cut the text at sentence ends instead of printing token batches")

	return cmd
}
