package main

import (
	"github.com/spf13/cobra"
)

func newEncodeCmd() *cobra.Command {
	var (
		src    textSource
		model  string
		format string
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode text to token ids",
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

			tokens, err := enc.Encode(text)
			if err != nil {
				return err
			}
			return writeTokens(cmd.OutOrStdout(), tokens, format)
		},
	}

	src.register(cmd)
	cmd.Flags().StringVar(&model, "model", "", "Pick the encoding used by this model (e.g. gpt-4o)")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json|plain")

	return cmd
}
