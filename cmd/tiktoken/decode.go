package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newDecodeCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "decode [token ids...]",
		Short: "Decode token ids to text",
		Long:  "Decode token ids given as arguments, or read from stdin as a JSON array or whitespace/comma separated list.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			raw := strings.Join(args, " ")
			if len(args) == 0 {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				raw = string(b)
			}

			tokens, err := parseTokens(raw)
			if err != nil {
				return err
			}

			enc, closeFn, err := openEncoder(cmd.Context(), cfg, model)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			text, err := enc.Decode(tokens)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), text)
			return err
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Pick the encoding used by this model (e.g. gpt-4o)")

	return cmd
}
