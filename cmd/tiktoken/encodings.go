package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/go-tiktoken/internal/encoding"
)

func newEncodingsCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "encodings",
		Short: "List registered encodings, or resolve the encoding of --model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			if model != "" {
				name, err := encoding.EncodingNameForModel(model)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, name)
				return err
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tURL")
			for _, name := range encoding.Names() {
				enc, err := encoding.Lookup(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\n", enc.Name, enc.URL)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Print the encoding name used by this model")

	return cmd
}
