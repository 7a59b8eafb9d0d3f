package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shortontech/fraudsignal/internal/collector"
)

func newBinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bin <card-number>",
		Short: "Print the BIN the collector would send for a card field value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bin := collector.NormalizeBIN(args[0])
			if bin == nil {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "null")
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), *bin)
			return err
		},
	}
}
