// Package main provides the fraudsignal CLI: trace replay against a
// scoring endpoint, a local stub endpoint and small helpers.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fraudsignal",
		Short:         "Behavioral fraud-signal collector tooling",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newStubCmd())
	rootCmd.AddCommand(newBinCmd())
	rootCmd.AddCommand(newHealthcheckCmd())

	return rootCmd
}
