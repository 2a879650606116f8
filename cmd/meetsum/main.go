package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "meetsum",
		Short:         "Meeting transcript summarizer with caching and rate limiting",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to YAML config file (defaults to $MEETSUM_CONFIG)")

	root.AddCommand(
		newServeCmd(&configPath),
		newSummarizeCmd(&configPath),
		newStatsCmd(&configPath),
	)

	return root
}
