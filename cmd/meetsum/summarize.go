package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"meetsum/internal/config"
	"meetsum/internal/requestid"
)

const cliIdentity = "cli"

func newSummarizeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "summarize [file|-]",
		Short: "Summarize a transcript file or stdin once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			text, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			log, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := requestid.WithContext(cmd.Context(), requestid.New())

			comps, err := newComponents(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := comps.close(); closeErr != nil {
					log.ErrorContext(ctx, "Failed to close components",
						"error", closeErr)
				}
			}()

			res, err := comps.pipeline.HandleSummarizeRequest(ctx, text, cliIdentity)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Summary)
			fmt.Fprintf(out, "\ncached: %t\nelapsed: %.3fs\n", res.Cached, res.Elapsed.Seconds())
			res.MemoryMB.WhenSome(func(mb float64) {
				fmt.Fprintf(out, "memory: %.1f MB\n", mb)
			})

			return nil
		},
	}
}

func readInput(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}

		return string(data), nil
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}

	return string(data), nil
}
