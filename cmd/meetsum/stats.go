package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"meetsum/internal/config"
	"meetsum/internal/database"
)

func newStatsCmd(configPath *string) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show request outcome counts from the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DBPath == "" {
				return errors.New("DB_PATH is required to read the audit log")
			}

			log, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			db, err := database.New(ctx, cfg.DBPath, log)
			if err != nil {
				return fmt.Errorf("open audit log: %w", err)
			}
			defer func() {
				if closeErr := db.Close(); closeErr != nil {
					log.ErrorContext(ctx, "Failed to close db",
						"error", closeErr,
						"dbPath", cfg.DBPath)
				}
			}()

			counts, err := db.OutcomeCounts(ctx, time.Now().Add(-since))
			if err != nil {
				return err
			}

			return printOutcomeCounts(cmd.OutOrStdout(), counts, since)
		},
	}

	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "look back this far")

	return cmd
}

func printOutcomeCounts(w io.Writer, counts []database.OutcomeCount, since time.Duration) error {
	if len(counts) == 0 {
		_, err := fmt.Fprintf(w, "No requests in the last %s.\n", since)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTCOME\tREQUESTS\tCACHED\tAVG ELAPSED (ms)")
	for _, c := range counts {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\n", c.Outcome, c.Count, c.Cached, c.AvgElapsedMs)
	}

	return tw.Flush()
}
