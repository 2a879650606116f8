package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"meetsum/internal/config"
	"meetsum/internal/scheduler"
	"meetsum/internal/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP summarizer API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	log, err := newLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}

	start := time.Now()

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

	var pruner scheduler.RequestPruner
	if comps.db != nil {
		pruner = comps.db
	}

	sched := scheduler.New(ctx, scheduler.Config{
		SweepSpec: cfg.SweepSpec,
		Retention: cfg.AuditRetention,
	}, comps.cache, comps.limiter, pruner, log)
	if err = sched.Start(); err != nil {
		return fmt.Errorf("start scheduler with spec %q: %w", cfg.SweepSpec, err)
	}
	log.InfoContext(ctx, "Scheduler is started",
		"sweepSpec", cfg.SweepSpec,
		"pruneSpec", scheduler.PruneSpec,
		"auditEnabled", pruner != nil)

	srv := server.New(server.Config{
		ListenAddr:     cfg.ListenAddr,
		TrustXFF:       cfg.TrustXFF,
		RetryAfter:     cfg.RateWindow,
		MaxBodyBytes:   maxBodyBytes(cfg.MaxInputChars),
		ConcurrencyMax: cfg.ConcurrencyMax,
	}, comps.pipeline, comps.memStats, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		sched.Stop()

		log.InfoContext(ctx, "Scheduler is stopped")

		return nil
	})

	err = g.Wait()

	log.InfoContext(ctx, "Exiting...",
		"uptimeSeconds", time.Since(start).Seconds())

	return err
}

// bytesPerEscapedChar is the widest JSON form of one character: a surrogate
// pair escape such as \ud83d\ude00.
const bytesPerEscapedChar = 12

// bodySlackBytes covers the JSON wrapper and whitespace that is trimmed before
// the length check.
const bodySlackBytes = 64 << 10

// maxBodyBytes admits the longest accepted text in its widest escaped form so
// over-long input still reaches validation.
func maxBodyBytes(maxInputChars int) int64 {
	return int64(maxInputChars)*bytesPerEscapedChar + bodySlackBytes
}
