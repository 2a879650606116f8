package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	PruneSpec             = "@hourly"
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
	pruneTimeout          = time.Minute
)

type CacheSweeper interface {
	Sweep() int
}

type WindowCleaner interface {
	Cleanup() int
}

type RequestPruner interface {
	PruneRequests(ctx context.Context, before time.Time) (int64, error)
}

type Config struct {
	// SweepSpec is a cron spec for dropping expired cache entries and elapsed
	// rate windows.
	SweepSpec string
	// Retention is how long audit log entries are kept.
	Retention time.Duration
}

type Scheduler struct {
	ctx     context.Context
	cron    *cron.Cron
	cfg     Config
	cache   CacheSweeper
	limiter WindowCleaner
	pruner  RequestPruner
	now     func() time.Time
	log     *slog.Logger
}

// New builds a scheduler. pruner may be nil when the audit log is disabled.
func New(
	ctx context.Context,
	cfg Config,
	cache CacheSweeper,
	limiter WindowCleaner,
	pruner RequestPruner,
	log *slog.Logger,
) *Scheduler {
	c := cron.New(cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)))

	return &Scheduler{
		ctx:     ctx,
		cron:    c,
		cfg:     cfg,
		cache:   cache,
		limiter: limiter,
		pruner:  pruner,
		now:     time.Now,
		log:     log.With("component", "scheduler"),
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.SweepSpec, s.sweep); err != nil {
		return err
	}

	if s.pruner != nil && s.cfg.Retention > 0 {
		if _, err := s.cron.AddFunc(PruneSpec, s.prune); err != nil {
			return err
		}
	}

	s.cron.Start()

	return nil
}

// Stop halts the schedule and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweep() {
	cacheRemoved := s.cache.Sweep()
	windowsRemoved := s.limiter.Cleanup()

	if cacheRemoved == 0 && windowsRemoved == 0 {
		return
	}

	s.log.DebugContext(s.ctx, "Expired state is swept",
		"cacheEntriesRemoved", cacheRemoved,
		"rateWindowsRemoved", windowsRemoved)
}

func (s *Scheduler) prune() {
	ctx, cancel := context.WithTimeout(s.ctx, pruneTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	default:
	}

	cutoff := s.now().Add(-s.cfg.Retention)

	removed, err := s.pruner.PruneRequests(ctx, cutoff)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to prune audit log",
			"error", err,
			"cutoff", cutoff)

		return
	}

	s.log.InfoContext(ctx, "Audit log is pruned",
		"cutoff", cutoff,
		"removed", removed)
}
