package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"meetsum/internal/cache"
	"meetsum/internal/config"
	"meetsum/internal/database"
	"meetsum/internal/pipeline"
	"meetsum/internal/ratelimiter"
	"meetsum/internal/stats"
	"meetsum/internal/summarizer"
)

func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func newSummarizer(ctx context.Context, cfg config.Config, log *slog.Logger) (summarizer.Summarizer, error) {
	s, err := summarizer.NewOpenAISummarizer(summarizer.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("init openai summarizer: %w", err)
	}

	log.InfoContext(ctx, "OpenAI summarizer is initialized",
		"provider", "openai",
		"model", cfg.OpenAIModel,
		"upstreamRPS", cfg.UpstreamRPS)

	return summarizer.NewThrottled(s, cfg.UpstreamRPS, cfg.UpstreamBurst), nil
}

// components holds everything a request passes through plus the optional
// sinks that must be closed on exit.
type components struct {
	cache    *cache.Cache
	limiter  *ratelimiter.RateLimiter
	memStats *stats.MemoryStore
	db       *database.Database
	rdb      *redis.Client
	pipeline *pipeline.Pipeline
}

func newComponents(ctx context.Context, cfg config.Config, log *slog.Logger) (*components, error) {
	s, err := newSummarizer(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	c := &components{
		cache:    cache.New(cfg.CacheTTL, cache.WithMaxEntries(cfg.CacheMaxEntries)),
		limiter:  ratelimiter.New(cfg.RateLimit, cfg.RateWindow),
		memStats: stats.NewMemoryStore(),
	}
	recorders := stats.Multi{c.memStats}

	if cfg.DBPath != "" {
		c.db, err = database.New(ctx, cfg.DBPath, log)
		if err != nil {
			return nil, fmt.Errorf("init audit log: %w", err)
		}
		recorders = append(recorders, c.db)

		log.InfoContext(ctx, "DB is initialized",
			"dbPath", cfg.DBPath)
	}

	if cfg.RedisAddr != "" {
		c.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err = c.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, errors.Join(err, c.close()))
		}
		recorders = append(recorders, stats.NewRedisStore(c.rdb,
			stats.WithPrefix(cfg.RedisPrefix),
			stats.WithTTL(cfg.RedisTTL)))

		log.InfoContext(ctx, "Redis stats are enabled",
			"redisAddr", cfg.RedisAddr,
			"redisPrefix", cfg.RedisPrefix)
	}

	c.pipeline = pipeline.New(c.cache, c.limiter, s, pipeline.Config{
		MaxInputChars:   cfg.MaxInputChars,
		Timeout:         cfg.SummarizeTimeout,
		MinSummaryChars: cfg.MinSummaryChars,
	}, log, pipeline.WithRecorder(recorders))

	return c, nil
}

func (c *components) close() error {
	var errs []error

	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}

	return errors.Join(errs...)
}
