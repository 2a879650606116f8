package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	rdb redis.Cmdable

	prefix string
	// ttl applies to per-minute buckets only; totals never expire.
	ttl time.Duration
}

type RedisOption func(*RedisStore)

func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

func NewRedisStore(rdb redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "meetsum:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *RedisStore) Record(ctx context.Context, ev Event) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := []string{string(ev.Outcome)}
	if ev.Outcome == OutcomeOK {
		if ev.Cached {
			fields = append(fields, "hit")
		} else {
			fields = append(fields, "miss")
		}
	}

	totalKey := s.prefix + ":total"
	bucketKey := s.bucketKey(at)

	pipe := s.rdb.Pipeline()
	for _, field := range fields {
		pipe.HIncrBy(ctx, totalKey, field, 1)
		pipe.HIncrBy(ctx, bucketKey, field, 1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("exec redis pipeline: %w", err)
	}

	return nil
}

// Totals reads the cumulative counters.
func (s *RedisStore) Totals(ctx context.Context) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return nil, fmt.Errorf("read totals: %w", err)
	}

	return parseTotals(raw)
}

func parseTotals(raw map[string]string) (map[string]int64, error) {
	totals := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse total %q: %w", field, err)
		}
		totals[field] = n
	}

	return totals, nil
}

func (s *RedisStore) bucketKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}
