// Package pipeline turns a raw summarize request into a summary: it applies the
// per-client rate limit, validates the text, serves repeated texts from the
// cache and otherwise calls the external summarizer under a timeout.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/sync/singleflight"

	"meetsum/internal/cache"
	"meetsum/internal/requestid"
	"meetsum/internal/stats"
	"meetsum/internal/summarizer"
)

const (
	DefaultMaxInputChars   = 50_000
	DefaultTimeout         = 30 * time.Second
	DefaultMinSummaryChars = 5

	FallbackSummary = "Unable to generate a meaningful summary. " +
		"The input text may be too short or unclear."

	msgRateLimited = "Rate limit exceeded. Please try again later."
	msgEmptyText   = "Input text is empty"
	msgUnavailable = "Unable to generate summary due to technical issues. Please try again later."
)

// Cache is the subset of *cache.Cache the pipeline needs.
type Cache interface {
	Get(key string) (string, bool)
	Set(key string, value string)
}

// Limiter is the subset of *ratelimiter.RateLimiter the pipeline needs.
type Limiter interface {
	Allow(identity string) bool
}

type Config struct {
	MaxInputChars   int
	Timeout         time.Duration
	MinSummaryChars int
}

func DefaultConfig() Config {
	return Config{
		MaxInputChars:   DefaultMaxInputChars,
		Timeout:         DefaultTimeout,
		MinSummaryChars: DefaultMinSummaryChars,
	}
}

type Success struct {
	Summary string
	Cached  bool
	Elapsed time.Duration
	// MemoryMB is the process memory after a fresh summary. Cache hits leave
	// it empty.
	MemoryMB fn.Option[float64]
}

type Pipeline struct {
	cache      Cache
	limiter    Limiter
	summarizer summarizer.Summarizer
	recorder   stats.Recorder
	cfg        Config
	group      singleflight.Group
	now        func() time.Time
	memoryMB   func() float64
	log        *slog.Logger
}

type Option func(*Pipeline)

func WithRecorder(r stats.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func WithMemoryProbe(probe func() float64) Option {
	return func(p *Pipeline) { p.memoryMB = probe }
}

func New(
	c Cache,
	l Limiter,
	s summarizer.Summarizer,
	cfg Config,
	log *slog.Logger,
	opts ...Option,
) *Pipeline {
	defaults := DefaultConfig()
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = defaults.MaxInputChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MinSummaryChars < 0 {
		cfg.MinSummaryChars = defaults.MinSummaryChars
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Pipeline{
		cache:      c,
		limiter:    l,
		summarizer: s,
		cfg:        cfg,
		now:        time.Now,
		memoryMB:   processMemoryMB,
		log:        log.With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// HandleSummarizeRequest runs one request through the pipeline. Rejections are
// returned as *Error wrapping ErrRateLimited, ErrInvalidInput or
// ErrSummarizationUnavailable.
func (p *Pipeline) HandleSummarizeRequest(
	ctx context.Context,
	rawText string,
	identity string,
) (Success, error) {
	start := p.now()

	res, err := p.handle(ctx, rawText, identity, start)

	p.record(ctx, identity, res, err, start)

	return res, err
}

func (p *Pipeline) handle(
	ctx context.Context,
	rawText string,
	identity string,
	start time.Time,
) (Success, error) {
	reqID := requestid.FromContext(ctx)

	if !p.limiter.Allow(identity) {
		p.log.WarnContext(ctx, "Request is rate limited",
			"requestID", reqID,
			"identity", identity)

		return Success{}, &Error{Kind: ErrRateLimited, Message: msgRateLimited}
	}

	text := strings.TrimSpace(rawText)
	if text == "" {
		p.log.WarnContext(ctx, "Input text is empty",
			"requestID", reqID,
			"identity", identity)

		return Success{}, &Error{Kind: ErrInvalidInput, Message: msgEmptyText}
	}

	textLen := utf8.RuneCountInString(text)
	if textLen > p.cfg.MaxInputChars {
		p.log.WarnContext(ctx, "Input text is too long",
			"requestID", reqID,
			"identity", identity,
			"textLen", textLen,
			"maxInputChars", p.cfg.MaxInputChars)

		return Success{}, &Error{
			Kind:    ErrInvalidInput,
			Message: fmt.Sprintf("Input text exceeds %d characters", p.cfg.MaxInputChars),
		}
	}

	key := cache.Key(text)

	if summary, ok := p.cache.Get(key); ok {
		p.log.InfoContext(ctx, "Summary is served from cache",
			"requestID", reqID,
			"identity", identity,
			"cacheKey", key,
			"textLen", textLen)

		return Success{
			Summary: summary,
			Cached:  true,
			Elapsed: p.now().Sub(start),
		}, nil
	}

	summary, err := p.summarize(ctx, key, text)
	if err != nil {
		p.log.ErrorContext(ctx, "Failed to summarize text",
			"error", err,
			"requestID", reqID,
			"identity", identity,
			"cacheKey", key,
			"textLen", textLen)

		return Success{}, &Error{Kind: ErrSummarizationUnavailable, Message: msgUnavailable, Err: err}
	}

	res := Success{
		Summary:  summary,
		Elapsed:  p.now().Sub(start),
		MemoryMB: fn.Some(p.memoryMB()),
	}

	p.log.InfoContext(ctx, "Summary is generated",
		"requestID", reqID,
		"identity", identity,
		"cacheKey", key,
		"textLen", textLen,
		"summaryLen", utf8.RuneCountInString(summary),
		"elapsedSeconds", res.Elapsed.Seconds())

	return res, nil
}

// summarize makes concurrent misses for the same key share one external call.
// The shared call is detached from the first caller's cancellation and bounded
// by the configured timeout instead.
func (p *Pipeline) summarize(ctx context.Context, key string, text string) (string, error) {
	ch := p.group.DoChan(key, func() (any, error) {
		return p.summarizeAndStore(context.WithoutCancel(ctx), key, text)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("wait for summary: %w", ctx.Err())
	}
}

func (p *Pipeline) summarizeAndStore(ctx context.Context, key string, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	summary, err := p.callSummarizer(ctx, text)
	if err != nil {
		return "", err
	}

	summary = strings.TrimSpace(summary)
	if summary == "" || utf8.RuneCountInString(summary) < p.cfg.MinSummaryChars {
		p.log.WarnContext(ctx, "Generated empty or very short summary",
			"requestID", requestid.FromContext(ctx),
			"cacheKey", key,
			"summaryLen", utf8.RuneCountInString(summary),
			"fallback", true)

		summary = FallbackSummary
	}

	p.cache.Set(key, summary)

	return summary, nil
}

// callSummarizer returns once the summarizer answers or ctx is done, whichever
// comes first. A summarizer that ignores ctx keeps its goroutine until it
// returns; its late result is dropped.
func (p *Pipeline) callSummarizer(ctx context.Context, text string) (string, error) {
	type result struct {
		summary string
		err     error
	}

	done := make(chan result, 1)
	go func() {
		summary, err := p.summarizer.Summarize(ctx, text)
		done <- result{summary: summary, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("call summarizer: %w", r.err)
		}

		return r.summary, nil
	case <-ctx.Done():
		return "", fmt.Errorf("call summarizer: %w", ctx.Err())
	}
}

func (p *Pipeline) record(
	ctx context.Context,
	identity string,
	res Success,
	err error,
	start time.Time,
) {
	if p.recorder == nil {
		return
	}

	ev := stats.Event{
		RequestID: requestid.FromContext(ctx),
		Identity:  identity,
		Outcome:   outcomeOf(err),
		Cached:    res.Cached,
		Elapsed:   p.now().Sub(start),
		At:        start,
	}

	if recordErr := p.recorder.Record(context.WithoutCancel(ctx), ev); recordErr != nil {
		p.log.WarnContext(ctx, "Failed to record request stats",
			"error", recordErr,
			"requestID", ev.RequestID,
			"outcome", ev.Outcome)
	}
}

func processMemoryMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	return float64(ms.Sys) / (1 << 20)
}
