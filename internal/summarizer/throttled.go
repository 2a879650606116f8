package summarizer

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Throttled spaces out calls to the wrapped Summarizer across all clients. A
// caller waits for its turn within its own context deadline.
type Throttled struct {
	next Summarizer
	lim  *rate.Limiter
}

// NewThrottled wraps next with a token bucket of rps and burst. Non-positive
// rps returns next unchanged.
func NewThrottled(next Summarizer, rps float64, burst int) Summarizer {
	if rps <= 0 {
		return next
	}

	return &Throttled{
		next: next,
		lim:  rate.NewLimiter(rate.Limit(rps), max(burst, 1)),
	}
}

func (t *Throttled) Summarize(ctx context.Context, text string) (string, error) {
	if err := t.lim.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for upstream slot: %w", err)
	}

	return t.next.Summarize(ctx, text)
}
