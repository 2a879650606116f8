package summarizer

import (
	"context"
)

// Summarizer produces a single summary for a given input text. Implementations
// may be slow, may fail, and may legitimately return empty or low quality
// output.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Func adapts a plain function to Summarizer.
type Func func(ctx context.Context, text string) (string, error)

func (f Func) Summarize(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}
