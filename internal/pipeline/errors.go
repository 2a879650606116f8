package pipeline

import (
	"errors"
	"fmt"

	"meetsum/internal/stats"
)

var (
	ErrInvalidInput             = errors.New("invalid input")
	ErrRateLimited              = errors.New("rate limited")
	ErrSummarizationUnavailable = errors.New("summarization unavailable")
)

// Error carries the caller-facing message of a rejected request. errors.Is
// matches it against ErrInvalidInput, ErrRateLimited or
// ErrSummarizationUnavailable.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}

	return []error{e.Kind}
}

func outcomeOf(err error) stats.Outcome {
	switch {
	case err == nil:
		return stats.OutcomeOK
	case errors.Is(err, ErrInvalidInput):
		return stats.OutcomeInvalidInput
	case errors.Is(err, ErrRateLimited):
		return stats.OutcomeRateLimited
	default:
		return stats.OutcomeUnavailable
	}
}
