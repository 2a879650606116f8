// Package stats records one event per summarize request. Recording is best
// effort: callers log a failed Record and carry on.
package stats

import (
	"context"
	"errors"
	"time"
)

type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeInvalidInput Outcome = "invalid_input"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeUnavailable  Outcome = "unavailable"
)

// Event describes a finished request. Identity is kept out of aggregate
// counters to bound their cardinality.
type Event struct {
	RequestID string
	Identity  string
	Outcome   Outcome
	Cached    bool
	Elapsed   time.Duration
	At        time.Time
}

type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Multi fans an event out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
