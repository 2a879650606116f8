package database

import (
	"context"
	"fmt"
	"time"

	"meetsum/internal/stats"
)

type OutcomeCount struct {
	Outcome      stats.Outcome
	Count        int64
	Cached       int64
	AvgElapsedMs float64
}

// Record appends ev to the audit log. It satisfies stats.Recorder.
func (d *Database) Record(ctx context.Context, ev stats.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	query := `insert into requests
	(request_id, identity, outcome, cached, elapsed_ms, created_at)
	values (?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query,
		ev.RequestID,
		ev.Identity,
		string(ev.Outcome),
		ev.Cached,
		ev.Elapsed.Milliseconds(),
		at.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}

	return nil
}

func (d *Database) OutcomeCounts(ctx context.Context, since time.Time) ([]OutcomeCount, error) {
	query := `select outcome, count(*), coalesce(sum(cached), 0), coalesce(avg(elapsed_ms), 0)
	from requests
	where created_at >= ?
	group by outcome
	order by outcome`

	rows, err := d.db.QueryContext(ctx, query, since.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"since", since,
				"operation", "OutcomeCounts")
		}
	}()

	var counts []OutcomeCount
	for rows.Next() {
		var (
			c       OutcomeCount
			outcome string
		)
		if err = rows.Scan(&outcome, &c.Count, &c.Cached, &c.AvgElapsedMs); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		c.Outcome = stats.Outcome(outcome)
		counts = append(counts, c)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return counts, nil
}

// PruneRequests deletes entries recorded before the cutoff.
func (d *Database) PruneRequests(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		"delete from requests where created_at < ?",
		before.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete requests: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted requests: %w", err)
	}

	return n, nil
}
