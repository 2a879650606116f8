// Package requestid tags each inbound request with an identifier that follows
// it through logs, stats and the audit log.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

// New returns a time-ordered UUID, or a random one if the clock source fails.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}

	return id.String()
}

func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the request id stored in ctx, or "" when there is none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)

	return id
}
