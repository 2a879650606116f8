package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"meetsum/internal/requestid"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withRequestID tags each request with an id, echoes it back and writes one
// access log line per request.
func withRequestID(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = requestid.New()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := requestid.WithContext(r.Context(), id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(ctx))

		log.InfoContext(ctx, "Request is served",
			"requestID", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsedSeconds", time.Since(start).Seconds())
	})
}

// slotPool is a counting semaphore on a buffered channel.
type slotPool struct {
	sem chan struct{}
}

func (p *slotPool) acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return func() { <-p.sem }, true
	case <-ctx.Done():
		return nil, false
	default:
		return nil, false
	}
}

// withConcurrencyLimit rejects requests with 503 while limit requests are in
// flight. A non-positive limit disables it.
func withConcurrencyLimit(limit int, next http.Handler) http.Handler {
	if limit <= 0 {
		return next
	}

	pool := &slotPool{sem: make(chan struct{}, limit)}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		release, ok := pool.acquire(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		defer release()

		next.ServeHTTP(w, r)
	})
}
