// Package server exposes the summarize pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"meetsum/internal/pipeline"
	"meetsum/internal/stats"
)

const (
	DefaultMaxBodyBytes = 1 << 20
	shutdownTimeout     = 5 * time.Second
	readHeaderTimeout   = 10 * time.Second
)

type Summarizer interface {
	HandleSummarizeRequest(ctx context.Context, rawText string, identity string) (pipeline.Success, error)
}

type StatsSource interface {
	Snapshot() stats.Snapshot
}

type Config struct {
	ListenAddr string
	// TrustXFF makes the first X-Forwarded-For address the client identity.
	TrustXFF bool
	// RetryAfter is advertised on rate limited responses.
	RetryAfter     time.Duration
	MaxBodyBytes   int64
	ConcurrencyMax int
}

type Server struct {
	cfg      Config
	pipeline Summarizer
	stats    StatsSource
	handler  http.Handler
	log      *slog.Logger
}

// New wires routes and middleware. statsSource may be nil, in which case
// GET /stats reports 404.
func New(cfg Config, p Summarizer, statsSource StatsSource, log *slog.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		cfg:      cfg,
		pipeline: p,
		stats:    statsSource,
		log:      log.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome)
	mux.HandleFunc("/summarize", s.handleSummarize)
	if statsSource != nil {
		mux.HandleFunc("/stats", s.handleStats)
	}

	s.handler = withRequestID(s.log, withConcurrencyLimit(cfg.ConcurrencyMax, mux))

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.InfoContext(ctx, "Server is listening",
			"listenAddr", s.cfg.ListenAddr)

		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}

		s.log.InfoContext(ctx, "Server is stopped",
			"listenAddr", s.cfg.ListenAddr)

		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
}
