package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"

	"meetsum/internal/cache"
	"meetsum/internal/pipeline"
	"meetsum/internal/ratelimiter"
	"meetsum/internal/requestid"
	"meetsum/internal/stats"
	"meetsum/internal/summarizer"
)

type pipelineFunc func(ctx context.Context, rawText string, identity string) (pipeline.Success, error)

func (f pipelineFunc) HandleSummarizeRequest(
	ctx context.Context,
	rawText string,
	identity string,
) (pipeline.Success, error) {
	return f(ctx, rawText, identity)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg Config, p Summarizer, src StatsSource) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(New(cfg, p, src, discardLogger()))
	t.Cleanup(srv.Close)

	return srv
}

func postSummarize(t *testing.T, url string, body string, header http.Header) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url+"/summarize", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}

	return resp, decoded
}

func TestHome(t *testing.T) {
	srv := newTestServer(t, Config{}, nil, nil)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(requestIDHeader))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, homeMessage, body["message"])

	resp, err = http.Get(srv.URL + "/missing")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSummarizeSuccess(t *testing.T) {
	var gotIdentity, gotText, gotRequestID string
	p := pipelineFunc(func(ctx context.Context, rawText, identity string) (pipeline.Success, error) {
		gotText, gotIdentity = rawText, identity
		gotRequestID = requestid.FromContext(ctx)

		return pipeline.Success{
			Summary:  "- point",
			Elapsed:  1500 * time.Millisecond,
			MemoryMB: fn.Some(42.5),
		}, nil
	})
	srv := newTestServer(t, Config{TrustXFF: true}, p, nil)

	resp, body := postSummarize(t, srv.URL, `{"text":"hello"}`, http.Header{
		"X-Forwarded-For": {"1.2.3.4, 10.0.0.1"},
		"X-Request-Id":    {"req-1"},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hello", gotText)
	require.Equal(t, "1.2.3.4", gotIdentity)
	require.Equal(t, "req-1", gotRequestID)
	require.Equal(t, "req-1", resp.Header.Get(requestIDHeader))
	require.Equal(t, "- point", body["summary"])
	require.Equal(t, false, body["cached"])
	require.InDelta(t, 1.5, body["elapsed_seconds"], 1e-9)
	require.InDelta(t, 42.5, body["memory_mb"], 1e-9)
}

func TestSummarizeCachedOmitsMemory(t *testing.T) {
	p := pipelineFunc(func(context.Context, string, string) (pipeline.Success, error) {
		return pipeline.Success{Summary: "- point", Cached: true}, nil
	})
	srv := newTestServer(t, Config{}, p, nil)

	resp, body := postSummarize(t, srv.URL, `{"text":"hello"}`, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["cached"])
	require.NotContains(t, body, "memory_mb")
}

func TestSummarizeErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantRetry  string
	}{
		{
			name:       "InvalidInput",
			err:        &pipeline.Error{Kind: pipeline.ErrInvalidInput, Message: "Input text is empty"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "RateLimited",
			err:        &pipeline.Error{Kind: pipeline.ErrRateLimited, Message: "Rate limit exceeded. Please try again later."},
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  "60",
		},
		{
			name: "Unavailable",
			err: &pipeline.Error{
				Kind:    pipeline.ErrSummarizationUnavailable,
				Message: "Unable to generate summary due to technical issues. Please try again later.",
				Err:     errors.New("upstream down"),
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := pipelineFunc(func(context.Context, string, string) (pipeline.Success, error) {
				return pipeline.Success{}, test.err
			})
			srv := newTestServer(t, Config{RetryAfter: time.Minute}, p, nil)

			resp, body := postSummarize(t, srv.URL, `{"text":"hello"}`, nil)

			require.Equal(t, test.wantStatus, resp.StatusCode)
			require.Equal(t, test.wantRetry, resp.Header.Get("Retry-After"))

			var perr *pipeline.Error
			require.ErrorAs(t, test.err, &perr)
			require.Equal(t, perr.Message, body["error"])
			require.NotContains(t, body["error"], "upstream down")
		})
	}
}

func TestSummarizeRejectsMalformedBody(t *testing.T) {
	called := false
	p := pipelineFunc(func(context.Context, string, string) (pipeline.Success, error) {
		called = true
		return pipeline.Success{}, nil
	})
	srv := newTestServer(t, Config{MaxBodyBytes: 64}, p, nil)

	resp, _ := postSummarize(t, srv.URL, `{"text":`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postSummarize(t, srv.URL, `{"text": 7}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postSummarize(t, srv.URL, `{"text":"`+strings.Repeat("a", 100)+`"}`, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	require.False(t, called)
}

func TestSummarizeMissingText(t *testing.T) {
	s := summarizer.Func(func(context.Context, string) (string, error) {
		return "- unused", nil
	})
	p := pipeline.New(
		cache.New(time.Minute),
		ratelimiter.New(3, time.Minute),
		s,
		pipeline.DefaultConfig(),
		discardLogger(),
	)
	srv := newTestServer(t, Config{RetryAfter: time.Minute}, p, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"Absent", `{}`, http.StatusBadRequest, msgMissingText},
		{"Null", `{"text":null}`, http.StatusBadRequest, msgMissingText},
		{"Blank", `{"text":"  "}`, http.StatusBadRequest, "Input text is empty"},
		{"AbsentStillRateLimited", `{}`, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later."},
	}

	for _, test := range tests {
		resp, body := postSummarize(t, srv.URL, test.body, nil)

		require.Equal(t, test.wantStatus, resp.StatusCode, test.name)
		require.Equal(t, test.wantError, body["error"], test.name)
	}
}

func TestSummarizeMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, Config{}, nil, nil)

	resp, err := http.Get(srv.URL + "/summarize")
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	require.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
}

func TestSummarizeEndToEnd(t *testing.T) {
	calls := 0
	s := summarizer.Func(func(context.Context, string) (string, error) {
		calls++
		return "- Budget approved", nil
	})

	memStats := stats.NewMemoryStore()
	p := pipeline.New(
		cache.New(time.Minute),
		ratelimiter.New(2, time.Minute),
		s,
		pipeline.DefaultConfig(),
		discardLogger(),
		pipeline.WithRecorder(memStats),
	)
	srv := newTestServer(t, Config{RetryAfter: time.Minute}, p, memStats)

	resp, body := postSummarize(t, srv.URL, `{}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, msgMissingText, body["error"])

	resp, body = postSummarize(t, srv.URL, `{"text":"  Alice: budget approved.  "}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "- Budget approved", body["summary"])
	require.Equal(t, false, body["cached"])

	resp, _ = postSummarize(t, srv.URL, `{"text":"Alice: budget approved."}`, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "60", resp.Header.Get("Retry-After"))
	require.Equal(t, 1, calls)

	statsResp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()

	var snap stats.Snapshot
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&snap))
	require.EqualValues(t, 3, snap.Total)
	require.EqualValues(t, 1, snap.ByOutcome[stats.OutcomeOK])
	require.EqualValues(t, 1, snap.ByOutcome[stats.OutcomeInvalidInput])
	require.EqualValues(t, 1, snap.ByOutcome[stats.OutcomeRateLimited])
}

func TestConcurrencyLimit(t *testing.T) {
	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})

	p := pipelineFunc(func(context.Context, string, string) (pipeline.Success, error) {
		once.Do(func() { close(started) })
		<-release
		return pipeline.Success{Summary: "- point"}, nil
	})
	srv := newTestServer(t, Config{ConcurrencyMax: 1}, p, nil)

	done := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/summarize", "application/json", strings.NewReader(`{"text":"a"}`))
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()
	<-started

	resp, _ := postSummarize(t, srv.URL, `{"text":"b"}`, nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	close(release)
	require.Equal(t, http.StatusOK, <-done)
}

func TestRetryAfterSeconds(t *testing.T) {
	require.Equal(t, "60", retryAfterSeconds(time.Minute))
	require.Equal(t, "2", retryAfterSeconds(1500*time.Millisecond))
	require.Equal(t, "1", retryAfterSeconds(0))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s := New(Config{ListenAddr: "127.0.0.1:0"}, nil, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe(ctx) }()

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop after cancel")
	}
}
