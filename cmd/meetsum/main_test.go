package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"meetsum/internal/database"
	"meetsum/internal/pipeline"
	"meetsum/internal/server"
	"meetsum/internal/stats"
)

func fakeOpenAI(t *testing.T, summary string) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)

		text, _ := json.Marshal(summary)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"resp_1","object":"response","status":"completed","output":[` +
			`{"type":"message","id":"msg_1","role":"assistant","status":"completed",` +
			`"content":[{"type":"output_text","text":` + string(text) + `,"annotations":[]}]}]}`))
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func TestSummarizeCommand(t *testing.T) {
	api, calls := fakeOpenAI(t, "- Budget approved")
	dbPath := filepath.Join(t.TempDir(), "audit.sqlite")

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", api.URL+"/")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("MEETSUM_CONFIG", "")

	out, err := runCLI(t, "Alice: the budget is approved.", "summarize", "-")
	require.NoError(t, err)
	require.Contains(t, out, "- Budget approved")
	require.Contains(t, out, "cached: false")
	require.EqualValues(t, 1, calls.Load())

	transcript := filepath.Join(t.TempDir(), "meeting.txt")
	require.NoError(t, os.WriteFile(transcript, []byte("Bob: ship on Friday."), 0o600))

	out, err = runCLI(t, "", "summarize", transcript)
	require.NoError(t, err)
	require.Contains(t, out, "- Budget approved")

	out, err = runCLI(t, "", "stats", "--since", "1h")
	require.NoError(t, err)
	require.Contains(t, out, "OUTCOME")
	require.Contains(t, out, string(stats.OutcomeOK))
}

func TestSummarizeCommandRejectsEmptyInput(t *testing.T) {
	api, calls := fakeOpenAI(t, "- unused")

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", api.URL+"/")
	t.Setenv("DB_PATH", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("MEETSUM_CONFIG", "")

	_, err := runCLI(t, "   \n", "summarize")
	require.ErrorContains(t, err, "Input text is empty")
	require.Zero(t, calls.Load())
}

func TestSummarizeCommandRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("MEETSUM_CONFIG", "")

	_, err := runCLI(t, "text", "summarize")
	require.Error(t, err)
}

func TestStatsCommandRequiresDBPath(t *testing.T) {
	t.Setenv("DB_PATH", "")
	t.Setenv("MEETSUM_CONFIG", "")

	_, err := runCLI(t, "", "stats")
	require.ErrorContains(t, err, "DB_PATH")
}

func TestPrintOutcomeCounts(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printOutcomeCounts(&out, nil, time.Hour))
	require.Equal(t, "No requests in the last 1h0m0s.\n", out.String())

	out.Reset()
	require.NoError(t, printOutcomeCounts(&out, []database.OutcomeCount{
		{Outcome: stats.OutcomeOK, Count: 3, Cached: 1, AvgElapsedMs: 12.5},
	}, time.Hour))
	require.Contains(t, out.String(), "ok")
	require.Contains(t, out.String(), "12.5")
}

func TestMaxBodyBytesAdmitsLongestEscapedInput(t *testing.T) {
	const maxChars = 50_000

	var seenChars int
	p := pipelineFunc(func(_ context.Context, rawText string, _ string) (pipeline.Success, error) {
		seenChars = utf8.RuneCountInString(rawText)
		return pipeline.Success{Summary: "- point"}, nil
	})
	srv := httptest.NewServer(server.New(server.Config{MaxBodyBytes: maxBodyBytes(maxChars)},
		p, nil, slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(srv.Close)

	tests := []struct {
		name string
		char string
	}{
		{"SurrogatePairEscapes", `\ud83d\ude00`},
		{"ControlEscapes", `\u0001`},
		{"RawFourByteUTF8", "\U0001F600"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			seenChars = 0
			body := `{"text":"` + strings.Repeat(test.char, maxChars) + `"}`

			resp, err := http.Post(srv.URL+"/summarize", "application/json", strings.NewReader(body))
			require.NoError(t, err)
			resp.Body.Close()

			require.Equal(t, http.StatusOK, resp.StatusCode, "body of %d bytes", len(body))
			require.Equal(t, maxChars, seenChars)
		})
	}
}

type pipelineFunc func(ctx context.Context, rawText string, identity string) (pipeline.Success, error)

func (f pipelineFunc) HandleSummarizeRequest(
	ctx context.Context,
	rawText string,
	identity string,
) (pipeline.Success, error) {
	return f(ctx, rawText, identity)
}
