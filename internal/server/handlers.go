package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"meetsum/internal/pipeline"
	"meetsum/internal/ratelimiter"
	"meetsum/internal/requestid"
)

const (
	homeMessage    = "meetsum summarizer API is running"
	msgMissingText = "Missing 'text' in request"
)

type summarizeRequest struct {
	// Text is nil when the field is absent or null.
	Text *string `json:"text"`
}

type summarizeResponse struct {
	Summary        string   `json:"summary"`
	Cached         bool     `json:"cached"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	MemoryMB       *float64 `json:"memory_mb,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]string{"message": homeMessage})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, r, http.StatusOK, s.stats.Snapshot())
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	ctx := r.Context()

	var req summarizeRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.log.WarnContext(ctx, "Failed to decode summarize request",
			"error", err,
			"requestID", requestid.FromContext(ctx))

		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.writeJSON(w, r, http.StatusRequestEntityTooLarge,
				errorResponse{Error: "Request body is too large"})
			return
		}

		s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "Request body must be JSON with a 'text' field"})
		return
	}

	identity := ratelimiter.Identity(r, s.cfg.TrustXFF)

	var text string
	if req.Text != nil {
		text = *req.Text
	}

	res, err := s.pipeline.HandleSummarizeRequest(ctx, text, identity)
	if err != nil {
		if req.Text == nil && errors.Is(err, pipeline.ErrInvalidInput) {
			s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: msgMissingText})
			return
		}

		s.writePipelineError(w, r, err)
		return
	}

	resp := summarizeResponse{
		Summary:        res.Summary,
		Cached:         res.Cached,
		ElapsedSeconds: res.Elapsed.Seconds(),
	}
	res.MemoryMB.WhenSome(func(mb float64) {
		resp.MemoryMB = &mb
	})

	s.writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	message := "Unable to generate summary due to technical issues. Please try again later."
	var perr *pipeline.Error
	if errors.As(err, &perr) {
		message = perr.Message
	}

	switch {
	case errors.Is(err, pipeline.ErrInvalidInput):
		s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: message})
	case errors.Is(err, pipeline.ErrRateLimited):
		w.Header().Set("Retry-After", retryAfterSeconds(s.cfg.RetryAfter))
		s.writeJSON(w, r, http.StatusTooManyRequests, errorResponse{Error: message})
	default:
		s.writeJSON(w, r, http.StatusServiceUnavailable, errorResponse{Error: message})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WarnContext(r.Context(), "Failed to write response",
			"error", err,
			"requestID", requestid.FromContext(r.Context()),
			"status", status)
	}
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

// retryAfterSeconds rounds up so clients never retry inside the window.
func retryAfterSeconds(d time.Duration) string {
	return strconv.FormatInt(int64(math.Max(1, math.Ceil(d.Seconds()))), 10)
}
