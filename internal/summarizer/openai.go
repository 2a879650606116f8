package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

const (
	DefaultModel = "gpt-3.5-turbo"

	baseMaxOutputTokens  int64 = 500
	limitMaxOutputTokens int64 = 2048
	temperature                = 0.3

	systemPrompt = "You are a helpful assistant that creates concise, clear summaries " +
		"of meeting transcripts. Provide summaries in 3-5 bullet points."
	userPromptPrefix = "Please summarize this meeting transcript:\n\n"
)

// OpenAISummarizer calls OpenAI's Responses API to produce summaries.
type OpenAISummarizer struct {
	client openai.Client
	model  string
}

type OpenAIConfig struct {
	APIKey string
	// Model defaults to DefaultModel.
	Model string
	// BaseURL points the client at an OpenAI compatible endpoint.
	BaseURL string
}

// NewOpenAISummarizer builds a new summarizer instance.
func NewOpenAISummarizer(cfg OpenAIConfig) (*OpenAISummarizer, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("API key is empty")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAISummarizer{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// Summarize produces a bullet point summary of a meeting transcript. An empty
// model output is returned as is and left for the caller to judge.
func (s *OpenAISummarizer) Summarize(
	ctx context.Context,
	text string,
) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("input is empty")
	}

	maxOutputTokens := baseMaxOutputTokens
	for {
		resp, err := s.client.Responses.New(ctx, responses.ResponseNewParams{
			Model:           s.model,
			MaxOutputTokens: openai.Int(maxOutputTokens),
			Temperature:     openai.Float(temperature),
			Instructions:    openai.String(systemPrompt),
			Input: responses.ResponseNewParamsInputUnion{
				OfString: openai.String(userPromptPrefix + text),
			},
		})
		if err != nil {
			return "", fmt.Errorf("do request: %w", err)
		}

		if resp.Status == "incomplete" {
			if resp.IncompleteDetails.Reason == "max_output_tokens" && maxOutputTokens < limitMaxOutputTokens {
				maxOutputTokens = min(maxOutputTokens*2, limitMaxOutputTokens)
				continue
			}
			return "", fmt.Errorf(
				"response is incomplete (reason = %s, maxOutputTokens = %d)",
				resp.IncompleteDetails.Reason,
				maxOutputTokens,
			)
		}

		return strings.TrimSpace(resp.OutputText()), nil
	}
}
