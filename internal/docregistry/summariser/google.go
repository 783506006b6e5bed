package summariser

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

var errGoogleClientUnavailable = errors.New("summariser: google client unavailable")

type googleSummariser struct {
	client *genai.Client
	model  string
	maxIn  int
}

func newGoogleSummariser(cfg Config) Summariser {
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		// Deferred: the error surfaces on first Summarise call instead of at
		// construction, keeping Build's signature uniform across providers.
		return &googleSummariser{model: model, maxIn: cfg.MaxInputChars}
	}
	return &googleSummariser{client: client, model: model, maxIn: cfg.MaxInputChars}
}

func (s *googleSummariser) Summarise(ctx context.Context, text string) (Summary, error) {
	if s.client == nil {
		return Summary{}, errGoogleClientUnavailable
	}
	result, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(buildPrompt(text, s.maxIn)), nil)
	if err != nil {
		return Summary{}, err
	}
	return parseSummary(result.Text())
}
