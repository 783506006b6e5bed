package summariser

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicSummariser struct {
	client anthropic.Client
	model  anthropic.Model
	maxIn  int
}

func newAnthropicSummariser(cfg Config) Summariser {
	model := anthropic.Model(cfg.Model)
	if cfg.Model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}
	return &anthropicSummariser{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  model,
		maxIn:  cfg.MaxInputChars,
	}
}

func (s *anthropicSummariser) Summarise(ctx context.Context, text string) (Summary, error) {
	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(text, s.maxIn))),
		},
	})
	if err != nil {
		return Summary{}, err
	}
	if len(resp.Content) == 0 {
		return Summary{}, nil
	}
	return parseSummary(resp.Content[0].Text)
}
