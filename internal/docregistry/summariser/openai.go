package summariser

import (
	"context"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

type openaiSummariser struct {
	client openai.Client
	model  openai.ChatModel
	maxIn  int
}

func newOpenAISummariser(cfg Config) Summariser {
	model := openai.ChatModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.ChatModelGPT4oMini
	}
	return &openaiSummariser{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  model,
		maxIn:  cfg.MaxInputChars,
	}
}

func (s *openaiSummariser) Summarise(ctx context.Context, text string) (Summary, error) {
	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: s.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(buildPrompt(text, s.maxIn)),
		},
	})
	if err != nil {
		return Summary{}, err
	}
	if len(resp.Choices) == 0 {
		return Summary{}, nil
	}
	return parseSummary(resp.Choices[0].Message.Content)
}
