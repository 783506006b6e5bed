// Package summariser provides the pluggable bilingual document summariser
// the Document Registry worker calls after chunking (§4.8): title, a 2-3
// sentence summary, and 5-8 key points, each in English and Hebrew.
package summariser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Summary is a bilingual document summary.
type Summary struct {
	TitleEN     string
	TitleHE     string
	SummaryEN   string
	SummaryHE   string
	KeyPointsEN []string
	KeyPointsHE []string
}

// Summariser turns document text into a bilingual Summary.
type Summariser interface {
	Summarise(ctx context.Context, text string) (Summary, error)
}

// Provider selects the backend Build constructs.
type Provider string

const (
	ProviderNone      Provider = ""
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogle    Provider = "google"
)

// Config selects and configures one backend.
type Config struct {
	Provider Provider
	APIKey   string
	Model    string

	// MaxInputChars truncates oversized documents before they reach the
	// prompt; 0 uses a 12000-char default (roughly the EN+HE summary
	// prompt's comfortable context budget).
	MaxInputChars int
}

// Build constructs a Summariser based on cfg.Provider, mirroring the
// teacher's single-switch provider factory. An empty provider returns a
// NoopSummariser so the worker still completes without a configured LLM.
func Build(cfg Config) (Summariser, error) {
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = 12000
	}
	switch cfg.Provider {
	case ProviderNone:
		return NoopSummariser{}, nil
	case ProviderAnthropic:
		return newAnthropicSummariser(cfg), nil
	case ProviderOpenAI:
		return newOpenAISummariser(cfg), nil
	case ProviderGoogle:
		return newGoogleSummariser(cfg), nil
	default:
		return nil, fmt.Errorf("summariser: unsupported provider %q", cfg.Provider)
	}
}

// NoopSummariser returns an empty Summary; used when no LLM is configured.
type NoopSummariser struct{}

func (NoopSummariser) Summarise(context.Context, string) (Summary, error) { return Summary{}, nil }

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

const promptTemplate = `Summarise the following document. Respond with a single JSON object, no markdown fences, with exactly these fields:
{"title_en": "...", "title_he": "...", "summary_en": "2-3 sentences", "summary_he": "2-3 sentences in Hebrew", "key_points_en": ["...", ...], "key_points_he": ["...", ...]}
Provide 5 to 8 key points in each language.

Document:
%s`

func buildPrompt(text string, maxInputChars int) string {
	return fmt.Sprintf(promptTemplate, truncate(strings.TrimSpace(text), maxInputChars))
}

func parseSummary(raw string) (Summary, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var payload struct {
		TitleEN     string   `json:"title_en"`
		TitleHE     string   `json:"title_he"`
		SummaryEN   string   `json:"summary_en"`
		SummaryHE   string   `json:"summary_he"`
		KeyPointsEN []string `json:"key_points_en"`
		KeyPointsHE []string `json:"key_points_he"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Summary{}, fmt.Errorf("summariser: parse response: %w", err)
	}
	return Summary{
		TitleEN:     payload.TitleEN,
		TitleHE:     payload.TitleHE,
		SummaryEN:   payload.SummaryEN,
		SummaryHE:   payload.SummaryHE,
		KeyPointsEN: payload.KeyPointsEN,
		KeyPointsHE: payload.KeyPointsHE,
	}, nil
}
