package summariser

import (
	"context"
	"strings"
	"testing"
)

func TestBuild_NoneProviderReturnsNoop(t *testing.T) {
	s, err := Build(Config{Provider: ProviderNone})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	summary, err := s.Summarise(context.Background(), "anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != (Summary{}) {
		t.Errorf("expected empty Summary from NoopSummariser, got %+v", summary)
	}
}

func TestBuild_UnsupportedProviderErrors(t *testing.T) {
	_, err := Build(Config{Provider: Provider("mistral")})
	if err == nil {
		t.Fatal("expected an error for an unrecognised provider")
	}
}

func TestBuild_KnownProvidersConstructWithoutError(t *testing.T) {
	for _, p := range []Provider{ProviderAnthropic, ProviderOpenAI, ProviderGoogle} {
		if _, err := Build(Config{Provider: p, APIKey: "key", Model: "model"}); err != nil {
			t.Errorf("Build(%q): unexpected error: %v", p, err)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 100); got != "short" {
		t.Errorf("expected short string untouched, got %q", got)
	}
	if got := truncate("abcdefgh", 4); got != "abcd" {
		t.Errorf("expected truncation to 4 chars, got %q", got)
	}
}

func TestBuildPrompt_TruncatesAndEmbedsDocument(t *testing.T) {
	prompt := buildPrompt("  hello world  ", 5)
	if !strings.Contains(prompt, "hello") {
		t.Errorf("expected prompt to contain the truncated document text, got %q", prompt)
	}
	if strings.Contains(prompt, "hello world") {
		t.Errorf("expected document text to be truncated before embedding, got %q", prompt)
	}
}

func TestParseSummary_StripsMarkdownFencesAndParsesJSON(t *testing.T) {
	raw := "```json\n" + `{"title_en":"T","title_he":"כ","summary_en":"S","summary_he":"ס","key_points_en":["a","b"],"key_points_he":["א","ב"]}` + "\n```"

	summary, err := parseSummary(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.TitleEN != "T" || summary.TitleHE != "כ" {
		t.Errorf("title fields mismatch: %+v", summary)
	}
	if len(summary.KeyPointsEN) != 2 || len(summary.KeyPointsHE) != 2 {
		t.Errorf("expected 2 key points per language, got %+v", summary)
	}
}

func TestParseSummary_InvalidJSONErrors(t *testing.T) {
	if _, err := parseSummary("not json"); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}
