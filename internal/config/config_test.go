package config

import "testing"

func TestLoad_DefaultsWhenEnvUnset(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level default: got %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Qdrant.Collection != "memory_items" {
		t.Errorf("qdrant collection default: got %q", cfg.Qdrant.Collection)
	}
	if cfg.Qdrant.Metric != "cosine" {
		t.Errorf("qdrant metric default: got %q", cfg.Qdrant.Metric)
	}
	if cfg.Search.DefaultLimit != 10 {
		t.Errorf("search default limit: got %d, want 10", cfg.Search.DefaultLimit)
	}
	if cfg.Search.OriginalWeight != 0.7 || cfg.Search.CEWeight != 0.3 {
		t.Errorf("search weight defaults: got %v/%v", cfg.Search.OriginalWeight, cfg.Search.CEWeight)
	}
	if cfg.Reindex.IntervalSeconds != 3600 {
		t.Errorf("reindex interval default: got %d", cfg.Reindex.IntervalSeconds)
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("POSTGRES_DSN", "postgres://u:p@host/db")
	t.Setenv("QDRANT_DIMENSIONS", "1536")
	t.Setenv("SEARCH_DEFAULT_LIMIT", "25")
	t.Setenv("BREAKER_VECTOR_FAILURE_THRESHOLD", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level: got %q", cfg.LogLevel)
	}
	if cfg.Postgres.DSN != "postgres://u:p@host/db" {
		t.Errorf("postgres dsn: got %q", cfg.Postgres.DSN)
	}
	if cfg.Qdrant.Dimensions != 1536 {
		t.Errorf("qdrant dimensions: got %d", cfg.Qdrant.Dimensions)
	}
	if cfg.Search.DefaultLimit != 25 {
		t.Errorf("search default limit: got %d", cfg.Search.DefaultLimit)
	}
	if cfg.Breakers.Vector.FailureThreshold != 9 {
		t.Errorf("breaker vector failure threshold: got %d", cfg.Breakers.Vector.FailureThreshold)
	}
}

func TestLoad_SummariserAPIKeyFallsBackToProviderKeys(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Summariser.APIKey != "anthropic-secret" {
		t.Errorf("summariser api key: got %q, want fallback to ANTHROPIC_API_KEY", cfg.Summariser.APIKey)
	}
}

func TestLoad_InvalidIntEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("SEARCH_DEFAULT_LIMIT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Search.DefaultLimit != 10 {
		t.Errorf("search default limit should fall back to default on parse failure: got %d", cfg.Search.DefaultLimit)
	}
}
