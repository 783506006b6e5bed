package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
)

// Config is loaded once at process start by Load and passed down. Apart
// from docregistry's headless-Chrome fetcher, which reads CHROME_PATH, no
// package below main reads an environment variable directly.
type Config struct {
	Workdir  string
	LogPath  string
	LogLevel string

	Postgres   PostgresConfig
	Qdrant     QdrantConfig
	Redis      RedisConfig
	Blobs      BlobStoreConfig
	ClickHouse ClickHouseConfig

	Embedding  EmbeddingConfig
	Summariser SummariserConfig
	Rerank     RerankConfig
	Breakers   BreakersConfig

	Search      SearchConfig
	DocRegistry DocRegistryConfig
	Reindex     ReindexConfig

	Obs ObsConfig
}

// PostgresConfig is the backing store for memory items, known solutions,
// and reindex checkpoints.
type PostgresConfig struct {
	DSN string
}

// QdrantConfig points the vector index adapter at a collection.
type QdrantConfig struct {
	DSN        string
	Collection string
	Dimensions int
	Metric     string // "cosine", "dot", or "euclid"; blank defaults to cosine
}

// RedisConfig backs the Document Registry's dedup fast-path cache.
type RedisConfig struct {
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
	TTLSeconds            int
}

// BlobStoreConfig is the optional S3-compatible raw-document side-store.
// Zero value (empty Bucket) means no blob store is used.
type BlobStoreConfig struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Prefix       string
}

// ClickHouseConfig backs the outcome-audit sink. Zero value (empty DSN)
// means audit events are dropped by a no-op sink.
type ClickHouseConfig struct {
	DSN            string
	Database       string
	Table          string
	TimeoutSeconds int
}

// EmbeddingConfig points at the embedding HTTP endpoint shared by ingestion
// and the Document Registry's chunk embedder.
type EmbeddingConfig struct {
	BaseURL   string
	Path      string
	Model     string
	Timeout   int // seconds
	APIHeader string
	APIKey    string
	Headers   map[string]string
}

// SummariserConfig selects and authenticates the bilingual summary LLM used
// by the Document Registry. Provider is one of "", "anthropic", "openai",
// "google"; blank disables summarisation.
type SummariserConfig struct {
	Provider string
	APIKey   string
	Model    string
}

// RerankConfig points at the optional cross-encoder reranker endpoint.
// Blank Endpoint disables reranking.
type RerankConfig struct {
	Endpoint      string
	APIKey        string
	TimeoutMs     int
	MaxInputChars int
}

// BreakerConfig mirrors one `circuit_breakers.<name>` block.
type BreakerConfig struct {
	FailureThreshold uint32
	SuccessThreshold uint32
	OpenDurationMs   int
}

// BreakersConfig holds one BreakerConfig per external dependency the core
// calls through a circuit breaker.
type BreakersConfig struct {
	Lexical   BreakerConfig
	Vector    BreakerConfig
	Rerank    BreakerConfig
	Embedding BreakerConfig
}

// SearchConfig tunes the Hybrid Search Service pipeline.
type SearchConfig struct {
	DeadlineSeconds      int
	DefaultLimit         int
	CandidateMultiplier  int
	EntityPreFilterCap   int
	RerankK              int
	RerankMaxInputChars  int
	OriginalWeight       float64
	CEWeight             float64
	VectorModalityWeight float64
	TextModalityWeight   float64
	DriftThreshold       float64
}

// DocRegistryConfig tunes the Document Registry worker; its cache and blob
// store reuse the top-level Redis and Blobs settings.
type DocRegistryConfig struct {
	FetchTimeoutSeconds int
	QueueSize           int
	FetchesPerSecond    float64
}

// ReindexConfig tunes the reindex sweeper. IntervalSeconds is loaded but no
// component reads it; sweeps run only when the search drift diagnostic
// triggers them.
type ReindexConfig struct {
	BatchSize       int
	DriftThreshold  float64
	IntervalSeconds int
}

// ObsConfig controls OpenTelemetry export.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// Load reads configuration from environment variables, optionally overlaid
// from a .env file in the working directory. Use Overload so .env values
// take precedence over any pre-existing OS environment, letting a repo's
// local .env deterministically control development runs.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.Workdir = strings.TrimSpace(os.Getenv("WORKDIR"))
	cfg.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))
	cfg.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
		pterm.Info.Println("LOG_LEVEL not set, defaulting to \"info\".")
	}

	cfg.Postgres.DSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	if cfg.Postgres.DSN == "" {
		pterm.Warning.Println("POSTGRES_DSN not set; memory store falls back to the in-memory backend.")
	}

	cfg.Qdrant.DSN = strings.TrimSpace(os.Getenv("QDRANT_DSN"))
	cfg.Qdrant.Collection = firstNonEmpty(strings.TrimSpace(os.Getenv("QDRANT_COLLECTION")), "memory_items")
	cfg.Qdrant.Dimensions = intFromEnv("QDRANT_DIMENSIONS", 768)
	cfg.Qdrant.Metric = firstNonEmpty(strings.TrimSpace(os.Getenv("QDRANT_METRIC")), "cosine")

	cfg.Redis.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.Redis.DB = intFromEnv("REDIS_DB", 0)
	cfg.Redis.TLSInsecureSkipVerify = boolFromEnv("REDIS_TLS_INSECURE_SKIP_VERIFY", false)
	cfg.Redis.TTLSeconds = intFromEnv("REDIS_CACHE_TTL_SECONDS", 300)

	cfg.Blobs.Bucket = strings.TrimSpace(os.Getenv("BLOB_BUCKET"))
	cfg.Blobs.Region = strings.TrimSpace(os.Getenv("BLOB_REGION"))
	cfg.Blobs.Endpoint = strings.TrimSpace(os.Getenv("BLOB_ENDPOINT"))
	cfg.Blobs.AccessKey = strings.TrimSpace(os.Getenv("BLOB_ACCESS_KEY"))
	cfg.Blobs.SecretKey = os.Getenv("BLOB_SECRET_KEY")
	cfg.Blobs.UsePathStyle = boolFromEnv("BLOB_USE_PATH_STYLE", false)
	cfg.Blobs.Prefix = strings.TrimSpace(os.Getenv("BLOB_PREFIX"))

	cfg.ClickHouse.DSN = strings.TrimSpace(os.Getenv("CLICKHOUSE_DSN"))
	cfg.ClickHouse.Database = firstNonEmpty(strings.TrimSpace(os.Getenv("CLICKHOUSE_DATABASE")), "default")
	cfg.ClickHouse.Table = firstNonEmpty(strings.TrimSpace(os.Getenv("CLICKHOUSE_TABLE")), "outcome_events")
	cfg.ClickHouse.TimeoutSeconds = intFromEnv("CLICKHOUSE_TIMEOUT_SECONDS", 5)
	if cfg.ClickHouse.DSN == "" {
		pterm.Info.Println("CLICKHOUSE_DSN not set; outcome audit events are dropped by the no-op sink.")
	}

	cfg.Embedding.BaseURL = strings.TrimSpace(os.Getenv("EMBED_BASE_URL"))
	cfg.Embedding.Path = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_PATH")), "/v1/embeddings")
	cfg.Embedding.Model = strings.TrimSpace(os.Getenv("EMBED_MODEL"))
	cfg.Embedding.Timeout = intFromEnv("EMBED_TIMEOUT_SECONDS", 30)
	cfg.Embedding.APIHeader = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_API_HEADER")), "Authorization")
	cfg.Embedding.APIKey = strings.TrimSpace(os.Getenv("EMBED_API_KEY"))
	if cfg.Embedding.APIKey == "" {
		pterm.Warning.Println("EMBED_API_KEY not set; embedding calls will likely be rejected by the endpoint.")
	}

	cfg.Summariser.Provider = strings.TrimSpace(os.Getenv("SUMMARISER_PROVIDER"))
	cfg.Summariser.APIKey = firstNonEmpty(
		strings.TrimSpace(os.Getenv("SUMMARISER_API_KEY")),
		strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
	)
	cfg.Summariser.Model = strings.TrimSpace(os.Getenv("SUMMARISER_MODEL"))
	if cfg.Summariser.Provider == "" {
		pterm.Info.Println("SUMMARISER_PROVIDER not set; fetched documents are stored without a bilingual summary.")
	}

	cfg.Rerank.Endpoint = strings.TrimSpace(os.Getenv("RERANK_ENDPOINT"))
	cfg.Rerank.APIKey = strings.TrimSpace(os.Getenv("RERANK_API_KEY"))
	cfg.Rerank.TimeoutMs = intFromEnv("RERANK_TIMEOUT_MS", 2000)
	cfg.Rerank.MaxInputChars = intFromEnv("RERANK_MAX_INPUT_CHARS", 2000)
	if cfg.Rerank.Endpoint == "" {
		pterm.Info.Println("RERANK_ENDPOINT not set; search results keep their original-signal order.")
	}

	cfg.Breakers.Lexical = breakerFromEnv("BREAKER_LEXICAL")
	cfg.Breakers.Vector = breakerFromEnv("BREAKER_VECTOR")
	cfg.Breakers.Rerank = breakerFromEnv("BREAKER_RERANK")
	cfg.Breakers.Embedding = breakerFromEnv("BREAKER_EMBEDDING")

	cfg.Search.DeadlineSeconds = intFromEnv("SEARCH_DEADLINE_SECONDS", 15)
	cfg.Search.DefaultLimit = intFromEnv("SEARCH_DEFAULT_LIMIT", 10)
	cfg.Search.CandidateMultiplier = intFromEnv("SEARCH_CANDIDATE_MULTIPLIER", 4)
	cfg.Search.EntityPreFilterCap = intFromEnv("SEARCH_ENTITY_PREFILTER_CAP", 200)
	cfg.Search.RerankK = intFromEnv("SEARCH_RERANK_K", 20)
	cfg.Search.RerankMaxInputChars = intFromEnv("SEARCH_RERANK_MAX_INPUT_CHARS", 2000)
	cfg.Search.OriginalWeight = floatFromEnv("SEARCH_ORIGINAL_WEIGHT", 0.7)
	cfg.Search.CEWeight = floatFromEnv("SEARCH_CE_WEIGHT", 0.3)
	cfg.Search.VectorModalityWeight = floatFromEnv("SEARCH_VECTOR_MODALITY_WEIGHT", 1.0)
	cfg.Search.TextModalityWeight = floatFromEnv("SEARCH_TEXT_MODALITY_WEIGHT", 1.0)
	cfg.Search.DriftThreshold = floatFromEnv("SEARCH_DRIFT_THRESHOLD", 0.2)

	cfg.DocRegistry.FetchTimeoutSeconds = intFromEnv("DOCREGISTRY_FETCH_TIMEOUT_SECONDS", 20)
	cfg.DocRegistry.QueueSize = intFromEnv("DOCREGISTRY_QUEUE_SIZE", 256)
	cfg.DocRegistry.FetchesPerSecond = floatFromEnv("DOCREGISTRY_FETCHES_PER_SECOND", 2)

	cfg.Reindex.BatchSize = intFromEnv("REINDEX_BATCH_SIZE", 100)
	cfg.Reindex.DriftThreshold = floatFromEnv("REINDEX_DRIFT_THRESHOLD", 0.2)
	cfg.Reindex.IntervalSeconds = intFromEnv("REINDEX_INTERVAL_SECONDS", 3600)

	cfg.Obs.OTLP = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.Obs.ServiceName = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), "memory-core")
	cfg.Obs.ServiceVersion = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_VERSION")), "dev")
	cfg.Obs.Environment = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_ENVIRONMENT")), "development")

	pterm.Success.Println("Configuration loaded successfully.")
	return cfg, nil
}

func breakerFromEnv(prefix string) BreakerConfig {
	return BreakerConfig{
		FailureThreshold: uint32(intFromEnv(prefix+"_FAILURE_THRESHOLD", 5)),
		SuccessThreshold: uint32(intFromEnv(prefix+"_SUCCESS_THRESHOLD", 2)),
		OpenDurationMs:   intFromEnv(prefix+"_OPEN_DURATION_MS", 30000),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
	}
	return def
}
