// Command memoryd wires the memory retrieval and learning core's
// collaborators together and keeps its background workers (Document
// Registry ingestion, the knowledge-graph write buffer) alive. The core
// itself is a library: a host process embeds the Store/Search/KG/Outcomes
// facade built here and calls it in-process. memoryd has no network
// listener of its own; it exists to demonstrate the wiring and to run
// as a long-lived process hosting the goroutines those collaborators own.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"synapse/internal/breaker"
	"synapse/internal/config"
	"synapse/internal/docregistry"
	"synapse/internal/docregistry/summariser"
	"synapse/internal/kg"
	"synapse/internal/knownsolutions"
	"synapse/internal/lexical"
	"synapse/internal/observability"
	"synapse/internal/outcomes"
	"synapse/internal/rag/embedder"
	"synapse/internal/reindex"
	"synapse/internal/rerank"
	"synapse/internal/search"
	"synapse/internal/store"
	"synapse/internal/vectorindex"
)

// Core bundles every collaborator a host process needs to ingest, search,
// and record outcomes against one user's memory.
type Core struct {
	Store          store.MemoryStore
	Search         *search.Service
	KG             *kg.Service
	Outcomes       *outcomes.Recorder
	DocRegistry    *docregistry.Registry
	KnownSolutions *knownsolutions.Service
	Reindex        *reindex.Sweeper

	pgPool *pgxpool.Pool
}

// Close releases every pooled connection and stops the Document Registry's
// background worker.
func (c *Core) Close() {
	if c.DocRegistry != nil {
		c.DocRegistry.Close()
	}
	if c.pgPool != nil {
		c.pgPool.Close()
	}
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	shutdownOTel, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := buildCore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire memory core")
	}
	defer core.Close()

	log.Info().Msg("memoryd started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("memoryd shutting down")
}

func buildCore(ctx context.Context, cfg config.Config) (*Core, error) {
	var memories store.MemoryStore
	var pgPool *pgxpool.Pool

	if cfg.Postgres.DSN != "" {
		pool, err := newPgPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		pgPool = pool
		memories, err = store.NewPostgres(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("bootstrap memory store: %w", err)
		}
	} else {
		memories = store.NewInMemory()
	}

	if cfg.Qdrant.DSN == "" {
		return nil, fmt.Errorf("QDRANT_DSN is required: the core has no in-memory vector backend")
	}
	vectorBackend, err := vectorindex.NewQdrantBackend(ctx, cfg.Qdrant.DSN, cfg.Qdrant.Collection, cfg.Qdrant.Dimensions, cfg.Qdrant.Metric)
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	vectorBreaker := breaker.New(breaker.Config{
		Name:             "vectorindex",
		FailureThreshold: cfg.Breakers.Vector.FailureThreshold,
		SuccessThreshold: cfg.Breakers.Vector.SuccessThreshold,
		OpenDurationMs:   cfg.Breakers.Vector.OpenDurationMs,
	})
	vectors := vectorindex.New(vectorBackend, vectorBreaker, 2*time.Second)

	lexicalBreaker := breaker.New(breaker.Config{
		Name:             "lexical",
		FailureThreshold: cfg.Breakers.Lexical.FailureThreshold,
		SuccessThreshold: cfg.Breakers.Lexical.SuccessThreshold,
		OpenDurationMs:   cfg.Breakers.Lexical.OpenDurationMs,
	})
	lex := lexical.New(memories, lexicalBreaker)

	emb := embedder.NewClient(config.EmbeddingConfig{
		BaseURL:   cfg.Embedding.BaseURL,
		Path:      cfg.Embedding.Path,
		Model:     cfg.Embedding.Model,
		Timeout:   cfg.Embedding.Timeout,
		APIHeader: cfg.Embedding.APIHeader,
		APIKey:    cfg.Embedding.APIKey,
		Headers:   cfg.Embedding.Headers,
	}, cfg.Qdrant.Dimensions)

	rerankBreaker := breaker.New(breaker.Config{
		Name:             "rerank",
		FailureThreshold: cfg.Breakers.Rerank.FailureThreshold,
		SuccessThreshold: cfg.Breakers.Rerank.SuccessThreshold,
		OpenDurationMs:   cfg.Breakers.Rerank.OpenDurationMs,
	})
	reranker := rerank.New(rerank.Config{
		Endpoint:      cfg.Rerank.Endpoint,
		APIKey:        cfg.Rerank.APIKey,
		TimeoutMs:     cfg.Rerank.TimeoutMs,
		MaxInputChars: cfg.Rerank.MaxInputChars,
	}, rerankBreaker)

	var checkpoints reindex.CheckpointStore
	if pgPool != nil {
		cs, err := reindex.NewPostgresCheckpointStore(ctx, pgPool)
		if err != nil {
			return nil, fmt.Errorf("bootstrap reindex checkpoints: %w", err)
		}
		checkpoints = cs
	} else {
		checkpoints = reindex.NewMemoryCheckpointStore()
	}
	sweeper := reindex.New(memories, emb, vectors, checkpoints, cfg.Reindex.BatchSize, cfg.Reindex.DriftThreshold)

	searchCfg := search.Config{
		Deadline:             time.Duration(cfg.Search.DeadlineSeconds) * time.Second,
		DefaultLimit:         cfg.Search.DefaultLimit,
		CandidateMultiplier:  cfg.Search.CandidateMultiplier,
		EntityPreFilterCap:   cfg.Search.EntityPreFilterCap,
		RerankK:              cfg.Search.RerankK,
		RerankMaxInputChars:  cfg.Search.RerankMaxInputChars,
		OriginalWeight:       cfg.Search.OriginalWeight,
		CEWeight:             cfg.Search.CEWeight,
		VectorModalityWeight: cfg.Search.VectorModalityWeight,
		TextModalityWeight:   cfg.Search.TextModalityWeight,
		DriftThreshold:       cfg.Search.DriftThreshold,
	}
	searchSvc := search.New(lex, vectors, emb, reranker, searchCfg, sweeper.Hook())

	var kgStore kg.Store
	if pgPool != nil {
		ks, err := kg.NewPostgresStore(ctx, pgPool)
		if err != nil {
			return nil, fmt.Errorf("bootstrap knowledge graph store: %w", err)
		}
		kgStore = ks
	} else {
		kgStore = kg.NewMemoryStore()
	}
	kgSvc := kg.New(kgStore, false)

	var auditSink outcomes.AuditSink = outcomes.NoopAuditSink{}
	if cfg.ClickHouse.DSN != "" {
		sink, err := outcomes.NewClickHouseSink(ctx, outcomes.ClickHouseConfig{
			DSN:            cfg.ClickHouse.DSN,
			Database:       cfg.ClickHouse.Database,
			Table:          cfg.ClickHouse.Table,
			TimeoutSeconds: cfg.ClickHouse.TimeoutSeconds,
		})
		if err != nil {
			return nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		if sink != nil {
			auditSink = sink
		}
	}
	recorder := outcomes.NewRecorder(memories, auditSink)

	var knownStore knownsolutions.Store
	if pgPool != nil {
		ks, err := knownsolutions.NewPostgresStore(ctx, pgPool)
		if err != nil {
			return nil, fmt.Errorf("bootstrap known solutions store: %w", err)
		}
		knownStore = ks
	} else {
		knownStore = knownsolutions.NewMemoryStore()
	}
	knownSvc := knownsolutions.New(knownStore, memories)

	var docStore docregistry.Store
	if pgPool != nil {
		ds, err := docregistry.NewPostgresStore(ctx, pgPool)
		if err != nil {
			return nil, fmt.Errorf("bootstrap document registry store: %w", err)
		}
		docStore = ds
	} else {
		docStore = docregistry.NewMemoryStore()
	}
	registry, err := docregistry.New(ctx, docregistry.Config{
		Cache: docregistry.CacheConfig{
			Addr:                  cfg.Redis.Addr,
			Password:              cfg.Redis.Password,
			DB:                    cfg.Redis.DB,
			TLSInsecureSkipVerify: cfg.Redis.TLSInsecureSkipVerify,
			TTL:                   time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		},
		Blobs: docregistry.BlobStoreConfig{
			Bucket:       cfg.Blobs.Bucket,
			Region:       cfg.Blobs.Region,
			Endpoint:     cfg.Blobs.Endpoint,
			AccessKey:    cfg.Blobs.AccessKey,
			SecretKey:    cfg.Blobs.SecretKey,
			UsePathStyle: cfg.Blobs.UsePathStyle,
			Prefix:       cfg.Blobs.Prefix,
		},
		Summariser: summariser.Config{
			Provider: summariser.Provider(cfg.Summariser.Provider),
			APIKey:   cfg.Summariser.APIKey,
			Model:    cfg.Summariser.Model,
		},
		FetchTimeout:     time.Duration(cfg.DocRegistry.FetchTimeoutSeconds) * time.Second,
		QueueSize:        cfg.DocRegistry.QueueSize,
		FetchesPerSecond: cfg.DocRegistry.FetchesPerSecond,
	}, docStore, memories, emb, vectors)
	if err != nil {
		return nil, fmt.Errorf("start document registry: %w", err)
	}

	return &Core{
		Store:          memories,
		Search:         searchSvc,
		KG:             kgSvc,
		Outcomes:       recorder,
		DocRegistry:    registry,
		KnownSolutions: knownSvc,
		Reindex:        sweeper,
		pgPool:         pgPool,
	}, nil
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = 8
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
