package outcomes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"
)

// ClickHouseConfig configures the outcome-audit sink.
type ClickHouseConfig struct {
	DSN            string
	Database       string
	Table          string
	TimeoutSeconds int
}

type clickhouseSink struct {
	conn    clickhouse.Conn
	table   string
	timeout time.Duration
}

// NewClickHouseSink opens a connection, bootstraps the audit table, and
// returns an AuditSink backed by it. Returns (nil, nil) when cfg.DSN is
// blank — the caller should fall back to NoopAuditSink.
func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig) (AuditSink, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, nil
	}

	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if cfg.Database != "" {
		opts.Auth.Database = cfg.Database
	} else if opts.Auth.Database == "" {
		opts.Auth.Database = "synapse"
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = "outcome_audit"
	}

	ctxPing, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Ping(ctxPing); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	if err := createOutcomeAuditTableIfNotExists(ctxPing, conn, opts.Auth.Database, table); err != nil {
		return nil, err
	}

	return &clickhouseSink{conn: conn, table: fmt.Sprintf("%s.%s", opts.Auth.Database, table), timeout: timeout}, nil
}

func createOutcomeAuditTableIfNotExists(ctx context.Context, conn clickhouse.Conn, db, table string) error {
	sql := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s.%s (
	Timestamp DateTime64(9),
	MemoryId String,
	UserId String,
	Outcome LowCardinality(String),
	ScoreDelta Float64,
	NewWilson Float64,
	Context Map(LowCardinality(String), String)
) ENGINE = MergeTree()
ORDER BY (UserId, MemoryId, Timestamp)
TTL Timestamp + INTERVAL 180 DAY
SETTINGS index_granularity = 8192
`, db, table)
	if err := conn.Exec(ctx, sql); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("create outcome audit table: %w", err)
		}
	}
	log.Info().Str("table", fmt.Sprintf("%s.%s", db, table)).Msg("outcome audit table ready")
	return nil
}

func (c *clickhouseSink) Append(ctx context.Context, rec AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if rec.Context == nil {
		rec.Context = map[string]string{}
	}
	sql := fmt.Sprintf(`INSERT INTO %s (Timestamp, MemoryId, UserId, Outcome, ScoreDelta, NewWilson, Context) VALUES (?,?,?,?,?,?,?)`, c.table)
	return c.conn.Exec(ctx, sql, rec.RecordedAt, rec.MemoryID, rec.UserID, string(rec.Outcome), rec.ScoreDelta, rec.NewWilson, rec.Context)
}
