package reindex

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresCheckpointStore is the production CheckpointStore.
type postgresCheckpointStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCheckpointStore bootstraps the reindex_checkpoints and
// consistency_logs tables named in the persisted-state layout and returns
// a CheckpointStore backed by pool.
func NewPostgresCheckpointStore(ctx context.Context, pool *pgxpool.Pool) (CheckpointStore, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reindex_checkpoints (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			reindexed INT NOT NULL,
			ran_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS reindex_checkpoints_user ON reindex_checkpoints(user_id, ran_at DESC)`,
		`CREATE TABLE IF NOT EXISTS consistency_logs (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			active BIGINT NOT NULL,
			indexed BIGINT NOT NULL,
			drift DOUBLE PRECISION NOT NULL,
			ran_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS consistency_logs_user ON consistency_logs(user_id, ran_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, err
		}
	}
	return &postgresCheckpointStore{pool: pool}, nil
}

func (s *postgresCheckpointStore) RecordCheckpoint(ctx context.Context, c Checkpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reindex_checkpoints (user_id, reindexed, ran_at) VALUES ($1, $2, $3)
	`, c.UserID, c.Reindexed, c.RanAt)
	return err
}

func (s *postgresCheckpointStore) RecordConsistencyLog(ctx context.Context, l ConsistencyLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO consistency_logs (user_id, active, indexed, drift, ran_at) VALUES ($1, $2, $3, $4, $5)
	`, l.UserID, l.Active, l.Indexed, l.Drift, l.RanAt)
	return err
}
