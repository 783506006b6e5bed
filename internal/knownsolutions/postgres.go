package knownsolutions

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresStore is the production Store.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore bootstraps the known_solutions table and returns a Store
// backed by pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	stmt := `CREATE TABLE IF NOT EXISTS known_solutions (
		user_id TEXT NOT NULL,
		problem_hash TEXT NOT NULL,
		memory_id TEXT NOT NULL,
		success_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, problem_hash)
	)`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return nil, err
	}
	return &postgresStore{pool: pool}, nil
}

func (s *postgresStore) Upsert(ctx context.Context, userID, problemHash, memoryID string) (KnownSolution, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO known_solutions (user_id, problem_hash, memory_id, success_count, created_at, updated_at)
		VALUES ($1, $2, $3, 1, now(), now())
		ON CONFLICT (user_id, problem_hash) DO UPDATE SET
			memory_id = EXCLUDED.memory_id,
			success_count = known_solutions.success_count + 1,
			updated_at = now()
		RETURNING user_id, problem_hash, memory_id, success_count, created_at, updated_at
	`, userID, problemHash, memoryID)
	return scanKnownSolution(row)
}

func (s *postgresStore) Get(ctx context.Context, userID, problemHash string) (KnownSolution, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, problem_hash, memory_id, success_count, created_at, updated_at
		FROM known_solutions WHERE user_id = $1 AND problem_hash = $2
	`, userID, problemHash)
	ks, err := scanKnownSolution(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return KnownSolution{}, false, nil
		}
		return KnownSolution{}, false, err
	}
	return ks, true, nil
}

func scanKnownSolution(row pgx.Row) (KnownSolution, error) {
	var ks KnownSolution
	err := row.Scan(&ks.UserID, &ks.ProblemHash, &ks.MemoryID, &ks.SuccessCount, &ks.CreatedAt, &ks.UpdatedAt)
	return ks, err
}
