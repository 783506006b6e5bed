package docregistry

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresStore is the production registry Store, following the same
// bootstrap-with-CREATE-IF-NOT-EXISTS convention as store.postgresStore.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Postgres-backed Store.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	s := &postgresStore{pool: pool}
	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *postgresStore) bootstrap(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS document_registry (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			url TEXT NOT NULL,
			url_hash TEXT NOT NULL,
			content_hash TEXT NOT NULL DEFAULT '',
			duplicate_of_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			summary JSONB NOT NULL DEFAULT '{}',
			memory_ids TEXT[] NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT '',
			processing_time_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS document_registry_url_hash_idx
			ON document_registry (user_id, url_hash);
		CREATE INDEX IF NOT EXISTS document_registry_content_hash_idx
			ON document_registry (user_id, content_hash);
		CREATE INDEX IF NOT EXISTS document_registry_status_idx
			ON document_registry (user_id, status);
	`)
	return err
}

func (s *postgresStore) Insert(ctx context.Context, e Entry) error {
	return s.upsert(ctx, e)
}

func (s *postgresStore) Update(ctx context.Context, e Entry) error {
	return s.upsert(ctx, e)
}

func (s *postgresStore) upsert(ctx context.Context, e Entry) error {
	summary, err := json.Marshal(e.Summary)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO document_registry (
			id, user_id, url, url_hash, content_hash, duplicate_of_id, status,
			title, summary, memory_ids, error, processing_time_ms, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
		ON CONFLICT (id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			duplicate_of_id = EXCLUDED.duplicate_of_id,
			status = EXCLUDED.status,
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			memory_ids = EXCLUDED.memory_ids,
			error = EXCLUDED.error,
			processing_time_ms = EXCLUDED.processing_time_ms,
			updated_at = now()`,
		e.ID, e.UserID, e.URL, e.URLHash, e.ContentHash, e.DuplicateOfID, string(e.Status),
		e.Title, summary, e.MemoryIDs, e.Error, e.ProcessingTimeMs)
	return err
}

func (s *postgresStore) GetByURLHash(ctx context.Context, userID, urlHash string) (Entry, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, url, url_hash, content_hash, duplicate_of_id, status,
			title, summary, memory_ids, error, processing_time_ms, created_at, updated_at
		FROM document_registry WHERE user_id=$1 AND url_hash=$2`, userID, urlHash)
	return scanEntry(row)
}

func (s *postgresStore) GetByContentHash(ctx context.Context, userID, contentHash string) (Entry, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, url, url_hash, content_hash, duplicate_of_id, status,
			title, summary, memory_ids, error, processing_time_ms, created_at, updated_at
		FROM document_registry WHERE user_id=$1 AND content_hash=$2 AND status='complete'
		LIMIT 1`, userID, contentHash)
	return scanEntry(row)
}

func (s *postgresStore) GetByID(ctx context.Context, userID, id string) (Entry, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, url, url_hash, content_hash, duplicate_of_id, status,
			title, summary, memory_ids, error, processing_time_ms, created_at, updated_at
		FROM document_registry WHERE user_id=$1 AND id=$2`, userID, id)
	return scanEntry(row)
}

func (s *postgresStore) ListResumable(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, url, url_hash, content_hash, duplicate_of_id, status,
			title, summary, memory_ids, error, processing_time_ms, created_at, updated_at
		FROM document_registry
		WHERE user_id=$1 AND status IN ('queued','processing')
		ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, ok, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, bool, error) {
	var e Entry
	var status string
	var summary []byte
	err := row.Scan(&e.ID, &e.UserID, &e.URL, &e.URLHash, &e.ContentHash, &e.DuplicateOfID, &status,
		&e.Title, &summary, &e.MemoryIDs, &e.Error, &e.ProcessingTimeMs, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	e.Status = Status(status)
	if len(summary) > 0 {
		_ = json.Unmarshal(summary, &e.Summary)
	}
	return e, true, nil
}
