package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"synapse/internal/coreerr"
	"synapse/internal/memitem"
	"synapse/internal/scoring"
)

// postgresStore is the production MemoryStore backend: memory_items carries
// the current row per memory, memory_versions is an append-only snapshot
// log, and a generated tsvector column backs lexical search — the same
// bootstrap idiom as the teacher's documents/chunks tables in
// postgres_search.go, generalised to the memory-item schema of spec §3/§6.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Postgres-backed MemoryStore, bootstrapping its
// schema with best-effort CREATE IF NOT EXISTS statements (dev convenience;
// production deployments should manage migrations externally, per the
// teacher's postgres_doc.go convention).
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (MemoryStore, error) {
	s := &postgresStore{pool: pool}
	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *postgresStore) bootstrap(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS memory_items (
	memory_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	text TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	tags TEXT[] NOT NULL DEFAULT '{}',
	entities TEXT[] NOT NULL DEFAULT '{}',
	language TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	always_inject BOOLEAN NOT NULL DEFAULT false,
	source JSONB NOT NULL DEFAULT '{}'::jsonb,
	importance DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	mentioned_count BIGINT NOT NULL DEFAULT 0,
	quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	uses BIGINT NOT NULL DEFAULT 0,
	worked BIGINT NOT NULL DEFAULT 0,
	partial BIGINT NOT NULL DEFAULT 0,
	unknown BIGINT NOT NULL DEFAULT 0,
	failed BIGINT NOT NULL DEFAULT 0,
	success_count DOUBLE PRECISION NOT NULL DEFAULT 0,
	success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	wilson_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	last_used_at TIMESTAMPTZ,
	current_version INT NOT NULL DEFAULT 1,
	supersedes_memory_id TEXT,
	embedding_model TEXT NOT NULL DEFAULT '',
	embedding_dims INT NOT NULL DEFAULT 0,
	embedding_hash TEXT NOT NULL DEFAULT '',
	last_indexed_at TIMESTAMPTZ,
	persona_id TEXT NOT NULL DEFAULT '',
	persona_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	archived_at TIMESTAMPTZ,
	expires_at TIMESTAMPTZ,
	ts tsvector GENERATED ALWAYS AS (
		setweight(to_tsvector('simple', coalesce(text, '')), 'A') ||
		setweight(to_tsvector('simple', coalesce(summary, '')), 'B') ||
		setweight(to_tsvector('simple', array_to_string(tags, ' ')), 'C')
	) STORED
);
CREATE INDEX IF NOT EXISTS memory_items_user_tier_status_idx ON memory_items(user_id, tier, status);
CREATE INDEX IF NOT EXISTS memory_items_ts_idx ON memory_items USING GIN (ts);
CREATE INDEX IF NOT EXISTS memory_items_expires_idx ON memory_items(expires_at);

CREATE TABLE IF NOT EXISTS memory_versions (
	memory_id TEXT NOT NULL,
	version INT NOT NULL,
	kind TEXT NOT NULL,
	text TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (memory_id, version)
);

CREATE TABLE IF NOT EXISTS action_outcomes (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	turn_id TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	context_type TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL DEFAULT '',
	memory_ids TEXT[] NOT NULL DEFAULT '{}',
	tool_name TEXT NOT NULL DEFAULT '',
	outcome TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS action_outcomes_user_idx ON action_outcomes(user_id, recorded_at DESC);
`)
	return err
}

func (s *postgresStore) Store(ctx context.Context, p StoreParams) (memitem.MemoryItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if p.UserID == "" {
		return memitem.MemoryItem{}, coreerr.New("store.Store", coreerr.InvalidInput, errors.New("user_id required"))
	}
	tier := p.Tier
	if tier == "" {
		tier = memitem.TierWorking
	}
	canon, ok := memitem.ParseTier(string(tier))
	if !ok {
		return memitem.MemoryItem{}, coreerr.New("store.Store", coreerr.InvalidInput, errors.New("unknown tier"))
	}

	item := memitem.MemoryItem{
		MemoryID:       uuid.NewString(),
		UserID:         p.UserID,
		Text:           p.Text,
		Summary:        p.Summary,
		Tags:           p.Tags,
		Entities:       p.Entities,
		Language:       p.Language,
		Tier:           canon,
		Status:         memitem.StatusActive,
		AlwaysInject:   p.AlwaysInject,
		Source:         p.Source,
		Importance:     p.Importance,
		Confidence:     p.Confidence,
		QualityScore:   p.QualityScore,
		Stats:          memitem.Stats{WilsonScore: scoring.UninformedPrior},
		CurrentVersion: 1,
		Personality:    p.Personality,
		ExpiresAt:      p.ExpiresAt,
	}

	srcJSON, err := json.Marshal(item.Source)
	if err != nil {
		return memitem.MemoryItem{}, coreerr.New("store.Store", coreerr.SerializationError, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return memitem.MemoryItem{}, coreerr.New("store.Store", coreerr.TransientStoreError, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
INSERT INTO memory_items (
	memory_id, user_id, text, summary, tags, entities, language, tier, status,
	always_inject, source, importance, confidence, quality_score, wilson_score,
	current_version, persona_id, persona_name, expires_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
RETURNING created_at, updated_at`,
		item.MemoryID, item.UserID, item.Text, item.Summary, item.Tags, item.Entities,
		string(item.Language), string(item.Tier), string(item.Status), item.AlwaysInject,
		srcJSON, item.Importance, item.Confidence, item.QualityScore, item.Stats.WilsonScore,
		item.CurrentVersion, item.Personality.PersonaID, item.Personality.DisplayName, item.ExpiresAt,
	)
	if err := row.Scan(&item.CreatedAt, &item.UpdatedAt); err != nil {
		return memitem.MemoryItem{}, coreerr.New("store.Store", coreerr.TransientStoreError, err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO memory_versions (memory_id, version, kind, text, summary, tier, status)
VALUES ($1,1,$2,$3,$4,$5,$6)`,
		item.MemoryID, memitem.VersionChangeUpdate, item.Text, item.Summary, item.Tier, item.Status); err != nil {
		return memitem.MemoryItem{}, coreerr.New("store.Store", coreerr.TransientStoreError, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return memitem.MemoryItem{}, coreerr.New("store.Store", coreerr.TransientStoreError, err)
	}
	return item, nil
}

func (s *postgresStore) GetByID(ctx context.Context, userID, memoryID string) (memitem.MemoryItem, bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	item, err := s.scanOne(ctx, `SELECT * FROM memory_items WHERE memory_id=$1 AND user_id=$2`, memoryID, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memitem.MemoryItem{}, false, nil
		}
		return memitem.MemoryItem{}, false, coreerr.New("store.GetByID", coreerr.TransientStoreError, err)
	}
	return item, true, nil
}

func (s *postgresStore) Update(ctx context.Context, p UpdateParams) (memitem.MemoryItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	cur, found, err := s.GetByID(ctx, p.UserID, p.MemoryID)
	if err != nil {
		return memitem.MemoryItem{}, err
	}
	if !found {
		return memitem.MemoryItem{}, coreerr.New("store.Update", coreerr.NotFound, nil)
	}

	next := cur
	if p.Text != nil {
		next.Text = *p.Text
	}
	if p.Summary != nil {
		next.Summary = *p.Summary
	}
	if p.Tags != nil {
		next.Tags = p.Tags
	}
	if p.Entities != nil {
		next.Entities = p.Entities
	}
	if p.Tier != nil {
		canon, ok := memitem.ParseTier(string(*p.Tier))
		if !ok {
			return memitem.MemoryItem{}, coreerr.New("store.Update", coreerr.InvalidInput, errors.New("unknown tier"))
		}
		next.Tier = canon
	}
	if p.Status != nil {
		next.Status = *p.Status
	}
	if p.Importance != nil {
		next.Importance = *p.Importance
	}
	if p.Confidence != nil {
		next.Confidence = *p.Confidence
	}
	if p.QualityScore != nil {
		next.QualityScore = *p.QualityScore
	}
	if p.AlwaysInject != nil {
		next.AlwaysInject = *p.AlwaysInject
	}
	if p.ExpiresAt != nil {
		next.ExpiresAt = p.ExpiresAt
	}
	next.CurrentVersion = cur.CurrentVersion + 1

	kind := memitem.ClassifyChange(cur.Tier, next.Tier, cur.Status, next.Status)
	var archivedAt *time.Time
	if next.Status == memitem.StatusArchived && cur.Status != memitem.StatusArchived {
		now := time.Now().UTC()
		archivedAt = &now
	} else {
		archivedAt = cur.ArchivedAt
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return memitem.MemoryItem{}, coreerr.New("store.Update", coreerr.TransientStoreError, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
UPDATE memory_items SET
	text=$3, summary=$4, tags=$5, entities=$6, tier=$7, status=$8,
	importance=$9, confidence=$10, quality_score=$11, always_inject=$12,
	expires_at=$13, current_version=$14, archived_at=$15, updated_at=now()
WHERE memory_id=$1 AND user_id=$2
RETURNING updated_at`,
		p.MemoryID, p.UserID, next.Text, next.Summary, next.Tags, next.Entities,
		string(next.Tier), string(next.Status), next.Importance, next.Confidence,
		next.QualityScore, next.AlwaysInject, next.ExpiresAt, next.CurrentVersion, archivedAt,
	)
	if err := row.Scan(&next.UpdatedAt); err != nil {
		return memitem.MemoryItem{}, coreerr.New("store.Update", coreerr.TransientStoreError, err)
	}
	next.ArchivedAt = archivedAt

	if _, err := tx.Exec(ctx, `
INSERT INTO memory_versions (memory_id, version, kind, text, summary, tier, status)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.MemoryID, next.CurrentVersion, kind, cur.Text, cur.Summary, cur.Tier, cur.Status); err != nil {
		return memitem.MemoryItem{}, coreerr.New("store.Update", coreerr.TransientStoreError, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return memitem.MemoryItem{}, coreerr.New("store.Update", coreerr.TransientStoreError, err)
	}
	return next, nil
}

func (s *postgresStore) Delete(ctx context.Context, userID, memoryID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `DELETE FROM memory_items WHERE memory_id=$1 AND user_id=$2`, memoryID, userID)
	if err != nil {
		return coreerr.New("store.Delete", coreerr.TransientStoreError, err)
	}
	return nil
}

func (s *postgresStore) Archive(ctx context.Context, userID, memoryID, reason string) (memitem.MemoryItem, error) {
	_ = reason
	status := memitem.StatusArchived
	return s.Update(ctx, UpdateParams{MemoryID: memoryID, UserID: userID, Status: &status})
}

func (s *postgresStore) Query(ctx context.Context, f QueryFilters) ([]memitem.MemoryItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []memitem.Status{memitem.StatusActive}
	}
	statusStrs := make([]string, len(statuses))
	for i, st := range statuses {
		statusStrs[i] = string(st)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT * FROM memory_items WHERE user_id=$1 AND status = ANY($2) AND wilson_score >= $3`)
	args := []any{f.UserID, statusStrs, f.MinWilson}
	argn := 4
	if len(f.Tiers) > 0 {
		tiers := make([]string, len(f.Tiers))
		for i, t := range f.Tiers {
			tiers[i] = string(t)
		}
		sb.WriteString(" AND tier = ANY($" + itoa(argn) + ")")
		args = append(args, tiers)
		argn++
	}
	if len(f.Tags) > 0 {
		sb.WriteString(" AND tags @> $" + itoa(argn))
		args = append(args, f.Tags)
		argn++
	}
	if len(f.Entities) > 0 {
		sb.WriteString(" AND entities && $" + itoa(argn))
		args = append(args, f.Entities)
		argn++
	}
	sortField := f.SortBy
	if sortField == "" {
		sortField = SortByUpdatedAt
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	sb.WriteString(" ORDER BY " + sqlColumnFor(sortField) + " " + dir)
	if f.Limit > 0 {
		sb.WriteString(" LIMIT " + itoa(argn))
		args = append(args, f.Limit)
		argn++
	}
	if f.Offset > 0 {
		sb.WriteString(" OFFSET " + itoa(argn))
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, coreerr.New("store.Query", coreerr.TransientStoreError, err)
	}
	defer rows.Close()
	return s.scanAll(rows)
}

func sqlColumnFor(f SortField) string {
	switch f {
	case SortByCreatedAt:
		return "created_at"
	case SortByWilson:
		return "wilson_score"
	case SortByUses:
		return "uses"
	default:
		return "updated_at"
	}
}

func itoa(n int) string {
	// tiny local helper to avoid importing strconv solely for this
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (s *postgresStore) TextSearch(ctx context.Context, userID, query string, opts TextSearchOptions) ([]TextSearchResult, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	status := opts.Status
	if status == "" {
		status = memitem.StatusActive
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	terms := append([]string{q}, opts.ExpandsOR...)
	tsQuery := "plainto_tsquery('simple', $2)"
	for i := 1; i < len(terms); i++ {
		tsQuery = tsQuery + " || plainto_tsquery('simple', $" + itoa(3+i-1) + ")"
	}

	args := []any{userID, q}
	for _, t := range opts.ExpandsOR {
		args = append(args, t)
	}
	argn := len(args) + 1

	sqlStr := `SELECT *, ts_rank(ts, ` + tsQuery + `) AS _rank FROM memory_items
WHERE user_id=$1 AND status=$` + itoa(argn) + ` AND ts @@ (` + tsQuery + `)`
	args = append(args, string(status))
	argn++
	if len(opts.Tiers) > 0 {
		tiers := make([]string, len(opts.Tiers))
		for i, t := range opts.Tiers {
			tiers[i] = string(t)
		}
		sqlStr += " AND tier = ANY($" + itoa(argn) + ")"
		args = append(args, tiers)
		argn++
	}
	sqlStr += " ORDER BY _rank DESC LIMIT $" + itoa(argn)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, coreerr.New("store.TextSearch", coreerr.TransientStoreError, err)
	}
	defer rows.Close()

	var out []TextSearchResult
	rank := 0
	for rows.Next() {
		item, score, err := s.scanRowWithRank(rows)
		if err != nil {
			return nil, coreerr.New("store.TextSearch", coreerr.TransientStoreError, err)
		}
		rank++
		out = append(out, TextSearchResult{
			MemoryID:        item.MemoryID,
			Rank:            rank,
			TextScore:       score,
			NormalizedScore: 1.0 / float64(rank+60),
			Item:            item,
		})
	}
	return out, rows.Err()
}

func (s *postgresStore) GetAlwaysInject(ctx context.Context, userID string) ([]memitem.MemoryItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `SELECT * FROM memory_items WHERE user_id=$1 AND always_inject=true AND status='active'`, userID)
	if err != nil {
		return nil, coreerr.New("store.GetAlwaysInject", coreerr.TransientStoreError, err)
	}
	defer rows.Close()
	return s.scanAll(rows)
}

func (s *postgresStore) CountByTier(ctx context.Context, userID string) (map[memitem.Tier]int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	out := make(map[memitem.Tier]int64, len(memitem.AllTiers()))
	for _, t := range memitem.AllTiers() {
		out[t] = 0
	}
	rows, err := s.pool.Query(ctx, `SELECT tier, count(*) FROM memory_items WHERE user_id=$1 GROUP BY tier`, userID)
	if err != nil {
		return nil, coreerr.New("store.CountByTier", coreerr.TransientStoreError, err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, coreerr.New("store.CountByTier", coreerr.TransientStoreError, err)
		}
		out[memitem.Tier(tier)] = n
	}
	return out, rows.Err()
}

// RecordOutcome performs the entire §4.2 update as a single atomic
// UPDATE ... RETURNING statement: the increment and the Wilson recompute
// happen in the same round trip so concurrent outcome events serialise at
// the row level instead of racing on a read-modify-write in application
// code.
func (s *postgresStore) RecordOutcome(ctx context.Context, userID, memoryID string, outcome memitem.Outcome, timeWeight float64) (memitem.MemoryItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if !memitem.ValidOutcome(outcome) {
		return memitem.MemoryItem{}, coreerr.New("store.RecordOutcome", coreerr.InvalidInput, coreerr.InvalidOutcome)
	}
	_ = timeWeight

	col := outcomeColumn(outcome)
	weight := memitem.SuccessWeight(outcome)

	row := s.pool.QueryRow(ctx, `
UPDATE memory_items SET
	uses = uses + 1,
	`+col+` = `+col+` + 1,
	success_count = success_count + $3,
	last_used_at = now(),
	updated_at = now()
WHERE memory_id=$1 AND user_id=$2
RETURNING uses, success_count`,
		memoryID, userID, weight)

	var uses int64
	var successCount float64
	if err := row.Scan(&uses, &successCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memitem.MemoryItem{}, coreerr.New("store.RecordOutcome", coreerr.NotFound, nil)
		}
		return memitem.MemoryItem{}, coreerr.New("store.RecordOutcome", coreerr.TransientStoreError, err)
	}

	wilson := scoring.Wilson(successCount, float64(uses), scoring.DefaultZ)
	successRate := 0.0
	if uses > 0 {
		successRate = successCount / float64(uses)
	}
	if _, err := s.pool.Exec(ctx, `UPDATE memory_items SET wilson_score=$3, success_rate=$4 WHERE memory_id=$1 AND user_id=$2`,
		memoryID, userID, wilson, successRate); err != nil {
		return memitem.MemoryItem{}, coreerr.New("store.RecordOutcome", coreerr.TransientStoreError, err)
	}

	item, found, err := s.GetByID(ctx, userID, memoryID)
	if err != nil {
		return memitem.MemoryItem{}, err
	}
	if !found {
		return memitem.MemoryItem{}, coreerr.New("store.RecordOutcome", coreerr.NotFound, nil)
	}
	return item, nil
}

func outcomeColumn(o memitem.Outcome) string {
	switch o {
	case memitem.OutcomeWorked:
		return "worked"
	case memitem.OutcomePartial:
		return "partial"
	case memitem.OutcomeUnknown:
		return "unknown"
	default:
		return "failed"
	}
}

func (s *postgresStore) RecordActionOutcome(ctx context.Context, ao ActionOutcome) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if !memitem.ValidOutcome(ao.Outcome) {
		return coreerr.New("store.RecordActionOutcome", coreerr.InvalidInput, coreerr.InvalidOutcome)
	}
	recordedAt := ao.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO action_outcomes (id, user_id, conversation_id, turn_id, action, context_type, tier, memory_ids, tool_name, outcome, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		uuid.NewString(), ao.UserID, ao.ConversationID, ao.TurnID, ao.Action, ao.ContextType,
		string(ao.Tier), ao.MemoryIDs, ao.ToolName, string(ao.Outcome), recordedAt)
	if err != nil {
		return coreerr.New("store.RecordActionOutcome", coreerr.TransientStoreError, err)
	}
	return nil
}

func (s *postgresStore) UpdateEmbeddingInfo(ctx context.Context, userID, memoryID string, meta memitem.EmbeddingMeta) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
UPDATE memory_items SET embedding_model=$3, embedding_dims=$4, embedding_hash=$5, last_indexed_at=now()
WHERE memory_id=$1 AND user_id=$2`, memoryID, userID, meta.ModelID, meta.Dimensions, meta.VectorHash)
	if err != nil {
		return coreerr.New("store.UpdateEmbeddingInfo", coreerr.TransientStoreError, err)
	}
	return nil
}

func (s *postgresStore) GetMemoriesNeedingReindex(ctx context.Context, userID string, limit int) ([]memitem.MemoryItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT * FROM memory_items
WHERE user_id=$1 AND status='active' AND (last_indexed_at IS NULL OR last_indexed_at < updated_at)
ORDER BY updated_at ASC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, coreerr.New("store.GetMemoriesNeedingReindex", coreerr.TransientStoreError, err)
	}
	defer rows.Close()
	return s.scanAll(rows)
}

func (s *postgresStore) GetVersionHistory(ctx context.Context, userID, memoryID string) ([]memitem.Version, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if _, found, err := s.GetByID(ctx, userID, memoryID); err != nil || !found {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT memory_id, version, kind, text, summary, tier, status, created_at
FROM memory_versions WHERE memory_id=$1 ORDER BY version ASC`, memoryID)
	if err != nil {
		return nil, coreerr.New("store.GetVersionHistory", coreerr.TransientStoreError, err)
	}
	defer rows.Close()
	var out []memitem.Version
	for rows.Next() {
		var v memitem.Version
		var tier, status string
		if err := rows.Scan(&v.MemoryID, &v.Version, &v.Kind, &v.Text, &v.Summary, &tier, &status, &v.CreatedAt); err != nil {
			return nil, coreerr.New("store.GetVersionHistory", coreerr.TransientStoreError, err)
		}
		v.Tier = memitem.Tier(tier)
		v.Status = memitem.Status(status)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *postgresStore) CountActive(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM memory_items WHERE user_id=$1 AND status='active'`, userID).Scan(&n)
	if err != nil {
		return 0, coreerr.New("store.CountActive", coreerr.TransientStoreError, err)
	}
	return n, nil
}

// scanMemoryItemCommon's destination list is the column order bootstrap()
// creates memory_items with, matched by `SELECT *`; kept in one place so
// Query/TextSearch/GetByID agree on layout.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *postgresStore) scanOne(ctx context.Context, sqlStr string, args ...any) (memitem.MemoryItem, error) {
	row := s.pool.QueryRow(ctx, sqlStr, args...)
	return scanMemoryItem(row)
}

func (s *postgresStore) scanAll(rows pgx.Rows) ([]memitem.MemoryItem, error) {
	var out []memitem.MemoryItem
	for rows.Next() {
		item, err := scanMemoryItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *postgresStore) scanRowWithRank(rows pgx.Rows) (memitem.MemoryItem, float64, error) {
	// `SELECT *, ts_rank(...) AS _rank` appends one float64 column after the
	// memory_items columns.
	item, rank, err := scanMemoryItemWithExtra(rows)
	return item, rank, err
}

func scanMemoryItem(r rowScanner) (memitem.MemoryItem, error) {
	item, _, err := scanMemoryItemCommon(r, false)
	return item, err
}

func scanMemoryItemWithExtra(r rowScanner) (memitem.MemoryItem, float64, error) {
	return scanMemoryItemCommon(r, true)
}

func scanMemoryItemCommon(r rowScanner, withRank bool) (memitem.MemoryItem, float64, error) {
	var it memitem.MemoryItem
	var language, tier, status, personaID, personaName, embeddingModel, embeddingHash string
	var srcJSON []byte
	var ts any // generated tsvector column, discarded
	var extra float64

	dest := []any{
		&it.MemoryID, &it.UserID, &it.Text, &it.Summary, &it.Tags, &it.Entities,
		&language, &tier, &status, &it.AlwaysInject, &srcJSON,
		&it.Importance, &it.Confidence, &it.MentionedCount, &it.QualityScore,
		&it.Stats.Uses, &it.Stats.Worked, &it.Stats.Partial, &it.Stats.Unknown, &it.Stats.Failed,
		&it.Stats.SuccessCount, &it.Stats.SuccessRate, &it.Stats.WilsonScore, &it.Stats.LastUsedAt,
		&it.CurrentVersion, &it.SupersedesMemoryID,
		&embeddingModel, &it.Embedding.Dimensions, &embeddingHash, &it.Embedding.LastIndexedAt,
		&personaID, &personaName,
		&it.CreatedAt, &it.UpdatedAt, &it.ArchivedAt, &it.ExpiresAt,
		&ts,
	}
	if withRank {
		dest = append(dest, &extra)
	}
	if err := r.Scan(dest...); err != nil {
		return memitem.MemoryItem{}, 0, err
	}
	it.Language = memitem.Language(language)
	it.Tier = memitem.Tier(tier)
	it.Status = memitem.Status(status)
	it.Personality.PersonaID = personaID
	it.Personality.DisplayName = personaName
	it.Embedding.ModelID = embeddingModel
	it.Embedding.VectorHash = embeddingHash
	if len(srcJSON) > 0 {
		_ = json.Unmarshal(srcJSON, &it.Source)
	}
	return it, extra, nil
}
