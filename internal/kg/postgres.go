package kg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"synapse/internal/memitem"
)

// postgresStore is the production Store, generalising the teacher's single
// untyped nodes/edges graph substrate (postgres_graph.go) into three typed,
// Wilson-scored tables.
type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore bootstraps the kg_* tables and returns a Store backed by
// pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (Store, error) {
	if err := bootstrapKG(ctx, pool); err != nil {
		return nil, err
	}
	return &postgresStore{pool: pool}, nil
}

func bootstrapKG(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kg_routing_stats (
			user_id TEXT NOT NULL,
			concept TEXT NOT NULL,
			tier TEXT NOT NULL,
			success_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
			uses DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, concept, tier)
		)`,
		`CREATE TABLE IF NOT EXISTS kg_nodes (
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			quality_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
			mentions BIGINT NOT NULL DEFAULT 0,
			memory_ids TEXT[] NOT NULL DEFAULT '{}',
			PRIMARY KEY (user_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS kg_edges (
			user_id TEXT NOT NULL,
			node_a TEXT NOT NULL,
			node_b TEXT NOT NULL,
			weight BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, node_a, node_b)
		)`,
		`CREATE TABLE IF NOT EXISTS kg_action_effectiveness (
			user_id TEXT NOT NULL,
			context_type TEXT NOT NULL,
			action TEXT NOT NULL,
			tier TEXT NOT NULL,
			success_sum DOUBLE PRECISION NOT NULL DEFAULT 0,
			uses DOUBLE PRECISION NOT NULL DEFAULT 0,
			examples TEXT[] NOT NULL DEFAULT '{}',
			PRIMARY KEY (user_id, context_type, action, tier)
		)`,
		`CREATE INDEX IF NOT EXISTS kg_action_effectiveness_ctx ON kg_action_effectiveness(user_id, context_type)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) RoutingStats(ctx context.Context, user string, concepts []string) (map[string]map[memitem.Tier]WilsonAccumulator, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT concept, tier, success_sum, uses FROM kg_routing_stats
		WHERE user_id=$1 AND ($2::text[] IS NULL OR concept = ANY($2))`, user, nullableStrSlice(concepts))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]map[memitem.Tier]WilsonAccumulator{}
	for rows.Next() {
		var concept, tier string
		var acc WilsonAccumulator
		if err := rows.Scan(&concept, &tier, &acc.SuccessSum, &acc.Uses); err != nil {
			return nil, err
		}
		if out[concept] == nil {
			out[concept] = map[memitem.Tier]WilsonAccumulator{}
		}
		out[concept][memitem.Tier(tier)] = acc
	}
	return out, rows.Err()
}

func (s *postgresStore) BulkUpsertRoutingStats(ctx context.Context, user string, deltas []RoutingDelta) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, d := range deltas {
		if _, err := tx.Exec(ctx, `
			INSERT INTO kg_routing_stats (user_id, concept, tier, success_sum, uses)
			VALUES ($1, $2, $3, $4, 1)
			ON CONFLICT (user_id, concept, tier) DO UPDATE SET
				success_sum = kg_routing_stats.success_sum + EXCLUDED.success_sum,
				uses = kg_routing_stats.uses + 1`,
			user, d.Concept, string(d.Tier), memitem.SuccessWeight(d.Outcome)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *postgresStore) BulkUpsertEntities(ctx context.Context, user string, deltas []EntityDelta) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, d := range deltas {
		for _, name := range d.Entities {
			if _, err := tx.Exec(ctx, `
				INSERT INTO kg_nodes (user_id, name, quality_sum, mentions, memory_ids)
				VALUES ($1, $2, $3, 1, ARRAY[$4])
				ON CONFLICT (user_id, name) DO UPDATE SET
					quality_sum = kg_nodes.quality_sum + EXCLUDED.quality_sum,
					mentions = kg_nodes.mentions + 1,
					memory_ids = CASE WHEN $4 = ANY(kg_nodes.memory_ids) THEN kg_nodes.memory_ids
						ELSE kg_nodes.memory_ids || $4 END`,
				user, name, d.Quality, d.MemoryID); err != nil {
				return err
			}
		}
		for i := 0; i < len(d.Entities); i++ {
			for j := i + 1; j < len(d.Entities); j++ {
				a, b := d.Entities[i], d.Entities[j]
				if a > b {
					a, b = b, a
				}
				if _, err := tx.Exec(ctx, `
					INSERT INTO kg_edges (user_id, node_a, node_b, weight)
					VALUES ($1, $2, $3, 1)
					ON CONFLICT (user_id, node_a, node_b) DO UPDATE SET
						weight = kg_edges.weight + 1`,
					user, a, b); err != nil {
					return err
				}
			}
		}
	}
	return tx.Commit(ctx)
}

func (s *postgresStore) GetEntitiesForMemory(ctx context.Context, user, memoryID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM kg_nodes WHERE user_id=$1 AND $2 = ANY(memory_ids)`, user, memoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *postgresStore) GetEntityNodes(ctx context.Context, user string, names []string) ([]EntityNode, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT name, quality_sum, mentions, memory_ids FROM kg_nodes WHERE user_id=$1 AND name = ANY($2)`, user, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EntityNode
	for rows.Next() {
		var n EntityNode
		var ids []string
		if err := rows.Scan(&n.Name, &n.QualitySum, &n.Mentions, &ids); err != nil {
			return nil, err
		}
		n.MemoryIDs = map[string]struct{}{}
		for _, id := range ids {
			n.MemoryIDs[id] = struct{}{}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *postgresStore) RelatedEntities(ctx context.Context, user string, labels []string, limit int) ([]EntityNode, error) {
	if limit <= 0 {
		limit = 10
	}
	if len(labels) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT n.name, n.quality_sum, n.mentions, n.memory_ids
		FROM kg_edges e
		JOIN kg_nodes n ON n.user_id = e.user_id AND n.name IN (
			CASE WHEN e.node_a = ANY($2) THEN e.node_b ELSE e.node_a END
		)
		WHERE e.user_id = $1 AND (e.node_a = ANY($2) OR e.node_b = ANY($2))
			AND NOT (n.name = ANY($2))
		ORDER BY (n.quality_sum / GREATEST(n.mentions, 1)) DESC, e.weight DESC
		LIMIT $3`, user, labels, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EntityNode
	for rows.Next() {
		var n EntityNode
		var ids []string
		if err := rows.Scan(&n.Name, &n.QualitySum, &n.Mentions, &ids); err != nil {
			return nil, err
		}
		n.MemoryIDs = map[string]struct{}{}
		for _, id := range ids {
			n.MemoryIDs[id] = struct{}{}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *postgresStore) RemoveMemoryFromEntities(ctx context.Context, user, memoryID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `
		UPDATE kg_nodes SET memory_ids = array_remove(memory_ids, $2)
		WHERE user_id=$1 AND $2 = ANY(memory_ids)`, user, memoryID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM kg_edges WHERE user_id=$1 AND (node_a IN (
		SELECT name FROM kg_nodes WHERE user_id=$1 AND cardinality(memory_ids)=0
	) OR node_b IN (
		SELECT name FROM kg_nodes WHERE user_id=$1 AND cardinality(memory_ids)=0
	))`, user); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM kg_nodes WHERE user_id=$1 AND cardinality(memory_ids)=0`, user); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *postgresStore) BulkUpsertActionEffectiveness(ctx context.Context, user string, deltas []ActionDelta) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, d := range deltas {
		examples := []string{}
		if d.Example != "" {
			examples = []string{d.Example}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO kg_action_effectiveness (user_id, context_type, action, tier, success_sum, uses, examples)
			VALUES ($1, $2, $3, $4, $5, 1, $6)
			ON CONFLICT (user_id, context_type, action, tier) DO UPDATE SET
				success_sum = kg_action_effectiveness.success_sum + EXCLUDED.success_sum,
				uses = kg_action_effectiveness.uses + 1,
				examples = (
					SELECT ARRAY(SELECT unnest(kg_action_effectiveness.examples || EXCLUDED.examples)
					OFFSET GREATEST(0, array_length(kg_action_effectiveness.examples || EXCLUDED.examples, 1) - 20))
				)`,
			user, d.ContextType, d.Action, string(d.Tier), memitem.SuccessWeight(d.Outcome), examples); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *postgresStore) GetActionEffectiveness(ctx context.Context, user, contextType string) ([]ActionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT action, tier, success_sum, uses, examples FROM kg_action_effectiveness
		WHERE user_id=$1 AND context_type=$2`, user, contextType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ActionRecord
	for rows.Next() {
		var r ActionRecord
		var tier string
		r.ContextType = contextType
		if err := rows.Scan(&r.Action, &tier, &r.SuccessSum, &r.Uses, &r.Examples); err != nil {
			return nil, err
		}
		r.Tier = memitem.Tier(tier)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableStrSlice(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
