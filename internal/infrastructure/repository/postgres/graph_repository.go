package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

// GraphRepository persists versioned workspace edge sets. Merge and rebuild
// run inside one transaction guarded by an optimistic version check, so a
// lost race across processes rolls back whole batches.
type GraphRepository struct {
	db *sql.DB
}

func NewGraphRepository(db *sql.DB) *GraphRepository {
	return &GraphRepository{db: db}
}

func (r *GraphRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockGraph); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS graph_versions (
	workspace_id TEXT PRIMARY KEY,
	version BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_edges (
	workspace_id TEXT NOT NULL,
	citing TEXT NOT NULL,
	cited TEXT NOT NULL,
	treatment TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	source_passage_id TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (workspace_id, citing, cited, treatment)
);

CREATE TABLE IF NOT EXISTS graph_merge_log (
	id BIGSERIAL PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	from_version BIGINT NOT NULL,
	to_version BIGINT NOT NULL,
	edges_added INT NOT NULL,
	edges_updated INT NOT NULL,
	edges_total INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_graph_merge_log_workspace ON graph_merge_log(workspace_id, to_version);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *GraphRepository) CurrentVersion(ctx context.Context, workspaceID string) (int64, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT version FROM graph_versions WHERE workspace_id = $1
`, workspaceID)

	var version int64
	if err := row.Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("current graph version: %w", err)
	}
	return version, nil
}

func (r *GraphRepository) Edges(ctx context.Context, workspaceID string) ([]domain.Edge, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT workspace_id, citing, cited, treatment, confidence, source_passage_id
FROM graph_edges
WHERE workspace_id = $1
ORDER BY citing ASC, cited ASC, treatment ASC
`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list graph edges: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Edge, 0)
	for rows.Next() {
		var edge domain.Edge
		var treatment string
		if err := rows.Scan(
			&edge.WorkspaceID, &edge.Citing, &edge.Cited, &treatment,
			&edge.Confidence, &edge.SourcePassageID,
		); err != nil {
			return nil, fmt.Errorf("scan graph edge: %w", err)
		}
		edge.Treatment = domain.Treatment(treatment)
		out = append(out, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate graph edges: %w", err)
	}
	return out, nil
}

func (r *GraphRepository) ApplyMerge(ctx context.Context, workspaceID string, expectedVersion int64, edges []domain.Edge) (*domain.MergeResult, error) {
	return r.apply(ctx, "merge", workspaceID, expectedVersion, edges)
}

func (r *GraphRepository) ApplyRebuild(ctx context.Context, workspaceID string, expectedVersion int64, edges []domain.Edge) (*domain.MergeResult, error) {
	return r.apply(ctx, "rebuild", workspaceID, expectedVersion, edges)
}

func (r *GraphRepository) apply(ctx context.Context, operation, workspaceID string, expectedVersion int64, edges []domain.Edge) (*domain.MergeResult, error) {
	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin %s tx: %w", operation, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO graph_versions (workspace_id, version, updated_at)
VALUES ($1, 0, $2)
ON CONFLICT (workspace_id) DO NOTHING
`, workspaceID, now); err != nil {
		return nil, fmt.Errorf("ensure graph version row: %w", err)
	}

	// Optimistic check: the bump only lands when nobody moved the version
	// since the caller read it.
	row := tx.QueryRowContext(ctx, `
UPDATE graph_versions
SET version = version + 1, updated_at = $3
WHERE workspace_id = $1 AND version = $2
RETURNING version
`, workspaceID, expectedVersion, now)

	var newVersion int64
	if err := row.Scan(&newVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrMergeConflict, "apply "+operation,
				fmt.Errorf("workspace %s moved past version %d", workspaceID, expectedVersion))
		}
		return nil, fmt.Errorf("bump graph version: %w", err)
	}

	var added, updated int
	if operation == "rebuild" {
		added, err = r.replaceEdges(ctx, tx, workspaceID, edges, now)
	} else {
		added, updated, err = r.mergeEdges(ctx, tx, workspaceID, edges, now)
	}
	if err != nil {
		return nil, err
	}

	var total int
	if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM graph_edges WHERE workspace_id = $1
`, workspaceID).Scan(&total); err != nil {
		return nil, fmt.Errorf("count graph edges: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO graph_merge_log (workspace_id, operation, from_version, to_version, edges_added, edges_updated, edges_total, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, workspaceID, operation, expectedVersion, newVersion, added, updated, total, now); err != nil {
		return nil, fmt.Errorf("append merge log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit %s tx: %w", operation, err)
	}

	return &domain.MergeResult{
		WorkspaceID:  workspaceID,
		FromVersion:  expectedVersion,
		Version:      newVersion,
		EdgesAdded:   added,
		EdgesUpdated: updated,
		EdgesTotal:   total,
	}, nil
}

func (r *GraphRepository) mergeEdges(ctx context.Context, tx *sql.Tx, workspaceID string, edges []domain.Edge, now time.Time) (added, updated int, err error) {
	if len(edges) == 0 {
		return 0, 0, nil
	}

	existing, err := edgeKeySet(ctx, tx, workspaceID)
	if err != nil {
		return 0, 0, err
	}

	const query = `
INSERT INTO graph_edges (workspace_id, citing, cited, treatment, confidence, source_passage_id, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (workspace_id, citing, cited, treatment) DO UPDATE SET
	confidence = GREATEST(graph_edges.confidence, EXCLUDED.confidence),
	source_passage_id = CASE
		WHEN EXCLUDED.confidence > graph_edges.confidence THEN EXCLUDED.source_passage_id
		ELSE graph_edges.source_passage_id
	END,
	updated_at = EXCLUDED.updated_at
`
	for _, edge := range edges {
		if _, err := tx.ExecContext(ctx, query,
			workspaceID, edge.Citing, edge.Cited, string(edge.Treatment),
			edge.Confidence, edge.SourcePassageID, now,
		); err != nil {
			return 0, 0, fmt.Errorf("merge edge %s: %w", edge.Key(), err)
		}
		if existing[edge.Key()] {
			updated++
		} else {
			added++
			existing[edge.Key()] = true
		}
	}
	return added, updated, nil
}

func (r *GraphRepository) replaceEdges(ctx context.Context, tx *sql.Tx, workspaceID string, edges []domain.Edge, now time.Time) (int, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_edges WHERE workspace_id = $1`, workspaceID); err != nil {
		return 0, fmt.Errorf("clear graph edges: %w", err)
	}

	const query = `
INSERT INTO graph_edges (workspace_id, citing, cited, treatment, confidence, source_passage_id, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`
	for _, edge := range edges {
		if _, err := tx.ExecContext(ctx, query,
			workspaceID, edge.Citing, edge.Cited, string(edge.Treatment),
			edge.Confidence, edge.SourcePassageID, now,
		); err != nil {
			return 0, fmt.Errorf("insert edge %s: %w", edge.Key(), err)
		}
	}
	return len(edges), nil
}

func edgeKeySet(ctx context.Context, tx *sql.Tx, workspaceID string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT citing, cited, treatment FROM graph_edges WHERE workspace_id = $1
`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("load edge keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var edge domain.Edge
		var treatment string
		if err := rows.Scan(&edge.Citing, &edge.Cited, &treatment); err != nil {
			return nil, fmt.Errorf("scan edge key: %w", err)
		}
		edge.Treatment = domain.Treatment(treatment)
		keys[edge.Key()] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edge keys: %w", err)
	}
	return keys, nil
}
