package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

// PassageRepository persists corpus passages and serves the lexical search
// leg from the same table through a generated tsvector column.
type PassageRepository struct {
	db *sql.DB
}

func NewPassageRepository(db *sql.DB) *PassageRepository {
	return &PassageRepository{db: db}
}

func (r *PassageRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockPassages); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS passages (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	case_id TEXT NOT NULL,
	case_name TEXT NOT NULL,
	court TEXT NOT NULL DEFAULT '',
	year INT NOT NULL DEFAULT 0,
	section TEXT NOT NULL,
	text TEXT NOT NULL,
	lexeme TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', text)) STORED,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_passages_workspace ON passages(workspace_id);
CREATE INDEX IF NOT EXISTS idx_passages_case ON passages(workspace_id, case_id);
CREATE INDEX IF NOT EXISTS idx_passages_lexeme ON passages USING GIN(lexeme);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *PassageRepository) Upsert(ctx context.Context, passages []domain.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const query = `
INSERT INTO passages (id, workspace_id, case_id, case_name, court, year, section, text, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
	workspace_id = EXCLUDED.workspace_id,
	case_id = EXCLUDED.case_id,
	case_name = EXCLUDED.case_name,
	court = EXCLUDED.court,
	year = EXCLUDED.year,
	section = EXCLUDED.section,
	text = EXCLUDED.text,
	updated_at = EXCLUDED.updated_at
`
	for _, p := range passages {
		if _, err := tx.ExecContext(ctx, query,
			p.ID, p.WorkspaceID, p.CaseID, p.CaseName, p.Court, p.Year,
			string(p.Section), p.Text, p.CreatedAt, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("upsert passage %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

func (r *PassageRepository) GetByIDs(ctx context.Context, workspaceID string, ids []string) ([]domain.Passage, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, workspaceID)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, id)
	}

	query := fmt.Sprintf(`
SELECT id, workspace_id, case_id, case_name, court, year, section, text, created_at, updated_at
FROM passages
WHERE workspace_id = $1 AND id IN (%s)
`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get passages by ids: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Passage, len(ids))
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passages: %w", err)
	}

	// Preserve the caller's id order; absent ids are silently skipped.
	out := make([]domain.Passage, 0, len(byID))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *PassageRepository) ListWorkspace(ctx context.Context, workspaceID string) ([]domain.Passage, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, workspace_id, case_id, case_name, court, year, section, text, created_at, updated_at
FROM passages
WHERE workspace_id = $1
ORDER BY id ASC
`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list workspace passages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Passage, 0)
	for rows.Next() {
		p, err := scanPassage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspace passages: %w", err)
	}
	return out, nil
}

// SearchLexical ranks full-text matches with ts_rank_cd. An unavailable
// database surfaces as the index-unavailable kind so retrieval can degrade
// to the surviving leg.
func (r *PassageRepository) SearchLexical(ctx context.Context, workspaceID, query string, limit int) ([]domain.ScoredPassage, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, workspace_id, case_id, case_name, court, year, section, text, created_at, updated_at,
	ts_rank_cd(lexeme, q) AS rank
FROM passages, websearch_to_tsquery('english', $2) AS q
WHERE workspace_id = $1 AND lexeme @@ q
ORDER BY rank DESC, id ASC
LIMIT $3
`, workspaceID, query, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrIndexUnavailable, "lexical search", err)
	}
	defer rows.Close()

	out := make([]domain.ScoredPassage, 0, limit)
	for rows.Next() {
		var p domain.Passage
		var section string
		var rank float64
		if err := rows.Scan(
			&p.ID, &p.WorkspaceID, &p.CaseID, &p.CaseName, &p.Court, &p.Year,
			&section, &p.Text, &p.CreatedAt, &p.UpdatedAt, &rank,
		); err != nil {
			return nil, fmt.Errorf("scan lexical hit: %w", err)
		}
		p.Section = domain.Section(section)
		out = append(out, domain.ScoredPassage{Passage: p, Score: rank})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrIndexUnavailable, "lexical search", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

type passageScanner interface {
	Scan(dest ...any) error
}

func scanPassage(row passageScanner) (domain.Passage, error) {
	var p domain.Passage
	var section string
	err := row.Scan(
		&p.ID, &p.WorkspaceID, &p.CaseID, &p.CaseName, &p.Court, &p.Year,
		&section, &p.Text, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Passage{}, fmt.Errorf("scan passage: %w", err)
	}
	p.Section = domain.Section(section)
	return p, nil
}
