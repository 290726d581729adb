package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

// AnswerRepository persists QA sessions, answers, and the citation markers
// that ground them.
type AnswerRepository struct {
	db *sql.DB
}

func NewAnswerRepository(db *sql.DB) *AnswerRepository {
	return &AnswerRepository{db: db}
}

func (r *AnswerRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockAnswers); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS qa_sessions (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS answers (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	workspace_id TEXT NOT NULL,
	question TEXT NOT NULL,
	text TEXT NOT NULL,
	grounded BOOLEAN NOT NULL,
	refusal_reason TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS answer_citations (
	answer_id TEXT NOT NULL,
	marker INT NOT NULL,
	passage_id TEXT NOT NULL,
	case_id TEXT NOT NULL DEFAULT '',
	case_name TEXT NOT NULL DEFAULT '',
	section TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (answer_id, marker)
);

CREATE INDEX IF NOT EXISTS idx_answers_session ON answers(session_id, created_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *AnswerRepository) EnsureSession(ctx context.Context, workspaceID, sessionID string) (*domain.QASession, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO qa_sessions (id, workspace_id, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO NOTHING
`, sessionID, workspaceID, now)
	if err != nil {
		return nil, fmt.Errorf("ensure session insert: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
SELECT id, workspace_id, created_at FROM qa_sessions WHERE id = $1
`, sessionID)

	var session domain.QASession
	if err := row.Scan(&session.ID, &session.WorkspaceID, &session.CreatedAt); err != nil {
		return nil, fmt.Errorf("ensure session select: %w", err)
	}
	return &session, nil
}

func (r *AnswerRepository) SaveAnswer(ctx context.Context, answer *domain.Answer) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin answer tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO answers (id, session_id, workspace_id, question, text, grounded, refusal_reason, confidence, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		answer.ID, answer.SessionID, answer.WorkspaceID, answer.Question, answer.Text,
		answer.Grounded, answer.RefusalReason, answer.Confidence, answer.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}

	for _, citation := range answer.Citations {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO answer_citations (answer_id, marker, passage_id, case_id, case_name, section)
VALUES ($1,$2,$3,$4,$5,$6)
`,
			answer.ID, citation.Marker, citation.PassageID, citation.CaseID,
			citation.CaseName, string(citation.Section),
		); err != nil {
			return fmt.Errorf("insert answer citation %d: %w", citation.Marker, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit answer tx: %w", err)
	}
	return nil
}

func (r *AnswerRepository) GetSession(ctx context.Context, sessionID string) (*domain.QASession, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, workspace_id, created_at FROM qa_sessions WHERE id = $1
`, sessionID)

	var session domain.QASession
	if err := row.Scan(&session.ID, &session.WorkspaceID, &session.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get session",
				fmt.Errorf("session %s", sessionID))
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

func (r *AnswerRepository) ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, session_id, workspace_id, question, text, grounded, refusal_reason, confidence, created_at
FROM answers
WHERE session_id = $1
ORDER BY created_at ASC, id ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	answers := make([]domain.Answer, 0)
	byID := make(map[string]int)
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.WorkspaceID, &a.Question, &a.Text,
			&a.Grounded, &a.RefusalReason, &a.Confidence, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		byID[a.ID] = len(answers)
		answers = append(answers, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answers: %w", err)
	}
	if len(answers) == 0 {
		return answers, nil
	}

	citationRows, err := r.db.QueryContext(ctx, `
SELECT c.answer_id, c.marker, c.passage_id, c.case_id, c.case_name, c.section
FROM answer_citations c
JOIN answers a ON a.id = c.answer_id
WHERE a.session_id = $1
ORDER BY c.answer_id ASC, c.marker ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answer citations: %w", err)
	}
	defer citationRows.Close()

	for citationRows.Next() {
		var answerID string
		var c domain.AnswerCitation
		var section string
		if err := citationRows.Scan(&answerID, &c.Marker, &c.PassageID, &c.CaseID, &c.CaseName, &section); err != nil {
			return nil, fmt.Errorf("scan answer citation: %w", err)
		}
		c.Section = domain.Section(section)
		if i, ok := byID[answerID]; ok {
			answers[i].Citations = append(answers[i].Citations, c)
		}
	}
	if err := citationRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate answer citations: %w", err)
	}
	return answers, nil
}
