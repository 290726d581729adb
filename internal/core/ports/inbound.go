package ports

import (
	"context"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

// AskService is the inbound contract for grounded question answering. Events
// are pushed to sink as the pipeline advances; sink may be nil.
type AskService interface {
	Ask(ctx context.Context, req domain.AskRequest, sink func(domain.AskEvent)) (*domain.Answer, error)
}

// PassageIngestor is the inbound contract for corpus writes and the
// asynchronous indexing pipeline behind them.
type PassageIngestor interface {
	UpsertPassages(ctx context.Context, workspaceID string, passages []domain.Passage) ([]string, error)
	IndexPassages(ctx context.Context, workspaceID string, passageIDs []string) (int, error)
}

// GraphManager is the inbound contract for precedent graph maintenance.
type GraphManager interface {
	UpdateFromPassages(ctx context.Context, workspaceID string, passageIDs []string) (*domain.MergeResult, error)
	Merge(ctx context.Context, workspaceID string, edges []domain.Edge) (*domain.MergeResult, error)
	Rebuild(ctx context.Context, workspaceID string, edges []domain.Edge) (*domain.MergeResult, error)
	Metrics(ctx context.Context, workspaceID string, topN int) (*domain.GraphMetrics, error)
}

// SessionReader is the inbound read model for stored QA sessions.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*domain.QASession, []domain.Answer, error)
}
