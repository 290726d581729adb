package ports

import (
	"context"
	"io"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

// PassageRepository persists and reads corpus passages.
type PassageRepository interface {
	Upsert(ctx context.Context, passages []domain.Passage) error
	GetByIDs(ctx context.Context, workspaceID string, ids []string) ([]domain.Passage, error)
	ListWorkspace(ctx context.Context, workspaceID string) ([]domain.Passage, error)
}

// LexicalIndex is the keyword search leg.
type LexicalIndex interface {
	SearchLexical(ctx context.Context, workspaceID, query string, limit int) ([]domain.ScoredPassage, error)
}

// VectorIndex is the dense search leg.
type VectorIndex interface {
	IndexPassages(ctx context.Context, workspaceID string, passages []domain.Passage, vectors [][]float32) error
	SearchVector(ctx context.Context, workspaceID string, queryVector []float32, limit int) ([]domain.ScoredPassage, error)
}

// Embedder builds vectors for passage chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Generator drafts answer text from packed evidence blocks.
type Generator interface {
	Draft(ctx context.Context, question string, evidence []domain.EvidenceItem) (string, error)
}

// Chunker splits over-long passage text into embeddable chunks.
type Chunker interface {
	Split(text string) []string
}

// GraphStore persists versioned workspace edge sets. ApplyMerge and
// ApplyRebuild fail with domain.ErrMergeConflict when expectedVersion no
// longer matches the stored version.
type GraphStore interface {
	CurrentVersion(ctx context.Context, workspaceID string) (int64, error)
	Edges(ctx context.Context, workspaceID string) ([]domain.Edge, error)
	ApplyMerge(ctx context.Context, workspaceID string, expectedVersion int64, edges []domain.Edge) (*domain.MergeResult, error)
	ApplyRebuild(ctx context.Context, workspaceID string, expectedVersion int64, edges []domain.Edge) (*domain.MergeResult, error)
}

// GraphProjector mirrors a merged edge set into an external graph view.
// Projection is best-effort; callers log failures and keep going.
type GraphProjector interface {
	Project(ctx context.Context, workspaceID string, version int64, edges []domain.Edge) error
}

// AnswerStore persists QA sessions, answers, and answer citations.
type AnswerStore interface {
	EnsureSession(ctx context.Context, workspaceID, sessionID string) (*domain.QASession, error)
	SaveAnswer(ctx context.Context, answer *domain.Answer) error
	GetSession(ctx context.Context, sessionID string) (*domain.QASession, error)
	ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error)
}

// AliasStore serves reporter alias rows extending the built-in table.
type AliasStore interface {
	ListAliases(ctx context.Context) (map[string]string, error)
}

// MessageQueue publishes and consumes pipeline events. Subscribe methods
// block until ctx is done.
type MessageQueue interface {
	PublishIndexUpsert(ctx context.Context, event domain.IndexUpsertEvent) error
	PublishGraphUpdate(ctx context.Context, event domain.GraphUpdateEvent) error
	PublishAskQueued(ctx context.Context, event domain.AskQueuedEvent) error
	PublishIndexUpdated(ctx context.Context, event domain.IndexUpdatedEvent) error
	PublishGraphUpdated(ctx context.Context, event domain.GraphUpdatedEvent) error
	PublishAnswerReady(ctx context.Context, event domain.AnswerReadyEvent) error
	SubscribeIndexUpsert(ctx context.Context, handler func(context.Context, domain.IndexUpsertEvent) error) error
	SubscribeGraphUpdate(ctx context.Context, handler func(context.Context, domain.GraphUpdateEvent) error) error
	SubscribeAskQueued(ctx context.Context, handler func(context.Context, domain.AskQueuedEvent) error) error
}

// SnapshotStore saves and loads serialized index snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
