package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/caselex/precedent-engine/internal/core/domain"
	"github.com/caselex/precedent-engine/internal/core/ports"
)

const (
	defaultEmbedBatchSize   = 16
	defaultEmbedConcurrency = 4
)

// IndexConfig bounds the embedding fan-out when indexing passages.
type IndexConfig struct {
	EmbedBatchSize   int
	EmbedConcurrency int
}

func (c *IndexConfig) normalize() {
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = defaultEmbedBatchSize
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = defaultEmbedConcurrency
	}
}

// IndexUseCase accepts passages into the corpus and builds their vector
// representations. Acceptance is synchronous; embedding and indexing run
// later, driven by the queue events UpsertPassages publishes.
type IndexUseCase struct {
	passages ports.PassageRepository
	vector   ports.VectorIndex
	embedder ports.Embedder
	chunker  ports.Chunker
	queue    ports.MessageQueue
	cfg      IndexConfig
	logger   *slog.Logger
}

func NewIndexUseCase(
	passages ports.PassageRepository,
	vector ports.VectorIndex,
	embedder ports.Embedder,
	chunker ports.Chunker,
	queue ports.MessageQueue,
	cfg IndexConfig,
	logger *slog.Logger,
) *IndexUseCase {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexUseCase{
		passages: passages,
		vector:   vector,
		embedder: embedder,
		chunker:  chunker,
		queue:    queue,
		cfg:      cfg,
		logger:   logger,
	}
}

// UpsertPassages validates and persists the passages, then enqueues them for
// vector indexing and citation graph extraction. It returns the passage ids
// in input order, minting ids for passages that arrive without one.
func (uc *IndexUseCase) UpsertPassages(ctx context.Context, workspaceID string, passages []domain.Passage) ([]string, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upsert passages", fmt.Errorf("workspace id is required"))
	}
	if len(passages) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upsert passages", fmt.Errorf("at least one passage is required"))
	}

	now := time.Now().UTC()
	ids := make([]string, len(passages))
	normalized := make([]domain.Passage, len(passages))
	for i, passage := range passages {
		passage.Text = strings.TrimSpace(passage.Text)
		passage.CaseID = strings.TrimSpace(passage.CaseID)
		if passage.Text == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "upsert passages", fmt.Errorf("passage %d has empty text", i))
		}
		if passage.CaseID == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "upsert passages", fmt.Errorf("passage %d has no case id", i))
		}
		if passage.ID == "" {
			passage.ID = uuid.NewString()
		}
		passage.WorkspaceID = workspaceID
		passage.Section = domain.NormalizeSection(string(passage.Section))
		if passage.CreatedAt.IsZero() {
			passage.CreatedAt = now
		}
		passage.UpdatedAt = now
		ids[i] = passage.ID
		normalized[i] = passage
	}

	if err := uc.passages.Upsert(ctx, normalized); err != nil {
		return nil, fmt.Errorf("upsert passages: %w", err)
	}
	if uc.queue != nil {
		if err := uc.queue.PublishIndexUpsert(ctx, domain.IndexUpsertEvent{
			WorkspaceID: workspaceID,
			PassageIDs:  ids,
			EnqueuedAt:  now,
		}); err != nil {
			return nil, fmt.Errorf("publish index upsert: %w", err)
		}
		if err := uc.queue.PublishGraphUpdate(ctx, domain.GraphUpdateEvent{
			WorkspaceID: workspaceID,
			PassageIDs:  ids,
		}); err != nil {
			return nil, fmt.Errorf("publish graph update: %w", err)
		}
	}
	return ids, nil
}

// IndexPassages embeds the passages and writes their vectors to the index.
// Over-long passages are split into chunks whose embeddings are mean-pooled
// back into a single passage vector. Returns how many passages were indexed.
func (uc *IndexUseCase) IndexPassages(ctx context.Context, workspaceID string, passageIDs []string) (int, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return 0, domain.WrapError(domain.ErrInvalidInput, "index passages", fmt.Errorf("workspace id is required"))
	}
	if len(passageIDs) == 0 {
		return 0, nil
	}

	passages, err := uc.passages.GetByIDs(ctx, workspaceID, passageIDs)
	if err != nil {
		return 0, fmt.Errorf("load passages: %w", err)
	}
	if len(passages) < len(passageIDs) {
		uc.logger.Warn("passages_missing",
			"workspace_id", workspaceID,
			"requested", len(passageIDs),
			"found", len(passages))
	}
	if len(passages) == 0 {
		return 0, nil
	}

	texts, owners := uc.chunkPassages(passages)
	vectors, err := uc.embedAll(ctx, texts)
	if err != nil {
		return 0, err
	}
	pooled := poolByOwner(vectors, owners, len(passages))

	if err := uc.vector.IndexPassages(ctx, workspaceID, passages, pooled); err != nil {
		return 0, fmt.Errorf("index vectors: %w", err)
	}

	if uc.queue != nil {
		if err := uc.queue.PublishIndexUpdated(ctx, domain.IndexUpdatedEvent{
			WorkspaceID: workspaceID,
			Indexed:     len(passages),
		}); err != nil {
			uc.logger.Warn("index_completion_publish_failed", "workspace_id", workspaceID, "error", err)
		}
	}
	return len(passages), nil
}

// chunkPassages flattens passage texts into embeddable chunks, remembering
// which passage each chunk belongs to.
func (uc *IndexUseCase) chunkPassages(passages []domain.Passage) ([]string, []int) {
	var texts []string
	var owners []int
	for i, passage := range passages {
		chunks := uc.chunker.Split(passage.Text)
		if len(chunks) == 0 {
			chunks = []string{passage.Text}
		}
		for _, chunk := range chunks {
			texts = append(texts, chunk)
			owners = append(owners, i)
		}
	}
	return texts, owners
}

// embedAll fans batches out to the embedder with bounded concurrency. Batch
// results land in disjoint regions of the shared slice, so no lock is needed.
func (uc *IndexUseCase) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(uc.cfg.EmbedConcurrency)
	for start := 0; start < len(texts); start += uc.cfg.EmbedBatchSize {
		start := start
		end := start + uc.cfg.EmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		group.Go(func() error {
			batch, err := uc.embedder.Embed(groupCtx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch at %d: %w", start, err)
			}
			if len(batch) != end-start {
				return fmt.Errorf("embed batch at %d: got %d vectors for %d texts", start, len(batch), end-start)
			}
			for i, vector := range batch {
				vectors[start+i] = vector
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// poolByOwner mean-pools chunk vectors back into one vector per passage.
func poolByOwner(vectors [][]float32, owners []int, passageCount int) [][]float32 {
	pooled := make([][]float32, passageCount)
	counts := make([]int, passageCount)
	for i, vector := range vectors {
		owner := owners[i]
		if pooled[owner] == nil {
			pooled[owner] = make([]float32, len(vector))
		}
		for j := 0; j < len(vector) && j < len(pooled[owner]); j++ {
			pooled[owner][j] += vector[j]
		}
		counts[owner]++
	}
	for i := range pooled {
		if counts[i] <= 1 {
			continue
		}
		for j := range pooled[i] {
			pooled[i][j] /= float32(counts[i])
		}
	}
	return pooled
}
