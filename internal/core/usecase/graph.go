package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/caselex/precedent-engine/internal/core/domain"
	"github.com/caselex/precedent-engine/internal/core/ports"
)

type GraphConfig struct {
	PageRankDamping  float64
	PageRankMaxIters int
}

// GraphUseCase maintains the versioned precedent graph of each workspace.
// Writes to one workspace are serialized through a keyed mutex; different
// workspaces merge in parallel and reads never take the lock.
type GraphUseCase struct {
	passages   ports.PassageRepository
	store      ports.GraphStore
	projector  ports.GraphProjector
	extractor  *CiteExtractor
	classifier *TreatmentClassifier
	cfg        GraphConfig
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGraphUseCase wires the graph builder. projector may be nil when no
// external mirror is configured.
func NewGraphUseCase(
	passages ports.PassageRepository,
	store ports.GraphStore,
	projector ports.GraphProjector,
	extractor *CiteExtractor,
	classifier *TreatmentClassifier,
	cfg GraphConfig,
	logger *slog.Logger,
) *GraphUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphUseCase{
		passages:   passages,
		store:      store,
		projector:  projector,
		extractor:  extractor,
		classifier: classifier,
		cfg:        cfg,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (uc *GraphUseCase) workspaceLock(workspaceID string) *sync.Mutex {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	lock, ok := uc.locks[workspaceID]
	if !ok {
		lock = &sync.Mutex{}
		uc.locks[workspaceID] = lock
	}
	return lock
}

// Merge applies an atomic union of edges into the workspace graph and bumps
// the version. An empty batch still bumps the version as an audit point.
func (uc *GraphUseCase) Merge(ctx context.Context, workspaceID string, edges []domain.Edge) (*domain.MergeResult, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "graph merge", fmt.Errorf("workspace id is required"))
	}
	valid := uc.sanitizeEdges(workspaceID, edges)

	lock := uc.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	version, err := uc.store.CurrentVersion(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("current graph version: %w", err)
	}
	result, err := uc.store.ApplyMerge(ctx, workspaceID, version, valid)
	if err != nil {
		return nil, fmt.Errorf("apply merge: %w", err)
	}
	uc.project(ctx, result)
	return result, nil
}

// Rebuild replaces the workspace edge set. A nil edge slice re-extracts
// edges from every passage in the workspace corpus.
func (uc *GraphUseCase) Rebuild(ctx context.Context, workspaceID string, edges []domain.Edge) (*domain.MergeResult, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "graph rebuild", fmt.Errorf("workspace id is required"))
	}
	if edges == nil {
		passages, err := uc.passages.ListWorkspace(ctx, workspaceID)
		if err != nil {
			return nil, fmt.Errorf("list workspace passages: %w", err)
		}
		edges = uc.extractEdges(workspaceID, passages)
	}
	valid := uc.sanitizeEdges(workspaceID, edges)

	lock := uc.workspaceLock(workspaceID)
	lock.Lock()
	defer lock.Unlock()

	version, err := uc.store.CurrentVersion(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("current graph version: %w", err)
	}
	result, err := uc.store.ApplyRebuild(ctx, workspaceID, version, valid)
	if err != nil {
		return nil, fmt.Errorf("apply rebuild: %w", err)
	}
	uc.project(ctx, result)
	return result, nil
}

// UpdateFromPassages extracts and classifies citations from the given
// passages and merges the resulting edges.
func (uc *GraphUseCase) UpdateFromPassages(ctx context.Context, workspaceID string, passageIDs []string) (*domain.MergeResult, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "graph update", fmt.Errorf("workspace id is required"))
	}
	passages, err := uc.passages.GetByIDs(ctx, workspaceID, passageIDs)
	if err != nil {
		return nil, fmt.Errorf("load passages: %w", err)
	}
	return uc.Merge(ctx, workspaceID, uc.extractEdges(workspaceID, passages))
}

// Metrics computes in/out degree, confidence-weighted PageRank, and
// per-treatment connected components from the current edge set. Reads are
// lock-free; a concurrent merge lands in the next call.
func (uc *GraphUseCase) Metrics(ctx context.Context, workspaceID string, topN int) (*domain.GraphMetrics, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "graph metrics", fmt.Errorf("workspace id is required"))
	}
	version, err := uc.store.CurrentVersion(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("current graph version: %w", err)
	}
	edges, err := uc.store.Edges(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("load graph edges: %w", err)
	}
	return computeGraphMetrics(workspaceID, version, edges, metricsConfig{
		topN:     topN,
		damping:  uc.cfg.PageRankDamping,
		maxIters: uc.cfg.PageRankMaxIters,
	}), nil
}

// extractEdges runs citation extraction and treatment classification over
// passages. The citing side of an edge is the passage's case id; the cited
// side is the canonical citation key.
func (uc *GraphUseCase) extractEdges(workspaceID string, passages []domain.Passage) []domain.Edge {
	edges := make([]domain.Edge, 0, len(passages))
	for _, passage := range passages {
		citing := strings.TrimSpace(passage.CaseID)
		if citing == "" {
			uc.logger.Warn("passage_without_case_id", "passage_id", passage.ID)
			continue
		}
		for _, cite := range uc.extractor.Extract(passage.Text) {
			mention := uc.classifier.Classify(passage.Text, cite)
			edges = append(edges, domain.Edge{
				WorkspaceID:     workspaceID,
				Citing:          citing,
				Cited:           cite.Key(),
				Treatment:       mention.Treatment,
				Confidence:      mention.Confidence,
				SourcePassageID: passage.ID,
			})
		}
	}
	return edges
}

// sanitizeEdges drops malformed and self-citing edges, normalizes
// treatments, clamps confidence, and collapses duplicate edge keys keeping
// the highest confidence. Output order is deterministic.
func (uc *GraphUseCase) sanitizeEdges(workspaceID string, edges []domain.Edge) []domain.Edge {
	byKey := make(map[string]domain.Edge, len(edges))
	for _, edge := range edges {
		edge.WorkspaceID = workspaceID
		edge.Citing = strings.TrimSpace(edge.Citing)
		edge.Cited = strings.TrimSpace(edge.Cited)
		if edge.Citing == "" || edge.Cited == "" {
			uc.logger.Warn("edge_dropped", "workspace_id", workspaceID, "cause", "missing endpoint")
			continue
		}
		if edge.Citing == edge.Cited {
			uc.logger.Warn("self_citation_rejected", "workspace_id", workspaceID, "case", edge.Citing)
			continue
		}
		switch domain.Treatment(strings.ToLower(strings.TrimSpace(string(edge.Treatment)))) {
		case domain.TreatmentFollowed, domain.TreatmentOverruled, domain.TreatmentDistinguished, domain.TreatmentCited:
			edge.Treatment = domain.Treatment(strings.ToLower(strings.TrimSpace(string(edge.Treatment))))
		case "":
			edge.Treatment = domain.TreatmentCited
		default:
			uc.logger.Warn("edge_dropped", "workspace_id", workspaceID, "cause", "unknown treatment", "treatment", string(edge.Treatment))
			continue
		}
		if edge.Confidence < 0 {
			edge.Confidence = 0
		}
		if edge.Confidence > 1 {
			edge.Confidence = 1
		}

		key := edge.Key()
		existing, ok := byKey[key]
		if !ok || edge.Confidence > existing.Confidence {
			byKey[key] = edge
		}
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]domain.Edge, 0, len(byKey))
	for _, key := range keys {
		out = append(out, byKey[key])
	}
	return out
}

// project mirrors the post-merge edge set. Failures are logged and never
// fail the merge; Postgres stays the source of truth.
func (uc *GraphUseCase) project(ctx context.Context, result *domain.MergeResult) {
	if uc.projector == nil {
		return
	}
	edges, err := uc.store.Edges(ctx, result.WorkspaceID)
	if err != nil {
		uc.logger.Warn("graph_projection_skipped", "workspace_id", result.WorkspaceID, "error", err.Error())
		return
	}
	if err := uc.projector.Project(ctx, result.WorkspaceID, result.Version, edges); err != nil {
		uc.logger.Warn("graph_projection_failed",
			"workspace_id", result.WorkspaceID,
			"version", result.Version,
			"error", err.Error(),
		)
	}
}
