package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/caselex/precedent-engine/internal/core/domain"
	"github.com/caselex/precedent-engine/internal/core/ports"
)

type RetrieveConfig struct {
	// Candidates is the per-leg top N.
	Candidates int
	// VectorWeight is the vector leg's share of the fused score.
	VectorWeight float64
	// AllowDegraded serves results from one leg when the other fails.
	AllowDegraded bool
}

func (c RetrieveConfig) normalize() RetrieveConfig {
	if c.Candidates <= 0 {
		c.Candidates = 50
	}
	if c.VectorWeight <= 0 || c.VectorWeight > 1 {
		c.VectorWeight = 0.6
	}
	return c
}

type RetrieveUseCase struct {
	embedder ports.Embedder
	lexical  ports.LexicalIndex
	vector   ports.VectorIndex
	cfg      RetrieveConfig
	logger   *slog.Logger
}

func NewRetrieveUseCase(
	embedder ports.Embedder,
	lexical ports.LexicalIndex,
	vector ports.VectorIndex,
	cfg RetrieveConfig,
	logger *slog.Logger,
) *RetrieveUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrieveUseCase{
		embedder: embedder,
		lexical:  lexical,
		vector:   vector,
		cfg:      cfg.normalize(),
		logger:   logger,
	}
}

type legResult struct {
	hits []domain.ScoredPassage
	err  error
}

// Retrieve runs both search legs concurrently and returns fused candidates
// in deterministic order. No hits is an empty slice, never an error.
func (uc *RetrieveUseCase) Retrieve(ctx context.Context, workspaceID, question string) ([]domain.FusedCandidate, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	question = strings.TrimSpace(question)
	if workspaceID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("workspace id is required"))
	}
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("question is required"))
	}

	lexCh := make(chan legResult, 1)
	vecCh := make(chan legResult, 1)

	go func() {
		hits, err := uc.lexical.SearchLexical(ctx, workspaceID, question, uc.cfg.Candidates)
		if err != nil {
			lexCh <- legResult{err: fmt.Errorf("lexical search: %w", err)}
			return
		}
		lexCh <- legResult{hits: hits}
	}()
	go func() {
		queryVector, err := uc.embedder.EmbedQuery(ctx, question)
		if err != nil {
			vecCh <- legResult{err: fmt.Errorf("embed query: %w", err)}
			return
		}
		hits, err := uc.vector.SearchVector(ctx, workspaceID, queryVector, uc.cfg.Candidates)
		if err != nil {
			vecCh <- legResult{err: fmt.Errorf("vector search: %w", err)}
			return
		}
		vecCh <- legResult{hits: hits}
	}()

	lex := <-lexCh
	vec := <-vecCh

	if lex.err != nil && vec.err != nil {
		return nil, fmt.Errorf("both retrieval legs failed: %w; %w", lex.err, vec.err)
	}
	if lex.err != nil {
		if !uc.cfg.AllowDegraded {
			return nil, lex.err
		}
		uc.logger.Warn("retrieval_leg_degraded", "leg", "lexical", "workspace_id", workspaceID, "error", lex.err.Error())
	}
	if vec.err != nil {
		if !uc.cfg.AllowDegraded {
			return nil, vec.err
		}
		uc.logger.Warn("retrieval_leg_degraded", "leg", "vector", "workspace_id", workspaceID, "error", vec.err.Error())
	}

	return fuseCandidates(lex.hits, vec.hits, uc.cfg.VectorWeight), nil
}

// fuseCandidates min-max normalizes each leg, dedupes by passage id keeping
// the best per-leg score, and combines them as
// vectorWeight*vector + (1-vectorWeight)*lexical. A passage missing from a
// leg contributes 0 for that leg.
func fuseCandidates(lexical, vector []domain.ScoredPassage, vectorWeight float64) []domain.FusedCandidate {
	lexNorm := normalizeLegScores(lexical)
	vecNorm := normalizeLegScores(vector)

	byID := make(map[string]*domain.FusedCandidate, len(lexical)+len(vector))
	for i, hit := range lexical {
		candidate, ok := byID[hit.Passage.ID]
		if !ok {
			byID[hit.Passage.ID] = &domain.FusedCandidate{Passage: hit.Passage, Lexical: lexNorm[i]}
			continue
		}
		candidate.Passage = preferRicherPassage(candidate.Passage, hit.Passage)
		if lexNorm[i] > candidate.Lexical {
			candidate.Lexical = lexNorm[i]
		}
	}
	for i, hit := range vector {
		candidate, ok := byID[hit.Passage.ID]
		if !ok {
			byID[hit.Passage.ID] = &domain.FusedCandidate{Passage: hit.Passage, Vector: vecNorm[i]}
			continue
		}
		candidate.Passage = preferRicherPassage(candidate.Passage, hit.Passage)
		if vecNorm[i] > candidate.Vector {
			candidate.Vector = vecNorm[i]
		}
	}

	fused := make([]domain.FusedCandidate, 0, len(byID))
	for _, candidate := range byID {
		candidate.Fused = vectorWeight*candidate.Vector + (1-vectorWeight)*candidate.Lexical
		fused = append(fused, *candidate)
	}
	sortFusedCandidates(fused)
	return fused
}

// normalizeLegScores min-max scales one leg's raw scores into [0,1]. A
// degenerate range maps positive scores to 1 and the rest to 0.
func normalizeLegScores(hits []domain.ScoredPassage) []float64 {
	normalized := make([]float64, len(hits))
	if len(hits) == 0 {
		return normalized
	}

	minScore := hits[0].Score
	maxScore := hits[0].Score
	for _, hit := range hits[1:] {
		if hit.Score < minScore {
			minScore = hit.Score
		}
		if hit.Score > maxScore {
			maxScore = hit.Score
		}
	}

	rangeScore := maxScore - minScore
	for i, hit := range hits {
		if rangeScore <= 0 {
			if hit.Score > 0 {
				normalized[i] = 1
			}
			continue
		}
		normalized[i] = (hit.Score - minScore) / rangeScore
	}
	return normalized
}

func sortFusedCandidates(candidates []domain.FusedCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Fused != candidates[j].Fused {
			return candidates[i].Fused > candidates[j].Fused
		}
		wi := candidates[i].Passage.Section.Weight()
		wj := candidates[j].Passage.Section.Weight()
		if wi != wj {
			return wi > wj
		}
		return candidates[i].Passage.ID < candidates[j].Passage.ID
	})
}

func preferRicherPassage(current, incoming domain.Passage) domain.Passage {
	if len(incoming.Text) > len(current.Text) {
		return incoming
	}
	return current
}
