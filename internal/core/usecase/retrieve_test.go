package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

type lexicalFake struct {
	hits []domain.ScoredPassage
	err  error
}

func (f *lexicalFake) SearchLexical(context.Context, string, string, int) ([]domain.ScoredPassage, error) {
	return f.hits, f.err
}

type vectorFake struct {
	hits []domain.ScoredPassage
	err  error
}

func (f *vectorFake) IndexPassages(context.Context, string, []domain.Passage, [][]float32) error {
	return nil
}

func (f *vectorFake) SearchVector(context.Context, string, []float32, int) ([]domain.ScoredPassage, error) {
	return f.hits, f.err
}

type embedderFake struct {
	err error
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{0.1, 0.2}
	}
	return vectors, nil
}

func (f *embedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func scoredPassage(id string, section domain.Section, score float64) domain.ScoredPassage {
	return domain.ScoredPassage{
		Passage: domain.Passage{ID: id, WorkspaceID: "ws-1", CaseID: "case-" + id, Section: section, Text: "text " + id},
		Score:   score,
	}
}

func TestRetrieveFusesLegsAndDeduplicates(t *testing.T) {
	lexical := &lexicalFake{hits: []domain.ScoredPassage{
		scoredPassage("p1", domain.SectionFacts, 2.0),
		scoredPassage("p2", domain.SectionHolding, 1.0),
	}}
	vector := &vectorFake{hits: []domain.ScoredPassage{
		scoredPassage("p2", domain.SectionHolding, 0.9),
		scoredPassage("p3", domain.SectionReasoning, 0.6),
	}}
	uc := NewRetrieveUseCase(&embedderFake{}, lexical, vector, RetrieveConfig{VectorWeight: 0.6}, nil)

	fused, err := uc.Retrieve(context.Background(), "ws-1", "standard of review")
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(fused) != 3 {
		t.Fatalf("expected 3 deduplicated candidates, got %d", len(fused))
	}
	// p2 has normalized lexical 0 and vector 1, fused 0.6; p1 lexical 1, fused 0.4.
	if fused[0].Passage.ID != "p2" || fused[1].Passage.ID != "p1" || fused[2].Passage.ID != "p3" {
		t.Fatalf("unexpected order: %s, %s, %s", fused[0].Passage.ID, fused[1].Passage.ID, fused[2].Passage.ID)
	}
	if fused[0].Fused != 0.6 {
		t.Fatalf("expected fused 0.6 for p2, got %f", fused[0].Fused)
	}
	if fused[1].Vector != 0 {
		t.Fatalf("expected missing vector leg score 0 for p1, got %f", fused[1].Vector)
	}
}

func TestRetrieveIsDeterministic(t *testing.T) {
	lexical := &lexicalFake{hits: []domain.ScoredPassage{
		scoredPassage("p1", domain.SectionFacts, 1.0),
		scoredPassage("p2", domain.SectionHolding, 1.0),
		scoredPassage("p3", domain.SectionDicta, 1.0),
	}}
	vector := &vectorFake{}
	uc := NewRetrieveUseCase(&embedderFake{}, lexical, vector, RetrieveConfig{}, nil)

	first, err := uc.Retrieve(context.Background(), "ws-1", "duty of care")
	if err != nil {
		t.Fatalf("first retrieve: %v", err)
	}
	second, err := uc.Retrieve(context.Background(), "ws-1", "duty of care")
	if err != nil {
		t.Fatalf("second retrieve: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("result sizes differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Passage.ID != second[i].Passage.ID || first[i].Fused != second[i].Fused {
			t.Fatalf("run mismatch at %d: %s/%f vs %s/%f",
				i, first[i].Passage.ID, first[i].Fused, second[i].Passage.ID, second[i].Fused)
		}
	}
	// Tied fused scores break by section weight, then by passage id.
	if first[0].Passage.ID != "p2" || first[1].Passage.ID != "p1" || first[2].Passage.ID != "p3" {
		t.Fatalf("unexpected tie-break order: %s, %s, %s",
			first[0].Passage.ID, first[1].Passage.ID, first[2].Passage.ID)
	}
}

func TestRetrieveEmptyQuestionRejected(t *testing.T) {
	uc := NewRetrieveUseCase(&embedderFake{}, &lexicalFake{}, &vectorFake{}, RetrieveConfig{}, nil)

	if _, err := uc.Retrieve(context.Background(), "ws-1", "   "); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRetrieveNoHitsIsNotAnError(t *testing.T) {
	uc := NewRetrieveUseCase(&embedderFake{}, &lexicalFake{}, &vectorFake{}, RetrieveConfig{}, nil)

	fused, err := uc.Retrieve(context.Background(), "ws-1", "unheard theory")
	if err != nil {
		t.Fatalf("expected nil error on empty result, got %v", err)
	}
	if len(fused) != 0 {
		t.Fatalf("expected empty result, got %d", len(fused))
	}
}

func TestRetrieveDegradedVectorLegServesLexical(t *testing.T) {
	lexical := &lexicalFake{hits: []domain.ScoredPassage{scoredPassage("p1", domain.SectionHolding, 1.0)}}
	uc := NewRetrieveUseCase(
		&embedderFake{err: errors.New("embedder down")},
		lexical,
		&vectorFake{},
		RetrieveConfig{AllowDegraded: true},
		nil,
	)

	fused, err := uc.Retrieve(context.Background(), "ws-1", "negligence per se")
	if err != nil {
		t.Fatalf("degraded retrieve: %v", err)
	}
	if len(fused) != 1 || fused[0].Passage.ID != "p1" {
		t.Fatalf("expected lexical-only result, got %+v", fused)
	}
}

func TestRetrieveLegFailureFailsWhenDegradedDisallowed(t *testing.T) {
	kindErr := domain.WrapError(domain.ErrIndexUnavailable, "vector search", errors.New("connection refused"))
	uc := NewRetrieveUseCase(
		&embedderFake{},
		&lexicalFake{},
		&vectorFake{err: kindErr},
		RetrieveConfig{AllowDegraded: false},
		nil,
	)

	if _, err := uc.Retrieve(context.Background(), "ws-1", "standing"); !domain.IsKind(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected index unavailable, got %v", err)
	}
}
