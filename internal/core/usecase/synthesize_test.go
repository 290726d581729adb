package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

type generatorFake struct {
	draft       string
	err         error
	calls       int
	gotQuestion string
	gotEvidence []domain.EvidenceItem
}

func (f *generatorFake) Draft(_ context.Context, question string, evidence []domain.EvidenceItem) (string, error) {
	f.calls++
	f.gotQuestion = question
	f.gotEvidence = evidence
	if f.err != nil {
		return "", f.err
	}
	return f.draft, nil
}

func rankedFixture(id, caseName string, section domain.Section, final float64, text string) domain.RankedPassage {
	return domain.RankedPassage{
		Passage: domain.Passage{
			ID:       id,
			CaseID:   "case-" + id,
			CaseName: caseName,
			Court:    "9th Cir.",
			Year:     2019,
			Section:  section,
			Text:     text,
		},
		Final: final,
	}
}

func collectStages(stages *[]domain.SynthesisState) func(domain.AskEvent) {
	return func(event domain.AskEvent) {
		if event.Type == domain.AskEventStage {
			*stages = append(*stages, event.Stage)
		}
	}
}

func TestSynthesizeGroundedAnswer(t *testing.T) {
	gen := &generatorFake{draft: "The duty applies [1]. Later cases narrowed it [2].  "}
	uc := NewSynthesizeUseCase(gen, SynthesizeConfig{}, nil)
	ranked := []domain.RankedPassage{
		rankedFixture("p-1", "Smith v. Jones", domain.SectionHolding, 1.2, "The duty of care extends to invitees."),
		rankedFixture("p-2", "Doe v. Roe", domain.SectionReasoning, 0.9, "We narrow the duty to foreseeable harms."),
		rankedFixture("p-3", "Day v. Night", domain.SectionDicta, 0.3, "One might imagine broader duties."),
	}

	var stages []domain.SynthesisState
	answer, err := uc.Synthesize(context.Background(), "does the duty apply?", ranked, collectStages(&stages))
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if !answer.Grounded {
		t.Fatalf("expected grounded answer, got refusal %q", answer.RefusalReason)
	}
	if answer.Text != "The duty applies [1]. Later cases narrowed it [2]." {
		t.Fatalf("unexpected text: %q", answer.Text)
	}
	if len(answer.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(answer.Citations))
	}
	if answer.Citations[0].Marker != 1 || answer.Citations[0].PassageID != "p-1" || answer.Citations[0].CaseName != "Smith v. Jones" {
		t.Fatalf("unexpected first citation: %+v", answer.Citations[0])
	}
	if answer.Citations[1].Marker != 2 || answer.Citations[1].PassageID != "p-2" {
		t.Fatalf("unexpected second citation: %+v", answer.Citations[1])
	}
	if answer.Confidence <= 0 || answer.Confidence > 1 {
		t.Fatalf("confidence out of range: %f", answer.Confidence)
	}
	want := []domain.SynthesisState{domain.StatePlanning, domain.StateDrafting, domain.StateVerifying}
	if len(stages) != len(want) {
		t.Fatalf("expected stages %v, got %v", want, stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stage %d: expected %s, got %s", i, want[i], stages[i])
		}
	}
	if gen.gotQuestion != "does the duty apply?" {
		t.Fatalf("generator saw question %q", gen.gotQuestion)
	}
}

func TestSynthesizeRefusesWithoutMarkers(t *testing.T) {
	gen := &generatorFake{draft: "Courts generally impose such duties on landowners."}
	uc := NewSynthesizeUseCase(gen, SynthesizeConfig{}, nil)
	ranked := []domain.RankedPassage{rankedFixture("p-1", "Smith v. Jones", domain.SectionHolding, 1.2, "text")}

	answer, err := uc.Synthesize(context.Background(), "question", ranked, nil)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if answer.Grounded {
		t.Fatalf("expected refusal")
	}
	if answer.Text != domain.RefusalText {
		t.Fatalf("refusal text must be %q, got %q", domain.RefusalText, answer.Text)
	}
	if answer.RefusalReason != domain.RefusalNoMarkers {
		t.Fatalf("expected %s, got %s", domain.RefusalNoMarkers, answer.RefusalReason)
	}
	if len(answer.Citations) != 0 {
		t.Fatalf("refusal must carry zero citations, got %d", len(answer.Citations))
	}
	if answer.Confidence != 0 {
		t.Fatalf("refusal confidence must be 0, got %f", answer.Confidence)
	}
}

func TestSynthesizeRefusesOrphanMarker(t *testing.T) {
	gen := &generatorFake{draft: "As held in [7], the claim fails."}
	uc := NewSynthesizeUseCase(gen, SynthesizeConfig{}, nil)
	ranked := []domain.RankedPassage{
		rankedFixture("p-1", "Smith v. Jones", domain.SectionHolding, 1.2, "text"),
		rankedFixture("p-2", "Doe v. Roe", domain.SectionFacts, 0.8, "text"),
	}

	answer, err := uc.Synthesize(context.Background(), "question", ranked, nil)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if answer.RefusalReason != domain.RefusalOrphanMarker {
		t.Fatalf("expected %s, got %s", domain.RefusalOrphanMarker, answer.RefusalReason)
	}
	if answer.Text != domain.RefusalText || len(answer.Citations) != 0 {
		t.Fatalf("orphan marker must refuse with no citations: %+v", answer)
	}
}

func TestSynthesizeRefusesOnEmptyEvidenceWithoutDrafting(t *testing.T) {
	gen := &generatorFake{draft: "[1] irrelevant"}
	uc := NewSynthesizeUseCase(gen, SynthesizeConfig{}, nil)

	answer, err := uc.Synthesize(context.Background(), "question", nil, nil)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if answer.RefusalReason != domain.RefusalNoEvidence {
		t.Fatalf("expected %s, got %s", domain.RefusalNoEvidence, answer.RefusalReason)
	}
	if gen.calls != 0 {
		t.Fatalf("generator must not run without evidence, got %d calls", gen.calls)
	}
}

func TestSynthesizeGeneratorErrorPropagates(t *testing.T) {
	cause := errors.New("connection refused")
	gen := &generatorFake{err: domain.WrapError(domain.ErrGenerationUnavailable, "ollama generate", cause)}
	uc := NewSynthesizeUseCase(gen, SynthesizeConfig{}, nil)
	ranked := []domain.RankedPassage{rankedFixture("p-1", "Smith v. Jones", domain.SectionHolding, 1.2, "text")}

	answer, err := uc.Synthesize(context.Background(), "question", ranked, nil)
	if answer != nil {
		t.Fatalf("expected no answer on generator failure")
	}
	if !domain.IsKind(err, domain.ErrGenerationUnavailable) {
		t.Fatalf("expected generation unavailable, got %v", err)
	}
}

func TestSynthesizeEvidencePackingHonorsBudget(t *testing.T) {
	gen := &generatorFake{draft: "See [1]."}
	long := strings.Repeat("The court reasoned at length about proximate cause. ", 4)
	uc := NewSynthesizeUseCase(gen, SynthesizeConfig{EvidenceCharBudget: 300}, nil)
	ranked := []domain.RankedPassage{
		rankedFixture("p-1", "Smith v. Jones", domain.SectionHolding, 1.2, long),
		rankedFixture("p-2", "Doe v. Roe", domain.SectionReasoning, 0.9, long),
		rankedFixture("p-3", "Day v. Night", domain.SectionFacts, 0.7, long),
	}

	answer, err := uc.Synthesize(context.Background(), "question", ranked, nil)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(gen.gotEvidence) != 1 {
		t.Fatalf("expected budget to keep 1 block, got %d", len(gen.gotEvidence))
	}
	if gen.gotEvidence[0].Index != 1 || gen.gotEvidence[0].Passage.ID != "p-1" {
		t.Fatalf("expected top-ranked passage packed first, got %+v", gen.gotEvidence[0])
	}
	if !answer.Grounded {
		t.Fatalf("expected grounded answer, got %q", answer.RefusalReason)
	}
}

func TestSynthesizeOversizedTopPassageIsTruncatedNotDropped(t *testing.T) {
	gen := &generatorFake{draft: "See [1]."}
	uc := NewSynthesizeUseCase(gen, SynthesizeConfig{EvidenceCharBudget: 80}, nil)
	ranked := []domain.RankedPassage{
		rankedFixture("p-1", "Smith v. Jones", domain.SectionHolding, 1.2, strings.Repeat("x", 500)),
	}

	if _, err := uc.Synthesize(context.Background(), "question", ranked, nil); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(gen.gotEvidence) != 1 {
		t.Fatalf("oversized top passage must still be packed, got %d blocks", len(gen.gotEvidence))
	}
	if len(gen.gotEvidence[0].Passage.Text) >= 500 {
		t.Fatalf("expected truncated text, got %d chars", len(gen.gotEvidence[0].Passage.Text))
	}
}

func TestSynthesizeDeduplicatesRepeatedMarkers(t *testing.T) {
	gen := &generatorFake{draft: "Rule stated [1]; applied [1]; limited [2]."}
	uc := NewSynthesizeUseCase(gen, SynthesizeConfig{}, nil)
	ranked := []domain.RankedPassage{
		rankedFixture("p-1", "Smith v. Jones", domain.SectionHolding, 1.5, "text"),
		rankedFixture("p-2", "Doe v. Roe", domain.SectionReasoning, 1.5, "text"),
	}

	answer, err := uc.Synthesize(context.Background(), "question", ranked, nil)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(answer.Citations) != 2 {
		t.Fatalf("expected deduplicated citations, got %d", len(answer.Citations))
	}
	if answer.Confidence < 0.99 || answer.Confidence > 1 {
		t.Fatalf("full coverage of top-weight evidence should score 1.0, got %f", answer.Confidence)
	}
}
