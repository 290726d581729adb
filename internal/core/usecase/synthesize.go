package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/caselex/precedent-engine/internal/core/domain"
	"github.com/caselex/precedent-engine/internal/core/ports"
)

const (
	defaultEvidenceCharBudget = 6000

	// Final scores cap at maxSectionWeight when fused is 1.0.
	maxFinalScore = 1.5

	confidenceScoreWeight    = 0.6
	confidenceCoverageWeight = 0.4
)

var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// SynthesizeConfig controls evidence packing for the drafting prompt.
type SynthesizeConfig struct {
	EvidenceCharBudget int
}

func (c *SynthesizeConfig) normalize() {
	if c.EvidenceCharBudget <= 0 {
		c.EvidenceCharBudget = defaultEvidenceCharBudget
	}
}

// SynthesizeUseCase turns ranked passages into a grounded answer or a refusal.
// A grounded answer must cite the packed evidence through bracketed markers;
// drafts whose markers do not all resolve are replaced by a refusal.
type SynthesizeUseCase struct {
	generator ports.Generator
	cfg       SynthesizeConfig
	logger    *slog.Logger
}

func NewSynthesizeUseCase(generator ports.Generator, cfg SynthesizeConfig, logger *slog.Logger) *SynthesizeUseCase {
	cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &SynthesizeUseCase{generator: generator, cfg: cfg, logger: logger}
}

// Synthesize runs planning, drafting and verification over the ranked
// passages. It returns a refusal answer rather than an error when the
// evidence cannot support a grounded response; errors are reserved for
// infrastructure failures such as an unreachable generator.
func (uc *SynthesizeUseCase) Synthesize(ctx context.Context, question string, ranked []domain.RankedPassage, emit func(domain.AskEvent)) (*domain.Answer, error) {
	emitStage(emit, domain.StatePlanning)
	evidence := uc.packEvidence(ranked)
	if len(evidence) == 0 {
		uc.logger.Warn("synthesis_refused", "reason", domain.RefusalNoEvidence, "question_len", len(question))
		return refusalAnswer(domain.RefusalNoEvidence), nil
	}

	emitStage(emit, domain.StateDrafting)
	draft, err := uc.generator.Draft(ctx, question, evidence)
	if err != nil {
		return nil, fmt.Errorf("draft answer: %w", err)
	}

	emitStage(emit, domain.StateVerifying)
	markers, reason := uc.verifyDraft(draft, len(evidence))
	if reason != "" {
		uc.logger.Warn("synthesis_refused", "reason", reason, "evidence_count", len(evidence))
		return refusalAnswer(reason), nil
	}

	citations := buildCitations(markers, evidence)
	return &domain.Answer{
		Text:       strings.TrimSpace(draft),
		Grounded:   len(citations) >= 1,
		Confidence: confidenceFor(markers, evidence),
		Citations:  citations,
	}, nil
}

// packEvidence keeps ranked order and stops once the character budget is
// spent. The top passage is always packed, truncated if it alone exceeds
// the budget, so a non-empty ranking can never produce an empty prompt.
func (uc *SynthesizeUseCase) packEvidence(ranked []domain.RankedPassage) []domain.EvidenceItem {
	var items []domain.EvidenceItem
	used := 0
	for _, candidate := range ranked {
		index := len(items) + 1
		block := formatEvidenceBlock(index, candidate)
		if used+len(block) > uc.cfg.EvidenceCharBudget {
			if len(items) > 0 {
				break
			}
			trimmed := candidate
			trimmed.Text = truncateRunes(candidate.Text, uc.cfg.EvidenceCharBudget/2)
			block = formatEvidenceBlock(index, trimmed)
			items = append(items, domain.EvidenceItem{Index: index, Passage: trimmed})
			break
		}
		items = append(items, domain.EvidenceItem{Index: index, Passage: candidate})
		used += len(block)
	}
	return items
}

// verifyDraft checks that the draft cites the packed evidence. It returns the
// distinct markers in ascending order, or a refusal reason when the draft has
// no markers at all or references an evidence index that was never packed.
func (uc *SynthesizeUseCase) verifyDraft(draft string, evidenceCount int) ([]int, string) {
	matches := markerPattern.FindAllStringSubmatch(draft, -1)
	if len(matches) == 0 {
		return nil, domain.RefusalNoMarkers
	}
	seen := make(map[int]bool, len(matches))
	var markers []int
	for _, match := range matches {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 || n > evidenceCount {
			uc.logger.Warn("orphan_citation_marker",
				"kind", domain.ErrOrphanMarker.Error(),
				"marker", match[0],
				"evidence_count", evidenceCount)
			return nil, domain.RefusalOrphanMarker
		}
		if !seen[n] {
			seen[n] = true
			markers = append(markers, n)
		}
	}
	sort.Ints(markers)
	return markers, ""
}

func buildCitations(markers []int, evidence []domain.EvidenceItem) []domain.AnswerCitation {
	citations := make([]domain.AnswerCitation, 0, len(markers))
	for _, marker := range markers {
		passage := evidence[marker-1].Passage
		citations = append(citations, domain.AnswerCitation{
			Marker:    marker,
			PassageID: passage.ID,
			CaseID:    passage.CaseID,
			CaseName:  passage.CaseName,
			Section:   passage.Section,
		})
	}
	return citations
}

// confidenceFor blends the mean retrieval score of the cited passages with
// the share of packed evidence the draft actually used, clamped to [0, 1].
func confidenceFor(markers []int, evidence []domain.EvidenceItem) float64 {
	if len(markers) == 0 || len(evidence) == 0 {
		return 0
	}
	totalFinal := 0.0
	for _, marker := range markers {
		totalFinal += evidence[marker-1].Passage.Final
	}
	score := totalFinal / float64(len(markers)) / maxFinalScore
	coverage := float64(len(markers)) / float64(len(evidence))
	confidence := confidenceScoreWeight*score + confidenceCoverageWeight*coverage
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

func refusalAnswer(reason string) *domain.Answer {
	return &domain.Answer{
		Text:          domain.RefusalText,
		Grounded:      false,
		RefusalReason: reason,
		Confidence:    0,
	}
}

func emitStage(emit func(domain.AskEvent), state domain.SynthesisState) {
	if emit == nil {
		return
	}
	emit(domain.AskEvent{Type: domain.AskEventStage, Stage: state})
}

func formatEvidenceBlock(index int, passage domain.RankedPassage) string {
	header := fmt.Sprintf("[%d] %s", index, passage.CaseName)
	if passage.Court != "" {
		header += ", " + passage.Court
	}
	if passage.Year != 0 {
		header += fmt.Sprintf(" (%d)", passage.Year)
	}
	if passage.Section != "" {
		header += " [" + string(passage.Section) + "]"
	}
	return header + "\n" + passage.Text + "\n\n"
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
