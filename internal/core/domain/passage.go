package domain

import (
	"strings"
	"time"
)

type Section string

const (
	SectionHolding           Section = "holding"
	SectionReasoning         Section = "reasoning"
	SectionFacts             Section = "facts"
	SectionSyllabus          Section = "syllabus"
	SectionProceduralHistory Section = "procedural-history"
	SectionDicta             Section = "dicta"
	SectionUnknown           Section = "unknown"
)

// Weight is the rerank multiplier attached to a section label.
func (s Section) Weight() float64 {
	switch s {
	case SectionHolding:
		return 1.5
	case SectionReasoning:
		return 1.2
	case SectionFacts, SectionSyllabus:
		return 1.0
	case SectionProceduralHistory:
		return 0.8
	case SectionDicta:
		return 0.6
	default:
		return 0.5
	}
}

// NormalizeSection maps free-form section labels onto the known set.
// Anything unrecognized becomes SectionUnknown.
func NormalizeSection(raw string) Section {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	switch Section(normalized) {
	case SectionHolding, SectionReasoning, SectionFacts, SectionSyllabus,
		SectionProceduralHistory, SectionDicta:
		return Section(normalized)
	default:
		return SectionUnknown
	}
}

type Passage struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	CaseID      string    `json:"case_id"`
	CaseName    string    `json:"case_name"`
	Court       string    `json:"court,omitempty"`
	Year        int       `json:"year,omitempty"`
	Section     Section   `json:"section"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScoredPassage is one search leg's hit with that leg's raw score.
type ScoredPassage struct {
	Passage Passage `json:"passage"`
	Score   float64 `json:"score"`
}

// FusedCandidate carries the per-leg normalized scores and their weighted
// combination produced by hybrid retrieval.
type FusedCandidate struct {
	Passage `json:"passage"`
	Lexical float64 `json:"lexical"`
	Vector  float64 `json:"vector"`
	Fused   float64 `json:"fused"`
}

// RankedPassage is a fused candidate after section-weight reranking.
type RankedPassage struct {
	Passage       `json:"passage"`
	Lexical       float64 `json:"lexical"`
	Vector        float64 `json:"vector"`
	Fused         float64 `json:"fused"`
	SectionWeight float64 `json:"section_weight"`
	Final         float64 `json:"final"`
}
