package domain

import "time"

type SynthesisState string

const (
	StateRetrieving SynthesisState = "retrieving"
	StatePlanning   SynthesisState = "planning"
	StateDrafting   SynthesisState = "drafting"
	StateVerifying  SynthesisState = "verifying"
	StateGrounded   SynthesisState = "grounded"
	StateRefused    SynthesisState = "refused"
)

// RefusalText is the exact answer body whenever synthesis refuses. Clients
// match on it, so it never varies.
const RefusalText = "no precedent found"

const (
	RefusalNoEvidence       = "no_evidence"
	RefusalNoMarkers        = "no_markers"
	RefusalOrphanMarker     = "orphan_marker"
	RefusalRetrievalTimeout = "retrieval_timeout"
	RefusalSynthesisTimeout = "synthesis_timeout"
)

type AskRequest struct {
	WorkspaceID string `json:"workspace_id"`
	SessionID   string `json:"session_id,omitempty"`
	Question    string `json:"question"`
}

type Answer struct {
	ID            string           `json:"id"`
	SessionID     string           `json:"session_id"`
	WorkspaceID   string           `json:"workspace_id"`
	Question      string           `json:"question"`
	Text          string           `json:"text"`
	Grounded      bool             `json:"grounded"`
	RefusalReason string           `json:"refusal_reason,omitempty"`
	Confidence    float64          `json:"confidence"`
	Citations     []AnswerCitation `json:"citations"`
	CreatedAt     time.Time        `json:"created_at"`
}

type QASession struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	AskEventStage  = "stage"
	AskEventDelta  = "delta"
	AskEventAnswer = "answer"
)

// AskEvent is one streamed pipeline event: a stage transition, a chunk of
// verified answer text, or the final answer.
type AskEvent struct {
	Type   string         `json:"type"`
	Stage  SynthesisState `json:"stage,omitempty"`
	Delta  string         `json:"delta,omitempty"`
	Answer *Answer        `json:"answer,omitempty"`
}

// EvidenceItem is one numbered block in the evidence pack handed to the
// generator; Index matches the [n] marker the draft must cite.
type EvidenceItem struct {
	Index   int           `json:"index"`
	Passage RankedPassage `json:"passage"`
}
