package domain

import "time"

type IndexUpsertEvent struct {
	WorkspaceID string    `json:"workspace_id"`
	PassageIDs  []string  `json:"passage_ids"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

type IndexUpdatedEvent struct {
	WorkspaceID string `json:"workspace_id"`
	Indexed     int    `json:"indexed"`
}

type GraphUpdateEvent struct {
	WorkspaceID string   `json:"workspace_id"`
	PassageIDs  []string `json:"passage_ids"`
}

type GraphUpdatedEvent struct {
	WorkspaceID string `json:"workspace_id"`
	Version     int64  `json:"version"`
	EdgesAdded  int    `json:"edges_added"`
}

type AskQueuedEvent struct {
	SessionID   string `json:"session_id"`
	WorkspaceID string `json:"workspace_id"`
	Question    string `json:"question"`
}

type AnswerReadyEvent struct {
	SessionID string `json:"session_id"`
	AnswerID  string `json:"answer_id"`
	Grounded  bool   `json:"grounded"`
}
