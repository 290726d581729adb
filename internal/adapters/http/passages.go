package httpadapter

import (
	"encoding/json"
	"net/http"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

type upsertPassagesRequest struct {
	WorkspaceID string           `json:"workspace_id"`
	Passages    []domain.Passage `json:"passages"`
}

// upsertPassages accepts a pre-segmented passage batch. Indexing and graph
// extraction happen asynchronously, so acceptance is a 202.
func (rt *Router) upsertPassages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req upsertPassagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ids, err := rt.indexer.UpsertPassages(r.Context(), req.WorkspaceID, req.Passages)
	if err != nil {
		writeError(w, err)
		return
	}

	rt.httpMetrics.RecordPassagesAccepted("api", len(ids))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"workspace_id": req.WorkspaceID,
		"accepted":     len(ids),
		"passage_ids":  ids,
	})
}
