package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/caselex/precedent-engine/internal/core/domain"
	"github.com/caselex/precedent-engine/internal/infrastructure/resilience"
)

// Index stores passage vectors in Qdrant, one collection per workspace, so
// a workspace rebuild or drop never touches another tenant's vectors.
type Index struct {
	baseURL    string
	prefix     string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu sync.Mutex
	ensured  map[string]int
}

func New(baseURL, collectionPrefix string, executor *resilience.Executor) *Index {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.IndexPolicy(), nil)
	}
	if collectionPrefix == "" {
		collectionPrefix = "precedent"
	}
	return &Index{
		baseURL:    strings.TrimRight(baseURL, "/"),
		prefix:     collectionPrefix,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
		ensured:    make(map[string]int),
	}
}

func (ix *Index) IndexPassages(ctx context.Context, workspaceID string, passages []domain.Passage, vectors [][]float32) error {
	if len(passages) == 0 {
		return nil
	}
	if len(passages) != len(vectors) {
		return fmt.Errorf("qdrant upsert: %d passages with %d vectors", len(passages), len(vectors))
	}
	if len(vectors[0]) == 0 {
		return fmt.Errorf("qdrant upsert: empty vector")
	}

	collection := ix.collectionFor(workspaceID)
	if err := ix.ensureCollection(ctx, collection, len(vectors[0])); err != nil {
		return wrapUnavailable("qdrant ensure collection", err)
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}
	points := make([]point, 0, len(passages))
	for i, passage := range passages {
		points = append(points, point{
			ID:     passage.ID,
			Vector: vectors[i],
			Payload: map[string]any{
				"passage_id":   passage.ID,
				"workspace_id": workspaceID,
				"case_id":      passage.CaseID,
				"case_name":    passage.CaseName,
				"court":        passage.Court,
				"year":         passage.Year,
				"section":      string(passage.Section),
				"text":         passage.Text,
			},
		})
	}

	err := ix.executor.Execute(ctx, "qdrant_upsert", func(callCtx context.Context) error {
		path := fmt.Sprintf("/collections/%s/points?wait=true", collection)
		return ix.call(callCtx, http.MethodPut, path, map[string]any{"points": points}, nil)
	}, classifyQdrantError)
	return wrapUnavailable("qdrant upsert", err)
}

func (ix *Index) SearchVector(ctx context.Context, workspaceID string, queryVector []float32, limit int) ([]domain.ScoredPassage, error) {
	collection := ix.collectionFor(workspaceID)
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	err := ix.executor.Execute(ctx, "qdrant_search", func(callCtx context.Context) error {
		path := fmt.Sprintf("/collections/%s/points/search", collection)
		return ix.call(callCtx, http.MethodPost, path, reqBody, &searchResp)
	}, classifyQdrantError)
	if err != nil {
		// A workspace nobody has indexed yet has no collection. That is an
		// empty result, not an outage.
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, wrapUnavailable("qdrant search", err)
	}

	out := make([]domain.ScoredPassage, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		out = append(out, domain.ScoredPassage{
			Passage: domain.Passage{
				ID:          stringPayload(r.Payload, "passage_id"),
				WorkspaceID: workspaceID,
				CaseID:      stringPayload(r.Payload, "case_id"),
				CaseName:    stringPayload(r.Payload, "case_name"),
				Court:       stringPayload(r.Payload, "court"),
				Year:        intPayload(r.Payload, "year"),
				Section:     domain.Section(stringPayload(r.Payload, "section")),
				Text:        stringPayload(r.Payload, "text"),
			},
			Score: r.Score,
		})
	}
	return out, nil
}

func (ix *Index) collectionFor(workspaceID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '-'
		}
	}, workspaceID)
	return ix.prefix + "_" + sanitized
}

func (ix *Index) ensureCollection(ctx context.Context, collection string, vectorSize int) error {
	ix.ensureMu.Lock()
	if size, ok := ix.ensured[collection]; ok && size == vectorSize {
		ix.ensureMu.Unlock()
		return nil
	}
	ix.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	err := ix.executor.Execute(ctx, "qdrant_ensure", func(callCtx context.Context) error {
		err := ix.call(callCtx, http.MethodPut, "/collections/"+collection, reqBody, nil)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
			// Already exists.
			return nil
		}
		return err
	}, classifyQdrantError)
	if err != nil {
		return err
	}

	ix.ensureMu.Lock()
	ix.ensured[collection] = vectorSize
	ix.ensureMu.Unlock()
	return nil
}

func (ix *Index) call(ctx context.Context, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal qdrant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, ix.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create qdrant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ix.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode qdrant response: %w", err)
	}
	return nil
}

func stringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func intPayload(payload map[string]any, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return 0
}

func wrapUnavailable(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if domain.IsKind(err, domain.ErrIndexUnavailable) {
		return err
	}
	return domain.WrapError(domain.ErrIndexUnavailable, operation, err)
}
