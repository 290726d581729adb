package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/caselex/precedent-engine/internal/core/domain"
	"github.com/caselex/precedent-engine/internal/core/ports"
)

// Index keeps passages, their vectors, and their term weights in process
// memory. It serves both search legs for single-node deployments and tests,
// and can round-trip its state through a snapshot store.
type Index struct {
	mu         sync.RWMutex
	workspaces map[string]*workspaceIndex
}

type workspaceIndex struct {
	passages map[string]domain.Passage
	vectors  map[string][]float32
	terms    map[string]map[uint32]float64
}

func New() *Index {
	return &Index{workspaces: make(map[string]*workspaceIndex)}
}

func (ix *Index) IndexPassages(ctx context.Context, workspaceID string, passages []domain.Passage, vectors [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(passages) != len(vectors) {
		return fmt.Errorf("memory index upsert: %d passages with %d vectors", len(passages), len(vectors))
	}
	if len(passages) == 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ws := ix.workspaceLocked(workspaceID)
	for i, passage := range passages {
		ws.passages[passage.ID] = passage
		ws.vectors[passage.ID] = append([]float32(nil), vectors[i]...)
		ws.terms[passage.ID] = encodeTerms(passage.Text)
	}
	return nil
}

func (ix *Index) SearchVector(ctx context.Context, workspaceID string, queryVector []float32, limit int) ([]domain.ScoredPassage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(queryVector) == 0 || limit <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ws, ok := ix.workspaces[workspaceID]
	if !ok {
		return nil, nil
	}

	scored := make([]domain.ScoredPassage, 0, len(ws.vectors))
	for id, vector := range ws.vectors {
		score := cosine(queryVector, vector)
		if score <= 0 {
			continue
		}
		scored = append(scored, domain.ScoredPassage{Passage: ws.passages[id], Score: score})
	}
	return topScored(scored, limit), nil
}

func (ix *Index) SearchLexical(ctx context.Context, workspaceID, query string, limit int) ([]domain.ScoredPassage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}

	queryTerms := encodeTerms(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	ws, ok := ix.workspaces[workspaceID]
	if !ok {
		return nil, nil
	}

	scored := make([]domain.ScoredPassage, 0, len(ws.terms))
	for id, docTerms := range ws.terms {
		score := dotTerms(queryTerms, docTerms)
		if score <= 0 {
			continue
		}
		scored = append(scored, domain.ScoredPassage{Passage: ws.passages[id], Score: score})
	}
	return topScored(scored, limit), nil
}

// snapshot is the serialized form. Term weights are derived from passage
// text and are rebuilt on load rather than stored.
type snapshot struct {
	Workspaces map[string]workspaceSnapshot `json:"workspaces"`
}

type workspaceSnapshot struct {
	Passages []domain.Passage     `json:"passages"`
	Vectors  map[string][]float32 `json:"vectors"`
}

// Snapshot serializes the whole index as JSON under key.
func (ix *Index) Snapshot(ctx context.Context, store ports.SnapshotStore, key string) error {
	ix.mu.RLock()
	snap := snapshot{Workspaces: make(map[string]workspaceSnapshot, len(ix.workspaces))}
	for workspaceID, ws := range ix.workspaces {
		passages := make([]domain.Passage, 0, len(ws.passages))
		for _, passage := range ws.passages {
			passages = append(passages, passage)
		}
		sort.Slice(passages, func(i, j int) bool { return passages[i].ID < passages[j].ID })

		vectors := make(map[string][]float32, len(ws.vectors))
		for id, vector := range ws.vectors {
			vectors[id] = vector
		}
		snap.Workspaces[workspaceID] = workspaceSnapshot{Passages: passages, Vectors: vectors}
	}
	ix.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal index snapshot: %w", err)
	}
	if err := store.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("save index snapshot: %w", err)
	}
	return nil
}

// Restore replaces the index state with the snapshot stored under key.
// A missing snapshot leaves the index empty and is not an error.
func (ix *Index) Restore(ctx context.Context, store ports.SnapshotStore, key string) error {
	reader, err := store.Open(ctx, key)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("open index snapshot: %w", err)
	}
	defer reader.Close()

	var snap snapshot
	if err := json.NewDecoder(reader).Decode(&snap); err != nil {
		return fmt.Errorf("decode index snapshot: %w", err)
	}

	workspaces := make(map[string]*workspaceIndex, len(snap.Workspaces))
	for workspaceID, wsSnap := range snap.Workspaces {
		ws := newWorkspaceIndex(len(wsSnap.Passages))
		for _, passage := range wsSnap.Passages {
			ws.passages[passage.ID] = passage
			ws.terms[passage.ID] = encodeTerms(passage.Text)
			if vector, ok := wsSnap.Vectors[passage.ID]; ok {
				ws.vectors[passage.ID] = vector
			}
		}
		workspaces[workspaceID] = ws
	}

	ix.mu.Lock()
	ix.workspaces = workspaces
	ix.mu.Unlock()
	return nil
}

func (ix *Index) workspaceLocked(workspaceID string) *workspaceIndex {
	ws, ok := ix.workspaces[workspaceID]
	if !ok {
		ws = newWorkspaceIndex(16)
		ix.workspaces[workspaceID] = ws
	}
	return ws
}

func newWorkspaceIndex(sizeHint int) *workspaceIndex {
	return &workspaceIndex{
		passages: make(map[string]domain.Passage, sizeHint),
		vectors:  make(map[string][]float32, sizeHint),
		terms:    make(map[string]map[uint32]float64, sizeHint),
	}
}

func topScored(scored []domain.ScoredPassage, limit int) []domain.ScoredPassage {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Passage.ID < scored[j].Passage.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	if len(scored) == 0 {
		return nil
	}
	return scored
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ ports.VectorIndex = (*Index)(nil)
var _ ports.LexicalIndex = (*Index)(nil)
