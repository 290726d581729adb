package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

type graphStoreFake struct {
	mu       sync.Mutex
	versions map[string]int64
	edges    map[string]map[string]domain.Edge
	// bumpOnNextApply simulates a competing writer in another process
	// that commits between the version read and the apply.
	bumpOnNextApply bool
}

func newGraphStoreFake() *graphStoreFake {
	return &graphStoreFake{
		versions: make(map[string]int64),
		edges:    make(map[string]map[string]domain.Edge),
	}
}

func (f *graphStoreFake) CurrentVersion(_ context.Context, workspaceID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versions[workspaceID], nil
}

func (f *graphStoreFake) Edges(_ context.Context, workspaceID string) ([]domain.Edge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Edge, 0, len(f.edges[workspaceID]))
	for _, edge := range f.edges[workspaceID] {
		out = append(out, edge)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (f *graphStoreFake) ApplyMerge(_ context.Context, workspaceID string, expected int64, edges []domain.Edge) (*domain.MergeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bumpOnNextApply {
		f.bumpOnNextApply = false
		f.versions[workspaceID]++
	}
	if f.versions[workspaceID] != expected {
		return nil, domain.WrapError(domain.ErrMergeConflict, "apply merge",
			fmt.Errorf("expected version %d, have %d", expected, f.versions[workspaceID]))
	}
	bucket := f.edges[workspaceID]
	if bucket == nil {
		bucket = make(map[string]domain.Edge)
		f.edges[workspaceID] = bucket
	}
	added := 0
	for _, edge := range edges {
		key := edge.Key()
		existing, ok := bucket[key]
		if !ok {
			bucket[key] = edge
			added++
			continue
		}
		if edge.Confidence > existing.Confidence {
			bucket[key] = edge
		}
	}
	f.versions[workspaceID] = expected + 1
	return &domain.MergeResult{
		WorkspaceID:  workspaceID,
		FromVersion:  expected,
		Version:      expected + 1,
		EdgesAdded:   added,
		EdgesUpdated: len(edges) - added,
		EdgesTotal:   len(bucket),
	}, nil
}

func (f *graphStoreFake) ApplyRebuild(_ context.Context, workspaceID string, expected int64, edges []domain.Edge) (*domain.MergeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.versions[workspaceID] != expected {
		return nil, domain.WrapError(domain.ErrMergeConflict, "apply rebuild",
			fmt.Errorf("expected version %d, have %d", expected, f.versions[workspaceID]))
	}
	bucket := make(map[string]domain.Edge, len(edges))
	for _, edge := range edges {
		bucket[edge.Key()] = edge
	}
	f.edges[workspaceID] = bucket
	f.versions[workspaceID] = expected + 1
	return &domain.MergeResult{
		WorkspaceID: workspaceID,
		FromVersion: expected,
		Version:     expected + 1,
		EdgesAdded:  len(bucket),
		EdgesTotal:  len(bucket),
	}, nil
}

type passageRepoFake struct {
	mu       sync.Mutex
	passages map[string]domain.Passage
}

func newPassageRepoFake() *passageRepoFake {
	return &passageRepoFake{passages: make(map[string]domain.Passage)}
}

func (f *passageRepoFake) Upsert(_ context.Context, passages []domain.Passage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, passage := range passages {
		f.passages[passage.ID] = passage
	}
	return nil
}

func (f *passageRepoFake) GetByIDs(_ context.Context, workspaceID string, ids []string) ([]domain.Passage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Passage, 0, len(ids))
	for _, id := range ids {
		if passage, ok := f.passages[id]; ok && passage.WorkspaceID == workspaceID {
			out = append(out, passage)
		}
	}
	return out, nil
}

func (f *passageRepoFake) ListWorkspace(_ context.Context, workspaceID string) ([]domain.Passage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Passage, 0, len(f.passages))
	for _, passage := range f.passages {
		if passage.WorkspaceID == workspaceID {
			out = append(out, passage)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func newGraphUseCaseForTest(store *graphStoreFake, passages *passageRepoFake) *GraphUseCase {
	return NewGraphUseCase(
		passages,
		store,
		nil,
		NewCiteExtractor(nil, nil),
		NewTreatmentClassifier(0.6, nil),
		GraphConfig{},
		nil,
	)
}

func edgeFixture(citing, cited string, treatment domain.Treatment, confidence float64) domain.Edge {
	return domain.Edge{Citing: citing, Cited: cited, Treatment: treatment, Confidence: confidence}
}

func edgeConfidences(t *testing.T, store *graphStoreFake, workspaceID string) map[string]float64 {
	t.Helper()
	edges, err := store.Edges(context.Background(), workspaceID)
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	out := make(map[string]float64, len(edges))
	for _, edge := range edges {
		out[edge.Key()] = edge.Confidence
	}
	return out
}

func TestGraphMergeIdempotent(t *testing.T) {
	store := newGraphStoreFake()
	uc := newGraphUseCaseForTest(store, newPassageRepoFake())
	batch := []domain.Edge{
		edgeFixture("case-a", "123 f3d 456", domain.TreatmentOverruled, 0.9),
		edgeFixture("case-a", "304 us 144", domain.TreatmentFollowed, 0.8),
	}

	first, err := uc.Merge(context.Background(), "ws-1", batch)
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if first.Version != 1 || first.EdgesAdded != 2 || first.EdgesTotal != 2 {
		t.Fatalf("unexpected first merge result: %+v", first)
	}

	before := edgeConfidences(t, store, "ws-1")
	second, err := uc.Merge(context.Background(), "ws-1", batch)
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if second.Version != 2 || second.EdgesAdded != 0 || second.EdgesTotal != 2 {
		t.Fatalf("re-merge must not add edges: %+v", second)
	}
	after := edgeConfidences(t, store, "ws-1")
	if len(before) != len(after) {
		t.Fatalf("edge set changed on re-merge: %d vs %d", len(before), len(after))
	}
	for key, confidence := range before {
		if after[key] != confidence {
			t.Fatalf("edge %s changed on re-merge: %f vs %f", key, confidence, after[key])
		}
	}
}

func TestGraphReMergeKeepsMaxConfidence(t *testing.T) {
	store := newGraphStoreFake()
	uc := newGraphUseCaseForTest(store, newPassageRepoFake())

	if _, err := uc.Merge(context.Background(), "ws-1",
		[]domain.Edge{edgeFixture("case-a", "123 f3d 456", domain.TreatmentOverruled, 0.9)}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := uc.Merge(context.Background(), "ws-1",
		[]domain.Edge{edgeFixture("case-a", "123 f3d 456", domain.TreatmentOverruled, 0.7)}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	confidences := edgeConfidences(t, store, "ws-1")
	if got := confidences["case-a|123 f3d 456|overruled"]; got != 0.9 {
		t.Fatalf("expected max confidence 0.9 kept, got %f", got)
	}
}

func TestGraphRebuildRoundTrip(t *testing.T) {
	batch1 := []domain.Edge{
		edgeFixture("case-a", "123 f3d 456", domain.TreatmentOverruled, 0.9),
		edgeFixture("case-b", "304 us 144", domain.TreatmentFollowed, 0.7),
	}
	batch2 := []domain.Edge{
		edgeFixture("case-b", "304 us 144", domain.TreatmentFollowed, 0.85),
		edgeFixture("case-c", "163 us 537", domain.TreatmentDistinguished, 0.8),
	}

	incrementalStore := newGraphStoreFake()
	incremental := newGraphUseCaseForTest(incrementalStore, newPassageRepoFake())
	if _, err := incremental.Merge(context.Background(), "ws-1", batch1); err != nil {
		t.Fatalf("merge batch1: %v", err)
	}
	if _, err := incremental.Merge(context.Background(), "ws-1", batch2); err != nil {
		t.Fatalf("merge batch2: %v", err)
	}

	rebuiltStore := newGraphStoreFake()
	rebuilt := newGraphUseCaseForTest(rebuiltStore, newPassageRepoFake())
	union := append(append([]domain.Edge{}, batch1...), batch2...)
	if _, err := rebuilt.Rebuild(context.Background(), "ws-1", union); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	incrementalEdges := edgeConfidences(t, incrementalStore, "ws-1")
	rebuiltEdges := edgeConfidences(t, rebuiltStore, "ws-1")
	if len(incrementalEdges) != len(rebuiltEdges) {
		t.Fatalf("edge sets differ in size: %d vs %d", len(incrementalEdges), len(rebuiltEdges))
	}
	for key, confidence := range incrementalEdges {
		if rebuiltEdges[key] != confidence {
			t.Fatalf("edge %s differs: incremental=%f rebuilt=%f", key, confidence, rebuiltEdges[key])
		}
	}
}

func TestGraphConcurrentDisjointMergesBothApply(t *testing.T) {
	store := newGraphStoreFake()
	uc := newGraphUseCaseForTest(store, newPassageRepoFake())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	batches := [][]domain.Edge{
		{edgeFixture("case-a", "123 f3d 456", domain.TreatmentOverruled, 0.9)},
		{edgeFixture("case-b", "304 us 144", domain.TreatmentFollowed, 0.8)},
	}
	for i := range batches {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = uc.Merge(context.Background(), "ws-1", batches[i])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("merge %d failed: %v", i, err)
		}
	}
	version, err := store.CurrentVersion(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected version 2 after two merges, got %d", version)
	}
	confidences := edgeConfidences(t, store, "ws-1")
	if len(confidences) != 2 {
		t.Fatalf("expected both disjoint batches applied, got %d edges", len(confidences))
	}
}

func TestGraphEmptyMergeStillBumpsVersion(t *testing.T) {
	store := newGraphStoreFake()
	uc := newGraphUseCaseForTest(store, newPassageRepoFake())

	result, err := uc.Merge(context.Background(), "ws-1", nil)
	if err != nil {
		t.Fatalf("empty merge: %v", err)
	}
	if result.Version != 1 || result.EdgesTotal != 0 {
		t.Fatalf("unexpected empty merge result: %+v", result)
	}
}

func TestGraphSelfCitationRejected(t *testing.T) {
	store := newGraphStoreFake()
	uc := newGraphUseCaseForTest(store, newPassageRepoFake())

	result, err := uc.Merge(context.Background(), "ws-1",
		[]domain.Edge{edgeFixture("123 f3d 456", "123 f3d 456", domain.TreatmentCited, 0.9)})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if result.EdgesTotal != 0 {
		t.Fatalf("self-citation must not become an edge, got %d edges", result.EdgesTotal)
	}
	if result.Version != 1 {
		t.Fatalf("version must still advance, got %d", result.Version)
	}
}

func TestGraphMergeConflictSurfaces(t *testing.T) {
	store := newGraphStoreFake()
	uc := newGraphUseCaseForTest(store, newPassageRepoFake())
	store.bumpOnNextApply = true

	_, err := uc.Merge(context.Background(), "ws-1",
		[]domain.Edge{edgeFixture("case-a", "123 f3d 456", domain.TreatmentCited, 0.5)})
	if !domain.IsKind(err, domain.ErrMergeConflict) {
		t.Fatalf("expected merge conflict, got %v", err)
	}
}

func TestGraphUpdateFromPassagesBuildsOverruledEdge(t *testing.T) {
	passages := newPassageRepoFake()
	if err := passages.Upsert(context.Background(), []domain.Passage{{
		ID:          "p-1",
		WorkspaceID: "ws-1",
		CaseID:      "case-doe-2021",
		Section:     domain.SectionHolding,
		Text:        "We conclude that Smith v. Jones, 123 F.3d 456 (9th Cir. 2019), was overruled by the en banc court.",
	}}); err != nil {
		t.Fatalf("seed passages: %v", err)
	}
	store := newGraphStoreFake()
	uc := newGraphUseCaseForTest(store, passages)

	result, err := uc.UpdateFromPassages(context.Background(), "ws-1", []string{"p-1"})
	if err != nil {
		t.Fatalf("update from passages: %v", err)
	}
	if result.EdgesTotal != 1 {
		t.Fatalf("expected 1 edge, got %d", result.EdgesTotal)
	}

	edges, err := store.Edges(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("edges: %v", err)
	}
	edge := edges[0]
	if edge.Citing != "case-doe-2021" || edge.Cited != "123 f3d 456" {
		t.Fatalf("unexpected edge endpoints: %s -> %s", edge.Citing, edge.Cited)
	}
	if edge.Treatment != domain.TreatmentOverruled {
		t.Fatalf("expected overruled treatment, got %s", edge.Treatment)
	}
	if edge.SourcePassageID != "p-1" {
		t.Fatalf("expected source passage recorded, got %q", edge.SourcePassageID)
	}
}

func TestGraphMetrics(t *testing.T) {
	store := newGraphStoreFake()
	uc := newGraphUseCaseForTest(store, newPassageRepoFake())
	batch := []domain.Edge{
		edgeFixture("case-a", "case-b", domain.TreatmentOverruled, 0.9),
		edgeFixture("case-c", "case-b", domain.TreatmentFollowed, 0.8),
		edgeFixture("case-b", "case-d", domain.TreatmentCited, 0.5),
	}
	if _, err := uc.Merge(context.Background(), "ws-1", batch); err != nil {
		t.Fatalf("merge: %v", err)
	}

	metrics, err := uc.Metrics(context.Background(), "ws-1", 10)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.Nodes != 4 || metrics.Edges != 3 || metrics.Version != 1 {
		t.Fatalf("unexpected counts: %+v", metrics)
	}
	if metrics.Top[0].Case != "case-b" {
		t.Fatalf("expected case-b to rank first, got %s", metrics.Top[0].Case)
	}
	if metrics.Top[0].InDegree != 2 || metrics.Top[0].OutDegree != 1 {
		t.Fatalf("unexpected degrees for case-b: %+v", metrics.Top[0])
	}

	sum := 0.0
	for _, node := range metrics.Top {
		sum += node.PageRank
	}
	if sum < 0.99 || sum > 1.01 {
		t.Fatalf("pagerank mass should sum to 1, got %f", sum)
	}

	if len(metrics.Components) != 3 {
		t.Fatalf("expected 3 treatment subgraphs, got %d", len(metrics.Components))
	}
	if metrics.Components[0].Treatment != domain.TreatmentFollowed {
		t.Fatalf("expected followed first, got %s", metrics.Components[0].Treatment)
	}
	followed := metrics.Components[0].Components
	if len(followed) != 1 || len(followed[0]) != 2 || followed[0][0] != "case-b" || followed[0][1] != "case-c" {
		t.Fatalf("unexpected followed components: %+v", followed)
	}
}

func TestGraphMetricsEmptyWorkspace(t *testing.T) {
	uc := newGraphUseCaseForTest(newGraphStoreFake(), newPassageRepoFake())

	metrics, err := uc.Metrics(context.Background(), "ws-empty", 5)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if metrics.Nodes != 0 || metrics.Edges != 0 || len(metrics.Top) != 0 {
		t.Fatalf("expected empty metrics, got %+v", metrics)
	}
}
