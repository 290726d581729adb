package usecase

import (
	"math"
	"sort"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

const (
	defaultPagerankDamping  = 0.85
	defaultPagerankMaxIters = 30
	pagerankEpsilon         = 1e-6
	defaultTopNodes         = 10
)

type metricsConfig struct {
	topN     int
	damping  float64
	maxIters int
}

func (c metricsConfig) normalize() metricsConfig {
	if c.topN <= 0 {
		c.topN = defaultTopNodes
	}
	if c.damping <= 0 || c.damping >= 1 {
		c.damping = defaultPagerankDamping
	}
	if c.maxIters <= 0 {
		c.maxIters = defaultPagerankMaxIters
	}
	return c
}

// computeGraphMetrics derives all metrics on demand from the edge set;
// nothing here is persisted.
func computeGraphMetrics(workspaceID string, version int64, edges []domain.Edge, cfg metricsConfig) *domain.GraphMetrics {
	cfg = cfg.normalize()

	nodes := collectNodes(edges)
	inDegree := make(map[string]int, len(nodes))
	outDegree := make(map[string]int, len(nodes))
	for _, edge := range edges {
		outDegree[edge.Citing]++
		inDegree[edge.Cited]++
	}

	ranks := pagerank(nodes, edges, cfg.damping, cfg.maxIters)

	top := make([]domain.NodeMetrics, 0, len(nodes))
	for _, node := range nodes {
		top = append(top, domain.NodeMetrics{
			Case:      node,
			InDegree:  inDegree[node],
			OutDegree: outDegree[node],
			PageRank:  ranks[node],
		})
	}
	sort.SliceStable(top, func(i, j int) bool {
		if top[i].PageRank != top[j].PageRank {
			return top[i].PageRank > top[j].PageRank
		}
		return top[i].Case < top[j].Case
	})
	if len(top) > cfg.topN {
		top = top[:cfg.topN]
	}

	return &domain.GraphMetrics{
		WorkspaceID: workspaceID,
		Version:     version,
		Nodes:       len(nodes),
		Edges:       len(edges),
		Top:         top,
		Components:  treatmentComponents(edges),
	}
}

// collectNodes returns the distinct node ids of the edge set, sorted for
// deterministic iteration.
func collectNodes(edges []domain.Edge) []string {
	seen := make(map[string]struct{}, len(edges)*2)
	nodes := make([]string, 0, len(edges)*2)
	for _, edge := range edges {
		if _, ok := seen[edge.Citing]; !ok {
			seen[edge.Citing] = struct{}{}
			nodes = append(nodes, edge.Citing)
		}
		if _, ok := seen[edge.Cited]; !ok {
			seen[edge.Cited] = struct{}{}
			nodes = append(nodes, edge.Cited)
		}
	}
	sort.Strings(nodes)
	return nodes
}

// pagerank runs confidence-weighted PageRank. Edges with non-positive
// confidence carry no rank; rank held by nodes without weighted out-edges
// is redistributed uniformly each iteration.
func pagerank(nodes []string, edges []domain.Edge, damping float64, maxIters int) map[string]float64 {
	n := len(nodes)
	if n == 0 {
		return map[string]float64{}
	}

	index := make(map[string]int, n)
	for i, node := range nodes {
		index[node] = i
	}

	type weightedEdge struct {
		from, to int
		weight   float64
	}
	weighted := make([]weightedEdge, 0, len(edges))
	outWeight := make([]float64, n)
	for _, edge := range edges {
		if edge.Confidence <= 0 {
			continue
		}
		from := index[edge.Citing]
		to := index[edge.Cited]
		weighted = append(weighted, weightedEdge{from: from, to: to, weight: edge.Confidence})
		outWeight[from] += edge.Confidence
	}

	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}

	for iter := 0; iter < maxIters; iter++ {
		dangling := 0.0
		for i := range rank {
			if outWeight[i] == 0 {
				dangling += rank[i]
			}
		}

		next := make([]float64, n)
		base := (1-damping)/float64(n) + damping*dangling/float64(n)
		for i := range next {
			next[i] = base
		}
		for _, edge := range weighted {
			next[edge.to] += damping * rank[edge.from] * edge.weight / outWeight[edge.from]
		}

		delta := 0.0
		for i := range next {
			delta += math.Abs(next[i] - rank[i])
		}
		rank = next
		if delta < pagerankEpsilon {
			break
		}
	}

	out := make(map[string]float64, n)
	for i, node := range nodes {
		out[node] = rank[i]
	}
	return out
}

var treatmentOrder = []domain.Treatment{
	domain.TreatmentFollowed,
	domain.TreatmentOverruled,
	domain.TreatmentDistinguished,
	domain.TreatmentCited,
}

// treatmentComponents splits the edge set by treatment and finds connected
// components on each subgraph's undirected view. Treatments without edges
// are omitted.
func treatmentComponents(edges []domain.Edge) []domain.TreatmentComponents {
	byTreatment := make(map[domain.Treatment][]domain.Edge, len(treatmentOrder))
	for _, edge := range edges {
		byTreatment[edge.Treatment] = append(byTreatment[edge.Treatment], edge)
	}

	out := make([]domain.TreatmentComponents, 0, len(byTreatment))
	for _, treatment := range treatmentOrder {
		subgraph := byTreatment[treatment]
		if len(subgraph) == 0 {
			continue
		}
		out = append(out, domain.TreatmentComponents{
			Treatment:  treatment,
			Components: connectedComponents(subgraph),
		})
	}
	return out
}

func connectedComponents(edges []domain.Edge) [][]string {
	nodes := collectNodes(edges)
	index := make(map[string]int, len(nodes))
	for i, node := range nodes {
		index[node] = i
	}

	adjacency := make([][]int, len(nodes))
	for _, edge := range edges {
		from := index[edge.Citing]
		to := index[edge.Cited]
		adjacency[from] = append(adjacency[from], to)
		adjacency[to] = append(adjacency[to], from)
	}

	visited := make([]bool, len(nodes))
	components := make([][]string, 0, 4)
	for i := range nodes {
		if visited[i] {
			continue
		}
		component := make([]string, 0, 4)
		queue := []int{i}
		visited[i] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			component = append(component, nodes[node])
			for _, next := range adjacency[node] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		sort.Strings(component)
		components = append(components, component)
	}

	sort.SliceStable(components, func(i, j int) bool {
		if len(components[i]) != len(components[j]) {
			return len(components[i]) > len(components[j])
		}
		return components[i][0] < components[j][0]
	})
	return components
}
