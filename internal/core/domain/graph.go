package domain

// Edge is one directed citation edge in a workspace precedent graph.
// Citing and Cited hold canonical citation keys (or the case id when the
// citing decision has no reporter citation of its own).
type Edge struct {
	WorkspaceID     string    `json:"workspace_id"`
	Citing          string    `json:"citing"`
	Cited           string    `json:"cited"`
	Treatment       Treatment `json:"treatment"`
	Confidence      float64   `json:"confidence"`
	SourcePassageID string    `json:"source_passage_id,omitempty"`
}

// Key identifies an edge inside one workspace graph. Re-merging an edge with
// the same key updates attributes instead of duplicating the edge.
func (e Edge) Key() string {
	return e.Citing + "|" + e.Cited + "|" + string(e.Treatment)
}

type MergeResult struct {
	WorkspaceID  string `json:"workspace_id"`
	FromVersion  int64  `json:"from_version"`
	Version      int64  `json:"version"`
	EdgesAdded   int    `json:"edges_added"`
	EdgesUpdated int    `json:"edges_updated"`
	EdgesTotal   int    `json:"edges_total"`
}

type NodeMetrics struct {
	Case      string  `json:"case"`
	InDegree  int     `json:"in_degree"`
	OutDegree int     `json:"out_degree"`
	PageRank  float64 `json:"pagerank"`
}

// TreatmentComponents lists the connected components of one treatment
// subgraph on its undirected view. Each component is sorted ascending and
// components are ordered by size descending, then by first member.
type TreatmentComponents struct {
	Treatment  Treatment  `json:"treatment"`
	Components [][]string `json:"components"`
}

type GraphMetrics struct {
	WorkspaceID string                `json:"workspace_id"`
	Version     int64                 `json:"version"`
	Nodes       int                   `json:"nodes"`
	Edges       int                   `json:"edges"`
	Top         []NodeMetrics         `json:"top"`
	Components  []TreatmentComponents `json:"components"`
}
