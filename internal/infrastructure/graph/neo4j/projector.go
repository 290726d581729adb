package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

// Projector mirrors merged workspace edge sets into Neo4j for interactive
// exploration. The projection is a cache of the current version, not a
// history; Postgres stays the source of truth and callers treat failures
// here as log-only.
type Projector struct {
	driver neo4j.DriverWithContext
}

func New(ctx context.Context, uri, username, password string) (*Projector, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &Projector{driver: driver}, nil
}

func (p *Projector) Close(ctx context.Context) error {
	return p.driver.Close(ctx)
}

func (p *Projector) Project(ctx context.Context, workspaceID string, version int64, edges []domain.Edge) error {
	session := p.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	rows := make([]map[string]any, 0, len(edges))
	for _, edge := range edges {
		rows = append(rows, map[string]any{
			"citing":     edge.Citing,
			"cited":      edge.Cited,
			"treatment":  string(edge.Treatment),
			"confidence": edge.Confidence,
			"source":     edge.SourcePassageID,
		})
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
MATCH (:Case {workspace: $workspace})-[r:CITES]->()
DELETE r
`, map[string]any{"workspace": workspaceID}); err != nil {
			return nil, fmt.Errorf("clear projected edges: %w", err)
		}

		if len(rows) == 0 {
			return nil, nil
		}
		if _, err := tx.Run(ctx, `
UNWIND $edges AS edge
MERGE (citing:Case {key: edge.citing, workspace: $workspace})
MERGE (cited:Case {key: edge.cited, workspace: $workspace})
MERGE (citing)-[r:CITES {treatment: edge.treatment}]->(cited)
SET r.confidence = edge.confidence,
	r.source_passage_id = edge.source,
	r.version = $version
`, map[string]any{"workspace": workspaceID, "version": version, "edges": rows}); err != nil {
			return nil, fmt.Errorf("project edges: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("project workspace %s graph: %w", workspaceID, err)
	}
	return nil
}
