package mcpadapter

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func askPrecedentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask_precedent",
		Description: "Answer a legal question from the workspace corpus with citation-grounded text; refuses with \"no precedent found\" when the corpus cannot support an answer",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workspace_id": map[string]interface{}{
					"type":        "string",
					"description": "Workspace whose corpus and precedent graph back the answer",
				},
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Legal question in natural language",
				},
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Existing QA session to append to; a new session is created when omitted",
				},
			},
			Required: []string{"workspace_id", "question"},
		},
	}
}

func graphMetricsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "graph_metrics",
		Description: "Report node and edge counts, top cases by PageRank, and per-treatment connected components for a workspace precedent graph",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"workspace_id": map[string]interface{}{
					"type":        "string",
					"description": "Workspace whose graph to measure",
				},
				"top": map[string]interface{}{
					"type":        "integer",
					"description": "How many top-ranked cases to include (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"workspace_id"},
		},
	}
}

func extractCitationsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "extract_citations",
		Description: "Extract reporter citations from opinion text and classify how each cited case is treated (followed, overruled, distinguished, cited)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Opinion or passage text to scan",
				},
				"classify": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, attach a treatment label and confidence to each citation",
					"default":     true,
				},
			},
			Required: []string{"text"},
		},
	}
}
