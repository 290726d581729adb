// Package mcpadapter exposes the engine to MCP clients over stdio.
//
// Three tools are registered:
//   - ask_precedent: answer a question from the workspace corpus
//   - graph_metrics: report precedent graph statistics for a workspace
//   - extract_citations: extract and classify citations from raw text
//
// Stdout carries the protocol, so anything the server logs goes to the
// logger handed in (the binary points it at stderr).
package mcpadapter

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

const (
	serverName    = "precedent-engine"
	serverVersion = "1.0.0"
)

// askService is the slice of the QA pipeline the ask_precedent tool consumes.
type askService interface {
	Ask(ctx context.Context, req domain.AskRequest, sink func(domain.AskEvent)) (*domain.Answer, error)
}

type graphService interface {
	Metrics(ctx context.Context, workspaceID string, topN int) (*domain.GraphMetrics, error)
}

type citationExtractor interface {
	Extract(text string) []domain.Citation
}

type treatmentClassifier interface {
	Classify(passageText string, cite domain.Citation) domain.TreatmentMention
}

// Server wraps the MCP server with the engine services the tools call.
type Server struct {
	mcp        *server.MCPServer
	asks       askService
	graphs     graphService
	extractor  citationExtractor
	classifier treatmentClassifier
	logger     *slog.Logger
}

func NewServer(asks askService, graphs graphService, extractor citationExtractor, classifier treatmentClassifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:        server.NewMCPServer(serverName, serverVersion),
		asks:       asks,
		graphs:     graphs,
		extractor:  extractor,
		classifier: classifier,
		logger:     logger,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(askPrecedentTool(), s.handleAskPrecedent)
	s.mcp.AddTool(graphMetricsTool(), s.handleGraphMetrics)
	s.mcp.AddTool(extractCitationsTool(), s.handleExtractCitations)
}

// Serve reads MCP messages from stdin and writes responses to stdout until
// ctx is cancelled or the client closes the pipe.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}
