package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/caselex/precedent-engine/internal/core/domain"
)

// JSON-RPC error codes the tools return.
const (
	errorCodeInvalidParams = -32602
	errorCodeInternalError = -32603
)

type mcpError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *mcpError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func newMCPError(code int, message string, data interface{}) error {
	return &mcpError{Code: code, Message: message, Data: data}
}

func missingParamError(param string) error {
	return newMCPError(errorCodeInvalidParams, param+" parameter is required", map[string]interface{}{
		"param":  param,
		"reason": "missing or empty",
	})
}

// mapDomainError keeps the engine's error kinds visible to MCP clients:
// invalid input stays a params error, everything else is internal.
func mapDomainError(message string, err error) error {
	if domain.IsKind(err, domain.ErrInvalidInput) {
		return newMCPError(errorCodeInvalidParams, message, map[string]interface{}{
			"error": err.Error(),
		})
	}
	return newMCPError(errorCodeInternalError, message, map[string]interface{}{
		"error": err.Error(),
	})
}

func (s *Server) handleAskPrecedent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(errorCodeInvalidParams, "invalid arguments", nil)
	}

	workspaceID, ok := args["workspace_id"].(string)
	if !ok || workspaceID == "" {
		return nil, missingParamError("workspace_id")
	}
	question, ok := args["question"].(string)
	if !ok || question == "" {
		return nil, missingParamError("question")
	}

	req := domain.AskRequest{
		WorkspaceID: workspaceID,
		SessionID:   getStringDefault(args, "session_id", ""),
		Question:    question,
	}

	// MCP is request/response, so the streaming sink stays nil and the
	// client gets the finished answer in one result.
	answer, err := s.asks.Ask(ctx, req, nil)
	if err != nil {
		return nil, mapDomainError("ask failed", err)
	}
	return mcp.NewToolResultText(formatJSON(answer)), nil
}

func (s *Server) handleGraphMetrics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(errorCodeInvalidParams, "invalid arguments", nil)
	}

	workspaceID, ok := args["workspace_id"].(string)
	if !ok || workspaceID == "" {
		return nil, missingParamError("workspace_id")
	}

	top := getIntDefault(args, "top", 10)
	if top < 1 || top > 100 {
		return nil, newMCPError(errorCodeInvalidParams, "top must be between 1 and 100", map[string]interface{}{
			"param": "top",
			"value": top,
		})
	}

	metrics, err := s.graphs.Metrics(ctx, workspaceID, top)
	if err != nil {
		return nil, mapDomainError("graph metrics failed", err)
	}
	return mcp.NewToolResultText(formatJSON(metrics)), nil
}

func (s *Server) handleExtractCitations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(errorCodeInvalidParams, "invalid arguments", nil)
	}

	text, ok := args["text"].(string)
	if !ok || text == "" {
		return nil, missingParamError("text")
	}

	citations := s.extractor.Extract(text)
	if !getBoolDefault(args, "classify", true) {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"count":     len(citations),
			"citations": citations,
		})), nil
	}

	mentions := make([]domain.TreatmentMention, 0, len(citations))
	for _, cite := range citations {
		mentions = append(mentions, s.classifier.Classify(text, cite))
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"count":    len(mentions),
		"mentions": mentions,
	})), nil
}

func formatJSON(v interface{}) string {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(bytes)
}

func getStringDefault(args map[string]interface{}, key, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getIntDefault reads an integer argument. JSON numbers decode as float64,
// so both shapes are accepted.
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}
