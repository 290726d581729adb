package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caselex/precedent-engine/internal/core/domain"
	"github.com/caselex/precedent-engine/internal/infrastructure/resilience"
)

// Client talks to one Ollama server for both drafting and embeddings.
type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, genModel, embedModel string, executor *resilience.Executor) *Client {
	if executor == nil {
		executor = resilience.NewExecutor(resilience.GenerationPolicy(), nil)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

// Embedder adapts the client to the embedding port. Failures surface as
// index unavailability: without vectors the dense retrieval leg cannot run.
type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.post(ctx, "embed", "/api/embed", request, &response); err != nil {
		return nil, wrapKind(domain.ErrIndexUnavailable, "ollama embed", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d embeddings for %d inputs", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, wrapKind(domain.ErrIndexUnavailable, "ollama embed", fmt.Errorf("empty embedding result"))
	}
	return vectors[0], nil
}

// Generator adapts the client to the drafting port.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Draft(ctx context.Context, question string, evidence []domain.EvidenceItem) (string, error) {
	request := map[string]any{
		"model":  g.client.genModel,
		"prompt": buildDraftPrompt(question, evidence),
		"stream": false,
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := g.client.post(ctx, "generate", "/api/generate", request, &response); err != nil {
		return "", wrapKind(domain.ErrGenerationUnavailable, "ollama generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) post(ctx context.Context, operation, path string, payload, out any) error {
	return c.executor.Execute(ctx, "ollama_"+operation, func(callCtx context.Context) error {
		return c.postJSON(callCtx, operation, path, payload, out)
	}, classifyOllamaError)
}

// wrapKind tags transport failures with the engine error kind. Context
// expiry passes through untagged so callers can tell a deadline from an
// unavailable model server.
func wrapKind(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if domain.IsKind(err, kind) {
		return err
	}
	return domain.WrapError(kind, operation, err)
}
