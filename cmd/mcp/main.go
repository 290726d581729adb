package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/caselex/precedent-engine/internal/adapters/mcp"
	"github.com/caselex/precedent-engine/internal/bootstrap"
	"github.com/caselex/precedent-engine/internal/config"
	"github.com/caselex/precedent-engine/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	// Stdout carries the MCP protocol, logs go to stderr.
	logger := logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := mcpadapter.NewServer(app.AskUC, app.GraphUC, app.Extractor, app.Classifier, logger)

	logger.Info("mcp_serving", "transport", "stdio")
	if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
