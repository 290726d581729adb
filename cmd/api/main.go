package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/caselex/precedent-engine/internal/adapters/http"
	"github.com/caselex/precedent-engine/internal/bootstrap"
	"github.com/caselex/precedent-engine/internal/config"
	"github.com/caselex/precedent-engine/internal/observability/logging"
	"github.com/caselex/precedent-engine/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(
		cfg,
		app.AskUC,
		app.IndexUC,
		app.GraphUC,
		app.Queue,
		metrics.NewAPIMetrics("api"),
		logging.WithComponent(logger, "http"),
	)

	server := &http.Server{
		Handler:     router.Handler(),
		ReadTimeout: 30 * time.Second,
		// No write timeout: SSE responses stay open for the whole ask.
		IdleTimeout: 60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+cfg.APIPort)
	if err != nil {
		logger.Error("listen_failed", "port", cfg.APIPort, "error", err)
		os.Exit(1)
	}
	listener = netutil.LimitListener(listener, cfg.APIMaxConns)

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "max_conns", cfg.APIMaxConns)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_incomplete", "error", err)
	}
}
