package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caselex/precedent-engine/internal/config"
	"github.com/caselex/precedent-engine/internal/core/ports"
	"github.com/caselex/precedent-engine/internal/core/usecase"
	"github.com/caselex/precedent-engine/internal/infrastructure/chunking"
	"github.com/caselex/precedent-engine/internal/infrastructure/graph/neo4j"
	"github.com/caselex/precedent-engine/internal/infrastructure/index/memory"
	"github.com/caselex/precedent-engine/internal/infrastructure/index/qdrant"
	"github.com/caselex/precedent-engine/internal/infrastructure/llm/ollama"
	"github.com/caselex/precedent-engine/internal/infrastructure/queue/nats"
	"github.com/caselex/precedent-engine/internal/infrastructure/repository/postgres"
	"github.com/caselex/precedent-engine/internal/infrastructure/resilience"
	"github.com/caselex/precedent-engine/internal/infrastructure/snapshot/localfs"
	"github.com/caselex/precedent-engine/internal/observability/logging"
)

// App wires configuration into the engine's use cases and owns the
// lifecycle of the underlying connections.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue ports.MessageQueue

	AskUC   *usecase.AskUseCase
	IndexUC *usecase.IndexUseCase
	GraphUC *usecase.GraphUseCase

	Extractor  *usecase.CiteExtractor
	Classifier *usecase.TreatmentClassifier

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	passageRepo := postgres.NewPassageRepository(db)
	graphRepo := postgres.NewGraphRepository(db)
	answerRepo := postgres.NewAnswerRepository(db)
	aliasRepo := postgres.NewAliasRepository(db)

	schemas := []struct {
		name   string
		ensure func(context.Context) error
	}{
		{"passage", passageRepo.EnsureSchema},
		{"graph", graphRepo.EnsureSchema},
		{"answer", answerRepo.EnsureSchema},
		{"alias", aliasRepo.EnsureSchema},
	}
	for _, schema := range schemas {
		if err := schema.ensure(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ensure %s schema: %w", schema.name, err)
		}
	}

	queue, err := nats.New(cfg.NATSURL, nats.Options{
		Logger: logging.WithComponent(logger, "queue"),
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	indexExecutor := resilience.NewExecutor(resilience.IndexPolicy(), logger)
	genExecutor := resilience.NewExecutor(resilience.GenerationPolicy(), logger)

	llmClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, genExecutor)
	embedder := ollama.NewEmbedder(llmClient)
	generator := ollama.NewGenerator(llmClient)

	var (
		vectorIndex  ports.VectorIndex
		lexicalIndex ports.LexicalIndex
		saveSnapshot func()
	)
	switch cfg.IndexBackend {
	case "memory":
		// One in-process index serves both retrieval legs.
		idx := memory.New()
		if cfg.IndexSnapshotKey != "" {
			snapshots, err := localfs.New(cfg.SnapshotPath)
			if err != nil {
				queue.Close()
				_ = db.Close()
				return nil, fmt.Errorf("init snapshot store: %w", err)
			}
			if err := idx.Restore(ctx, snapshots, cfg.IndexSnapshotKey); err != nil {
				logger.Warn("index_snapshot_restore_failed", "key", cfg.IndexSnapshotKey, "error", err)
			}
			saveSnapshot = func() {
				saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := idx.Snapshot(saveCtx, snapshots, cfg.IndexSnapshotKey); err != nil {
					logger.Warn("index_snapshot_save_failed", "key", cfg.IndexSnapshotKey, "error", err)
				}
			}
		}
		vectorIndex = idx
		lexicalIndex = idx
	case "qdrant":
		// Dense leg in Qdrant, keyword leg on the Postgres text index.
		vectorIndex = qdrant.New(cfg.QdrantURL, cfg.QdrantCollectionPrefix, indexExecutor)
		lexicalIndex = passageRepo
	default:
		queue.Close()
		_ = db.Close()
		return nil, fmt.Errorf("unknown index backend %q", cfg.IndexBackend)
	}

	// The graph projection is a best-effort mirror: an unreachable Neo4j
	// downgrades the feature instead of failing the boot.
	var projector ports.GraphProjector
	var closeProjector func()
	if cfg.Neo4jURI != "" {
		proj, err := neo4j.New(ctx, cfg.Neo4jURI, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			logger.Warn("neo4j_unavailable", "uri", cfg.Neo4jURI, "error", err)
		} else {
			projector = proj
			closeProjector = func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = proj.Close(closeCtx)
			}
		}
	}

	aliases, err := aliasRepo.ListAliases(ctx)
	if err != nil {
		logger.Warn("citation_aliases_unavailable", "error", err)
	}
	extractor := usecase.NewCiteExtractor(aliases, logger)
	classifier := usecase.NewTreatmentClassifier(cfg.TreatmentConfidenceThreshold, logger)

	chunker := chunking.NewSplitter(cfg.ChunkMaxRunes, cfg.ChunkOverlapSentences)

	retriever := usecase.NewRetrieveUseCase(embedder, lexicalIndex, vectorIndex, usecase.RetrieveConfig{
		Candidates:    cfg.RetrieveCandidates,
		VectorWeight:  cfg.FusionVectorWeight,
		AllowDegraded: cfg.RetrieveAllowDegraded,
	}, logger)
	synthesizer := usecase.NewSynthesizeUseCase(generator, usecase.SynthesizeConfig{
		EvidenceCharBudget: cfg.EvidenceCharBudget,
	}, logger)
	askUC := usecase.NewAskUseCase(retriever, synthesizer, answerRepo, usecase.AskConfig{
		MaxInflight:      cfg.AskMaxInflight,
		RetrievalTimeout: time.Duration(cfg.RetrievalTimeoutMS) * time.Millisecond,
		SynthesisTimeout: time.Duration(cfg.SynthesisTimeoutMS) * time.Millisecond,
		RerankTopK:       cfg.RerankTopK,
	}, logger)
	indexUC := usecase.NewIndexUseCase(passageRepo, vectorIndex, embedder, chunker, queue, usecase.IndexConfig{
		EmbedBatchSize:   cfg.EmbedBatchSize,
		EmbedConcurrency: cfg.EmbedConcurrency,
	}, logger)
	graphUC := usecase.NewGraphUseCase(passageRepo, graphRepo, projector, extractor, classifier, usecase.GraphConfig{
		PageRankDamping:  cfg.PageRankDamping,
		PageRankMaxIters: cfg.PageRankMaxIters,
	}, logger)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue: queue,

		AskUC:   askUC,
		IndexUC: indexUC,
		GraphUC: graphUC,

		Extractor:  extractor,
		Classifier: classifier,

		closeFn: func() {
			if saveSnapshot != nil {
				saveSnapshot()
			}
			if closeProjector != nil {
				closeProjector()
			}
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
