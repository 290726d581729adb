package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadIncludesRetrievalDefaults(t *testing.T) {
	t.Setenv("FUSION_VECTOR_WEIGHT", "")
	t.Setenv("RETRIEVE_CANDIDATES", "")
	t.Setenv("RERANK_TOP_K", "")
	t.Setenv("RETRIEVE_ALLOW_DEGRADED", "")
	t.Setenv("TREATMENT_CONFIDENCE_THRESHOLD", "")

	cfg := Load()
	if cfg.FusionVectorWeight != 0.6 {
		t.Fatalf("expected default vector weight 0.6, got %v", cfg.FusionVectorWeight)
	}
	if cfg.RetrieveCandidates != 50 {
		t.Fatalf("expected default candidates 50, got %d", cfg.RetrieveCandidates)
	}
	if cfg.RerankTopK != 8 {
		t.Fatalf("expected default rerank top k 8, got %d", cfg.RerankTopK)
	}
	if !cfg.RetrieveAllowDegraded {
		t.Fatalf("expected degraded retrieval allowed by default")
	}
	if cfg.TreatmentConfidenceThreshold != 0.6 {
		t.Fatalf("expected default treatment threshold 0.6, got %v", cfg.TreatmentConfidenceThreshold)
	}
}

func TestLoadIncludesPipelineDefaults(t *testing.T) {
	t.Setenv("ASK_MAX_INFLIGHT", "")
	t.Setenv("RETRIEVAL_TIMEOUT_MS", "")
	t.Setenv("SYNTHESIS_TIMEOUT_MS", "")
	t.Setenv("PAGERANK_DAMPING", "")
	t.Setenv("PAGERANK_MAX_ITERS", "")

	cfg := Load()
	if cfg.AskMaxInflight != 16 {
		t.Fatalf("expected default max inflight 16, got %d", cfg.AskMaxInflight)
	}
	if cfg.RetrievalTimeoutMS != 3000 {
		t.Fatalf("expected default retrieval timeout 3000, got %d", cfg.RetrievalTimeoutMS)
	}
	if cfg.SynthesisTimeoutMS != 45000 {
		t.Fatalf("expected default synthesis timeout 45000, got %d", cfg.SynthesisTimeoutMS)
	}
	if cfg.PageRankDamping != 0.85 {
		t.Fatalf("expected default damping 0.85, got %v", cfg.PageRankDamping)
	}
	if cfg.PageRankMaxIters != 30 {
		t.Fatalf("expected default max iters 30, got %d", cfg.PageRankMaxIters)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("FUSION_VECTOR_WEIGHT", "0.75")
	t.Setenv("RETRIEVE_CANDIDATES", "25")
	t.Setenv("RETRIEVE_ALLOW_DEGRADED", "false")
	t.Setenv("INDEX_BACKEND", "qdrant")

	cfg := Load()
	if cfg.FusionVectorWeight != 0.75 {
		t.Fatalf("expected vector weight override, got %v", cfg.FusionVectorWeight)
	}
	if cfg.RetrieveCandidates != 25 {
		t.Fatalf("expected candidates 25, got %d", cfg.RetrieveCandidates)
	}
	if cfg.RetrieveAllowDegraded {
		t.Fatalf("expected degraded retrieval disabled")
	}
	if cfg.IndexBackend != "qdrant" {
		t.Fatalf("expected index backend qdrant, got %q", cfg.IndexBackend)
	}
}

func TestLoadUnparsableValuesFallBack(t *testing.T) {
	t.Setenv("RETRIEVE_CANDIDATES", "many")
	t.Setenv("FUSION_VECTOR_WEIGHT", "heavy")
	t.Setenv("RETRIEVE_ALLOW_DEGRADED", "perhaps")

	cfg := Load()
	if cfg.RetrieveCandidates != 50 {
		t.Fatalf("expected fallback candidates 50, got %d", cfg.RetrieveCandidates)
	}
	if cfg.FusionVectorWeight != 0.6 {
		t.Fatalf("expected fallback vector weight 0.6, got %v", cfg.FusionVectorWeight)
	}
	if !cfg.RetrieveAllowDegraded {
		t.Fatalf("expected fallback degraded retrieval true")
	}
}

func TestLoadAppliesYAMLOverlayUnderEnv(t *testing.T) {
	overlay := filepath.Join(t.TempDir(), "config.yaml")
	body := "API_PORT: \"9191\"\nRERANK_TOP_K: 4\nLOG_LEVEL: debug\n"
	if err := os.WriteFile(overlay, []byte(body), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	t.Setenv("CONFIG_FILE", overlay)
	t.Setenv("API_PORT", "")
	t.Setenv("RERANK_TOP_K", "")
	t.Setenv("LOG_LEVEL", "warn")

	cfg := Load()
	if cfg.APIPort != "9191" {
		t.Fatalf("expected overlay port 9191, got %q", cfg.APIPort)
	}
	if cfg.RerankTopK != 4 {
		t.Fatalf("expected overlay rerank top k 4, got %d", cfg.RerankTopK)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("expected env to win over overlay, got %q", cfg.LogLevel)
	}
}

func TestLoadIgnoresMissingOverlayFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("API_PORT", "")

	cfg := Load()
	if cfg.APIPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.APIPort)
	}
}
