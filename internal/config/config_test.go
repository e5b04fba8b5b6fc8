package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"AUTO_THREADS_THRESHOLD", "AUTO_MESSAGES_THRESHOLD", "REBUILD_WINDOW", "LLM_FINAL_MODEL", "LLM_MODEL"} {
		os.Unsetenv(k)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AutoThreadsThreshold != 60 {
		t.Errorf("AutoThreadsThreshold = %d, want 60", cfg.AutoThreadsThreshold)
	}
	if cfg.AutoMessagesThreshold != 300 {
		t.Errorf("AutoMessagesThreshold = %d, want 300", cfg.AutoMessagesThreshold)
	}
	if cfg.RebuildWindow != 48*time.Hour {
		t.Errorf("RebuildWindow = %v, want 48h", cfg.RebuildWindow)
	}
	if cfg.LLMFinalModel != cfg.LLMModel {
		t.Errorf("LLMFinalModel should default to LLMModel")
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	os.Setenv("AUTO_THREADS_THRESHOLD", "100")
	os.Setenv("PARALLEL_POOL", "16")
	defer os.Unsetenv("AUTO_THREADS_THRESHOLD")
	defer os.Unsetenv("PARALLEL_POOL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AutoThreadsThreshold != 100 {
		t.Errorf("AutoThreadsThreshold = %d, want 100", cfg.AutoThreadsThreshold)
	}
	if cfg.ParallelPool != 16 {
		t.Errorf("ParallelPool = %d, want 16", cfg.ParallelPool)
	}
}

func TestValidateRejectsBadPoolSize(t *testing.T) {
	cfg := &Config{ParallelPool: 0, PerThreadMaxChunksException: 12, PerThreadMaxChunks: 8}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero ParallelPool")
	}
}

func TestValidateRejectsInvertedChunkCaps(t *testing.T) {
	cfg := &Config{ParallelPool: 8, PerThreadMaxChunksException: 4, PerThreadMaxChunks: 8}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for exception cap below normal cap")
	}
}
