// Copyright 2025 James Ross
package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("ORCHESTRATOR_GLOBAL_CONCURRENCY")
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Orchestrator.GlobalConcurrency != 16 {
		t.Fatalf("expected default global concurrency 16, got %d", cfg.Orchestrator.GlobalConcurrency)
	}
	if cfg.Database.DSN == "" {
		t.Fatalf("expected default database dsn")
	}
	if len(cfg.Orchestrator.Priorities) == 0 {
		t.Fatalf("expected priorities parsed from priority_csv default")
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Orchestrator.Priorities = map[string]int{"sync": 100}
	cfg.Orchestrator.GlobalConcurrency = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for orchestrator.global_concurrency < 1")
	}

	cfg = defaultConfig()
	cfg.Orchestrator.Priorities = map[string]int{"sync": 100}
	cfg.Orchestrator.PollIntervalMaxMS = 1
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for poll_interval_max_ms < poll_interval_ms")
	}

	cfg = defaultConfig()
	cfg.Orchestrator.Priorities = map[string]int{"sync": 100}
	cfg.Matching.ConfidenceThreshold = 1.5
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for matching.confidence_threshold out of range")
	}
}
