package config

import (
	"testing"
	"time"
)

func TestLoad_EnvOnlyDefaults(t *testing.T) {
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RunLock.Backend != "db" || cfg.RunLock.TTL != 10*time.Minute {
		t.Fatalf("run_lock=%+v", cfg.RunLock)
	}
	if cfg.Cycle.Workers != 4 || cfg.Cycle.StartFrom != "4h" {
		t.Fatalf("cycle=%+v", cfg.Cycle)
	}
	if len(cfg.Cascade.ExecutionPreference) != 3 || cfg.Cascade.ExecutionPreference[0] != "1m" {
		t.Fatalf("execution_preference=%v", cfg.Cascade.ExecutionPreference)
	}
	if cfg.Maintenance.DedupRetention != 720*time.Hour {
		t.Fatalf("dedup_retention=%s", cfg.Maintenance.DedupRetention)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MTF_RUN_LOCK_BACKEND", "redis")
	t.Setenv("MTF_CYCLE_WORKERS", "9")
	cfg, err := Load("", true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RunLock.Backend != "redis" {
		t.Fatalf("backend=%s want redis", cfg.RunLock.Backend)
	}
	if cfg.Cycle.Workers != 9 {
		t.Fatalf("workers=%d want 9", cfg.Cycle.Workers)
	}
}
