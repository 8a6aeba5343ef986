package config

import (
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/formpulse_test")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)
	// Clear the optional keys so the defaults are what gets loaded.
	for _, key := range []string{
		"PORT", "ENV", "STORAGE_TYPE", "STORAGE_PATH",
		"FINALIZER_WORKERS", "RETENTION_DAYS", "SAMPLING_RATE_PERCENT",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %q", cfg.Port)
	}
	if cfg.StorageType != "local" || cfg.StoragePath != "./recordings" {
		t.Errorf("Expected local ./recordings storage defaults, got %q %q", cfg.StorageType, cfg.StoragePath)
	}
	if cfg.FinalizerWorkers != 2 {
		t.Errorf("Expected 2 finalizer workers, got %d", cfg.FinalizerWorkers)
	}
	if cfg.RetentionDays != 90 {
		t.Errorf("Expected 90 retention days, got %d", cfg.RetentionDays)
	}
	if cfg.SamplingRatePercent != 100 {
		t.Errorf("Expected 100%% sampling, got %d", cfg.SamplingRatePercent)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("FINALIZER_WORKERS", "8")
	t.Setenv("RETENTION_DAYS", "30")
	t.Setenv("SAMPLING_RATE_PERCENT", "25")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Expected port 9090, got %q", cfg.Port)
	}
	if cfg.FinalizerWorkers != 8 {
		t.Errorf("Expected 8 finalizer workers, got %d", cfg.FinalizerWorkers)
	}
	if cfg.RetentionDays != 30 {
		t.Errorf("Expected 30 retention days, got %d", cfg.RetentionDays)
	}
	if cfg.SamplingRatePercent != 25 {
		t.Errorf("Expected 25%% sampling, got %d", cfg.SamplingRatePercent)
	}
}

func TestLoad_MalformedIntFallsBackToDefault(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FINALIZER_WORKERS", "many")

	cfg := Load()
	if cfg.FinalizerWorkers != 2 {
		t.Errorf("Expected default worker count for malformed value, got %d", cfg.FinalizerWorkers)
	}
}

func TestLoad_PanicsWithoutRequiredVars(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic when DATABASE_URL is missing")
		}
	}()
	Load()
}
