package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Listen)
	}
	if cfg.Cache.SimilarityThreshold != 0.90 {
		t.Errorf("expected 0.90 threshold, got %g", cfg.Cache.SimilarityThreshold)
	}
	if cfg.RateLimit.Window != time.Hour {
		t.Errorf("expected 1h window, got %v", cfg.RateLimit.Window)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "key-test-123")

	content := `
listen: ":9090"
db_path: "test.db"
gemini:
  url: https://generativelanguage.googleapis.com/v1beta/models/gemini-pro:generateContent?key=${TEST_GEMINI_KEY}
  timeout: 45s
cache:
  similarity_threshold: 0.85
  retention_days: 14
  max_entries: 500
rate_limit:
  max_per_hour: 20
admin:
  username: ops
  password: ${TEST_GEMINI_KEY}
audit:
  enabled: true
  db_path: audit.db
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Listen)
	}
	if cfg.Gemini.Timeout != 45*time.Second {
		t.Errorf("expected 45s timeout, got %v", cfg.Gemini.Timeout)
	}
	if got := cfg.Gemini.URL; got == "" || got[len(got)-len("key-test-123"):] != "key-test-123" {
		t.Errorf("env var not expanded in url: %s", got)
	}
	if cfg.Cache.SimilarityThreshold != 0.85 {
		t.Errorf("expected 0.85 threshold, got %g", cfg.Cache.SimilarityThreshold)
	}
	if cfg.RateLimit.MaxPerHour != 20 {
		t.Errorf("expected 20 per hour, got %d", cfg.RateLimit.MaxPerHour)
	}
	// Unset sections keep their defaults.
	if cfg.Validation.MinLength != 10 {
		t.Errorf("expected default min_length 10, got %d", cfg.Validation.MinLength)
	}
	if !cfg.Audit.Enabled {
		t.Error("expected audit enabled")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsBadThreshold(t *testing.T) {
	content := "cache:\n  similarity_threshold: 1.5\n"
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for threshold out of range")
	}
}
