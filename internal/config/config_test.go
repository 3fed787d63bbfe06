package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.SyncPageSize != 50 || cfg.SyncMaxPages != 1 || cfg.SyncEnrichConcurrency != 4 {
		t.Errorf("sync defaults = %d/%d/%d", cfg.SyncPageSize, cfg.SyncMaxPages, cfg.SyncEnrichConcurrency)
	}
	if cfg.AzureTenantID != "common" || cfg.OpenAIModel != "gpt-4o" {
		t.Errorf("provider defaults = %q/%q", cfg.AzureTenantID, cfg.OpenAIModel)
	}
	if !cfg.SecureCookies {
		t.Error("expected secure cookies by default")
	}
	if cfg.SyncIntervalMinutes != 0 {
		t.Errorf("background sync should be off by default, got %d", cfg.SyncIntervalMinutes)
	}
	if cfg.SyncSentPageSize != 20 {
		t.Errorf("SyncSentPageSize = %d", cfg.SyncSentPageSize)
	}
	if len(cfg.GraphScopes) != 0 {
		t.Errorf("GraphScopes = %v", cfg.GraphScopes)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SYNC_MAX_PAGES", "3")
	t.Setenv("RATE_LIMIT_RPS", "0.5")
	t.Setenv("SECURE_COOKIES", "false")
	t.Setenv("GRAPH_SCOPES", "User.Read, Mail.Read offline_access")
	t.Setenv("TOKEN_SECRET", "s3cret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 || cfg.SyncMaxPages != 3 || cfg.RateLimitRPS != 0.5 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.SecureCookies {
		t.Error("expected secure cookies disabled")
	}
	if strings.Join(cfg.GraphScopes, "|") != "User.Read|Mail.Read|offline_access" {
		t.Errorf("GraphScopes = %v", cfg.GraphScopes)
	}
	if cfg.TokenSecret != "s3cret" {
		t.Errorf("TokenSecret = %q", cfg.TokenSecret)
	}
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailmind.yaml")
	content := "port: 7070\nopenai_model: gpt-4o-mini\nsync_page_size: 25\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYNC_PAGE_SIZE", "10")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 7070 || cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.SyncPageSize != 10 {
		t.Errorf("env should override file, SyncPageSize = %d", cfg.SyncPageSize)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("SYNC_ENRICH_CONCURRENCY", "0")
	t.Setenv("PORT", "70000")
	t.Setenv("SYNC_INTERVAL_MINUTES", "-5")
	t.Setenv("SYNC_SENT_PAGE_SIZE", "-1")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"SYNC_ENRICH_CONCURRENCY", "PORT", "SYNC_INTERVAL_MINUTES", "SYNC_SENT_PAGE_SIZE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
