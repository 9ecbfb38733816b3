package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SUMMARY_CACHE_TTL_SECONDS", "-5")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "60")
	t.Setenv("MIGRATE_ON_START", "true")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("expected default port, got %s", cfg.Address())
	}
	if cfg.SummaryCacheTTL() != 30*time.Second {
		t.Fatalf("expected invalid cache ttl to fall back to 30s, got %s", cfg.SummaryCacheTTL())
	}
	if cfg.AccessTokenTTL() != time.Hour {
		t.Fatalf("expected 1h token ttl, got %s", cfg.AccessTokenTTL())
	}
	if !cfg.MigrateOnStart {
		t.Fatalf("expected MIGRATE_ON_START to be honoured")
	}
	if cfg.LogLevel != zerolog.DebugLevel {
		t.Fatalf("expected debug log level, got %s", cfg.LogLevel)
	}
	if cfg.RedisDB != 2 {
		t.Fatalf("expected redis db 2, got %d", cfg.RedisDB)
	}
	if cfg.LoginRateLimit != "5-M" {
		t.Fatalf("expected default login rate, got %q", cfg.LoginRateLimit)
	}
}

func TestLoadReadsDotEnvWithoutOverridingEnvironment(t *testing.T) {
	dir := t.TempDir()
	content := "ALLOWED_ORIGIN=https://caja.example.com\nPORT=9999\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)
	t.Setenv("PORT", "7070")
	t.Setenv("ALLOWED_ORIGIN", "")
	os.Unsetenv("ALLOWED_ORIGIN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.AllowedOrigin != "https://caja.example.com" {
		t.Fatalf("expected origin from .env, got %q", cfg.AllowedOrigin)
	}
	if cfg.Port != "7070" {
		t.Fatalf("expected environment to win over .env, got %q", cfg.Port)
	}
}
