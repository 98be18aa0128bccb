package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "dev" {
		t.Fatalf("expected dev env, got %q", cfg.Env)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %q", cfg.Port)
	}
	if cfg.Tasks.MaxConcurrency != 4 {
		t.Fatalf("expected concurrency 4, got %d", cfg.Tasks.MaxConcurrency)
	}
	if cfg.Pipeline.Mode != "staged" {
		t.Fatalf("expected staged mode, got %q", cfg.Pipeline.Mode)
	}
	if cfg.LLM.OpenAITimeout != 60*time.Second {
		t.Fatalf("expected 60s timeout, got %s", cfg.LLM.OpenAITimeout)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("DATABASE_URL", "postgres://localhost/cv")
	t.Setenv("JWT_SECRET", " s3cret ")
	t.Setenv("TASKS_MAX_CONCURRENCY", "8")
	t.Setenv("PIPELINE_MODE", "LEGACY")
	t.Setenv("OPENAI_TIMEOUT_SECONDS", "15")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected production, got %q", cfg.Env)
	}
	if cfg.JWTSecret != "s3cret" {
		t.Fatalf("expected trimmed jwt secret, got %q", cfg.JWTSecret)
	}
	if cfg.Tasks.MaxConcurrency != 8 {
		t.Fatalf("expected 8, got %d", cfg.Tasks.MaxConcurrency)
	}
	if cfg.Pipeline.Mode != "legacy" {
		t.Fatalf("expected legacy, got %q", cfg.Pipeline.Mode)
	}
	if cfg.LLM.OpenAITimeout != 15*time.Second {
		t.Fatalf("expected 15s, got %s", cfg.LLM.OpenAITimeout)
	}
	if len(cfg.CORSAllowOrigin) != 2 || cfg.CORSAllowOrigin[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %#v", cfg.CORSAllowOrigin)
	}
}

func TestLoadProductionRequiresDatabase(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(viper.New()); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestLoadProductionRequiresJWTSecret(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/cv")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(viper.New()); err == nil {
		t.Fatalf("expected error without JWT_SECRET")
	}
}
