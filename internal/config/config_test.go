package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != defaultHTTPAddress {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.AuthCookieName != defaultCookieName || cfg.AuthIssuer != defaultIssuer {
		t.Fatalf("unexpected auth defaults %#v", cfg)
	}
	if cfg.AuthTokenTTL != 12*time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.AuthTokenTTL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected allowed origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadRequiresSigningSecret(t *testing.T) {
	if _, err := Load(NewViper()); err == nil {
		t.Fatalf("expected error without signing secret")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("FAIRWAY_AUTH_SIGNING_SECRET", "from-env")
	t.Setenv("FAIRWAY_HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("FAIRWAY_AUTH_TOKEN_TTL_MINUTES", "5")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.AuthSigningSecret != "from-env" {
		t.Fatalf("expected secret from env, got %q", cfg.AuthSigningSecret)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.AuthTokenTTL != 5*time.Minute {
		t.Fatalf("unexpected ttl %s", cfg.AuthTokenTTL)
	}
}

func TestLoadDotEnvExportsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("FAIRWAY_LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("FAIRWAY_LOG_LEVEL", "")
	os.Unsetenv("FAIRWAY_LOG_LEVEL")

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path); err != nil {
		t.Fatalf("unexpected dotenv error: %v", err)
	}
	cfg, err := LoadClient(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from .env, got %q", cfg.LogLevel)
	}
}
