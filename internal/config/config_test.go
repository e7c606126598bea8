package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets every variable Load reads so one test's environment
// can't leak into another's.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENVIRONMENT", "API_HOST", "API_PORT", "REDIS_HOST", "REDIS_PORT",
		"REDIS_PASSWORD", "LLM_MODELS", "LLM_COUNCIL_ALIASES",
		"LLM_SYNTHESIS_ALIAS", "LLM_SMART_ROUTER_ALIAS", "CONFIG_FILE",
		"CORS_ALLOWED_ORIGINS", "ADMIN_JWT_SECRET", "PHEROMIND_TTL",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_MODELS", "huihui=ollama:localhost:11434,mistral=ollama:localhost:11435")
	t.Setenv("LLM_COUNCIL_ALIASES", "huihui,mistral")
	t.Setenv("LLM_SYNTHESIS_ALIAS", "huihui")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Environment != EnvDevelopment {
		t.Errorf("Environment = %q, want development", cfg.Environment)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.PheromindTTL != 12*time.Second {
		t.Errorf("PheromindTTL = %v, want 12s", cfg.PheromindTTL)
	}
	if cfg.Treasury.DefaultSeedCents != 5000 {
		t.Errorf("Treasury.DefaultSeedCents = %d, want 5000", cfg.Treasury.DefaultSeedCents)
	}
	if len(cfg.LLM.Models) != 2 {
		t.Fatalf("len(Models) = %d, want 2", len(cfg.LLM.Models))
	}
	if m := cfg.LLM.Models[0]; m.Alias != "huihui" || m.Provider != "ollama" || m.Port != 11434 {
		t.Errorf("Models[0] = %+v", m)
	}
}

func TestLoadRequiresModelTable(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_SYNTHESIS_ALIAS", "huihui")
	t.Setenv("LLM_COUNCIL_ALIASES", "huihui")

	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded with no model backends configured")
	}
}

func TestLoadProductionValidation(t *testing.T) {
	base := func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ENVIRONMENT", "production")
		t.Setenv("LLM_MODELS", "huihui=ollama:localhost:11434")
		t.Setenv("LLM_COUNCIL_ALIASES", "huihui")
		t.Setenv("LLM_SYNTHESIS_ALIAS", "huihui")
		t.Setenv("REDIS_PASSWORD", "s3cure-p4ss")
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com")
		t.Setenv("ADMIN_JWT_SECRET", "an-actual-secret-value")
	}

	t.Run("fully configured", func(t *testing.T) {
		base(t)
		if _, err := Load(); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
	})

	tests := []struct {
		name    string
		key     string
		value   string
		wantSub string
	}{
		{"missing redis password", "REDIS_PASSWORD", "", "REDIS_PASSWORD"},
		{"default redis password", "REDIS_PASSWORD", "changeme", "REDIS_PASSWORD"},
		{"missing cors origins", "CORS_ALLOWED_ORIGINS", "", "CORS_ALLOWED_ORIGINS"},
		{"missing admin secret", "ADMIN_JWT_SECRET", "", "ADMIN_JWT_SECRET"},
		{"default admin secret", "ADMIN_JWT_SECRET", "password", "ADMIN_JWT_SECRET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base(t)
			t.Setenv(tt.key, tt.value)
			if tt.value == "" {
				os.Unsetenv(tt.key)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("Load() succeeded, want production validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantSub)
			}
		})
	}
}

func TestApplyFileOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("HUIHUI_KEY_FROM_ENV", "sk-test-123")

	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	content := `
models:
  - alias: huihui
    provider: ollama
    host: localhost
    port: 11434
    context_size: 16384
  - alias: claude
    provider: anthropic
    host: claude-sonnet-4-20250514
    api_key: ${HUIHUI_KEY_FROM_ENV}
council_aliases: [huihui, claude]
synthesis_alias: claude
pheromind_ttl: 8s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.LLM.Models) != 2 {
		t.Fatalf("len(Models) = %d, want 2", len(cfg.LLM.Models))
	}
	if cfg.LLM.Models[0].ContextSize != 16384 {
		t.Errorf("Models[0].ContextSize = %d, want 16384", cfg.LLM.Models[0].ContextSize)
	}
	if cfg.LLM.Models[1].APIKey != "sk-test-123" {
		t.Errorf("Models[1].APIKey = %q, want env-expanded value", cfg.LLM.Models[1].APIKey)
	}
	if cfg.LLM.SynthesisAlias != "claude" {
		t.Errorf("SynthesisAlias = %q, want claude", cfg.LLM.SynthesisAlias)
	}
	if cfg.PheromindTTL != 8*time.Second {
		t.Errorf("PheromindTTL = %v, want 8s", cfg.PheromindTTL)
	}
}

func TestApplyFileEnvWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_MODELS", "env-model=ollama:localhost:11434")
	t.Setenv("LLM_COUNCIL_ALIASES", "env-model")
	t.Setenv("LLM_SYNTHESIS_ALIAS", "env-model")
	t.Setenv("PHEROMIND_TTL", "30s")

	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	content := `
models:
  - alias: file-model
    provider: ollama
    host: localhost
    port: 1
synthesis_alias: file-model
pheromind_ttl: 5s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.LLM.Models) != 1 || cfg.LLM.Models[0].Alias != "env-model" {
		t.Errorf("Models = %+v, want the env table only", cfg.LLM.Models)
	}
	if cfg.LLM.SynthesisAlias != "env-model" {
		t.Errorf("SynthesisAlias = %q, want env-model", cfg.LLM.SynthesisAlias)
	}
	if cfg.PheromindTTL != 30*time.Second {
		t.Errorf("PheromindTTL = %v, want the env value 30s", cfg.PheromindTTL)
	}
}

func TestApplyFileRejectsMalformedEntries(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	if err := os.WriteFile(path, []byte("models:\n  - host: localhost\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded with a model entry missing alias/provider")
	}
}
