package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Host != "0.0.0.0" {
		t.Errorf("expected default Host = 0.0.0.0, got %s", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected default Port = 8080, got %d", cfg.Port)
	}
	if cfg.MaxAttempts != 2 {
		t.Errorf("expected default MaxAttempts = 2, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != time.Minute {
		t.Errorf("expected default InitialBackoff = 1m, got %s", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != time.Hour {
		t.Errorf("expected default MaxBackoff = 1h, got %s", cfg.MaxBackoff)
	}
	if cfg.ModelCacheSize != 16 {
		t.Errorf("expected default ModelCacheSize = 16, got %d", cfg.ModelCacheSize)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default LogLevel = info, got %s", cfg.LogLevel)
	}
}

func TestValidate(t *testing.T) {
	cfg := New()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.Addr != "0.0.0.0:8080" {
		t.Errorf("expected computed Addr, got %s", cfg.Addr)
	}
}

func TestValidate_PortRange(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := New()
		cfg.Port = port
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for port %d", port)
		}
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := New()
	cfg.LogLevel = "WARN"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected case-insensitive level to validate, got %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected level lowered, got %s", cfg.LogLevel)
	}

	cfg = New()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestValidate_ClampsLoaderPolicy(t *testing.T) {
	cfg := New()
	cfg.MaxAttempts = 0
	cfg.InitialBackoff = -time.Second
	cfg.MaxBackoff = time.Millisecond
	cfg.ModelCacheSize = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.MaxAttempts != 1 {
		t.Errorf("expected MaxAttempts clamped to 1, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != time.Minute {
		t.Errorf("expected InitialBackoff reset, got %s", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		t.Errorf("expected MaxBackoff >= InitialBackoff, got %s", cfg.MaxBackoff)
	}
	if cfg.ModelCacheSize != 16 {
		t.Errorf("expected ModelCacheSize reset, got %d", cfg.ModelCacheSize)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("MODELFETCH_MODEL_NAME", "env-model")
	t.Setenv("MODELFETCH_MODEL_URL", "https://example.com/env.json")
	t.Setenv("MODELFETCH_LOG_LEVEL", "debug")

	cfg := New()
	cfg.FromEnv()

	if cfg.ModelName != "env-model" {
		t.Errorf("expected model name from env, got %s", cfg.ModelName)
	}
	if cfg.ModelURL != "https://example.com/env.json" {
		t.Errorf("expected model URL from env, got %s", cfg.ModelURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level from env, got %s", cfg.LogLevel)
	}
}

func TestResolveDBPath_Default(t *testing.T) {
	cfg := New()
	if err := cfg.ResolveDBPath(); err != nil {
		t.Fatalf("ResolveDBPath failed: %v", err)
	}
	if cfg.AbsDBPath == "" || !filepath.IsAbs(cfg.AbsDBPath) {
		t.Fatalf("expected absolute resolved path, got %q", cfg.AbsDBPath)
	}
	if !strings.Contains(cfg.AbsDBPath, "modelfetch") {
		t.Errorf("expected modelfetch in default path, got %q", cfg.AbsDBPath)
	}
}

func TestResolveDBPath_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}

	cfg := New()
	cfg.DBPath = "~/journal/modelfetch.db"
	if err := cfg.ResolveDBPath(); err != nil {
		t.Fatalf("ResolveDBPath failed: %v", err)
	}
	want := filepath.Join(home, "journal", "modelfetch.db")
	if cfg.AbsDBPath != want {
		t.Errorf("expected %q, got %q", want, cfg.AbsDBPath)
	}
}

func TestModelSpecs_SingleModelFromFlags(t *testing.T) {
	cfg := New()
	cfg.ModelURL = "https://example.com/m.json"
	cfg.ModelCachePath = "/var/cache/m.json"
	cfg.MaxModelAge = 24 * time.Hour

	specs, err := cfg.ModelSpecs()
	if err != nil {
		t.Fatalf("ModelSpecs failed: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(specs))
	}
	spec := specs[0]
	if spec.Name != "default" {
		t.Errorf("expected fallback name, got %q", spec.Name)
	}
	if spec.URL != cfg.ModelURL || spec.CachePath != cfg.ModelCachePath {
		t.Errorf("expected flag fields carried over, got %+v", spec)
	}
	if spec.MaxAttempts != 2 || spec.InitialBackoff != time.Minute || spec.MaxAge != 24*time.Hour {
		t.Errorf("expected policy gaps filled from defaults, got %+v", spec)
	}
}

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
models:
  - name: click-ranker
    url: https://example.com/click.json
    cache_path: /var/cache/click.json
    max_attempts: 5
    initial_backoff: 30s
    max_age: 720h
  - name: spam-ranker
    url: https://example.com/spam.json
`)

	specs, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(specs))
	}
	first := specs[0]
	if first.Name != "click-ranker" || first.MaxAttempts != 5 {
		t.Errorf("unexpected first spec: %+v", first)
	}
	if first.InitialBackoff != 30*time.Second {
		t.Errorf("expected parsed duration, got %s", first.InitialBackoff)
	}
	if first.MaxAge != 720*time.Hour {
		t.Errorf("expected parsed max_age, got %s", first.MaxAge)
	}
}

func TestLoadManifest_Errors(t *testing.T) {
	cases := map[string]string{
		"no models":        `models: []`,
		"missing name":     "models:\n  - url: https://example.com/m.json\n",
		"duplicate name":   "models:\n  - name: a\n  - name: a\n",
		"invalid duration": "models:\n  - name: a\n    initial_backoff: soon\n",
		"invalid yaml":     `models: [`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadManifest(writeManifest(t, body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestModelSpecs_ManifestPolicyDefaults(t *testing.T) {
	path := writeManifest(t, `
models:
  - name: bare
    url: https://example.com/bare.json
`)

	cfg := New()
	cfg.ManifestPath = path
	cfg.MaxAttempts = 7
	cfg.InitialBackoff = 5 * time.Second

	specs, err := cfg.ModelSpecs()
	if err != nil {
		t.Fatalf("ModelSpecs failed: %v", err)
	}
	if specs[0].MaxAttempts != 7 {
		t.Errorf("expected default MaxAttempts applied, got %d", specs[0].MaxAttempts)
	}
	if specs[0].InitialBackoff != 5*time.Second {
		t.Errorf("expected default InitialBackoff applied, got %s", specs[0].InitialBackoff)
	}
}
