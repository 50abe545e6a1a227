package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
http:
  timeout_seconds: 45
  max_retries: 4
collector:
  workers: 4
  queue_depth: 64
  sample_fallback: false
  dedup_lookback_days: 30
warehouse:
  project_id: wi-market-prod
  dataset_id: wi_market
  staging_bucket: wi-market-staging
ledger:
  dsn: postgres://pipeline@localhost:5432/marketpipe
sources:
  census:
    api_key: census-key
    year: 2023
  bls:
    api_key: bls-key
    series_ids: ["CUUR0000SA0", "WPUFD4"]
  places:
    api_key: places-key
    queries: ["coffee shop in Madison, WI"]
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatal("expected auth enabled with secret key")
	}
	if cfg.Collector.Workers != 4 || cfg.Collector.SampleFallback {
		t.Fatalf("expected collector overrides to apply: %+v", cfg.Collector)
	}
	if cfg.Warehouse.ProjectID != "wi-market-prod" {
		t.Fatalf("expected warehouse project override, got %q", cfg.Warehouse.ProjectID)
	}
	if cfg.Sources.Census.Year != 2023 || cfg.Sources.Census.APIKey != "census-key" {
		t.Fatalf("expected census overrides: %+v", cfg.Sources.Census)
	}
	if len(cfg.Sources.BLS.SeriesIDs) != 2 {
		t.Fatalf("expected two BLS series, got %v", cfg.Sources.BLS.SeriesIDs)
	}
	if got := cfg.ClientTimeout(); got != 45*time.Second {
		t.Fatalf("expected client timeout 45s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if !cfg.Collector.SampleFallback {
		t.Fatal("sample fallback should default on")
	}
	if cfg.Sources.Places.RequestDelay != 500 {
		t.Fatalf("expected 500ms places delay, got %d", cfg.Sources.Places.RequestDelay)
	}
	if cfg.Warehouse.DatasetID != "wi_market" {
		t.Fatalf("unexpected default dataset: %q", cfg.Warehouse.DatasetID)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		HTTP:      HTTPConfig{TimeoutSeconds: 30},
		Collector: CollectorConfig{Workers: 2, QueueDepth: 16},
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }},
		{"zero workers", func(c *Config) { c.Collector.Workers = 0 }},
		{"zero queue depth", func(c *Config) { c.Collector.QueueDepth = 0 }},
		{"negative lookback", func(c *Config) { c.Collector.DedupLookbackDays = -1 }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }},
		{"project without dataset", func(c *Config) { c.Warehouse.ProjectID = "p" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
