package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Spot.PollIntervalSecs != 60 {
		t.Errorf("poll interval = %d, want 60", cfg.Spot.PollIntervalSecs)
	}
	if cfg.Database.CacheTTLSecs != 30 {
		t.Errorf("cache ttl = %d, want 30", cfg.Database.CacheTTLSecs)
	}
}

func TestLoadFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	body := `
[server]
port = "9090"

[database]
url = "postgres://localhost/bullion"
cache_ttl_secs = 10

[spot]
api_url = "https://spot.example.com/v1/latest"
poll_interval_secs = 15

[pricing]
rules_file = "rules.toml"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Database.URL != "postgres://localhost/bullion" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.Spot.PollIntervalSecs != 15 {
		t.Errorf("poll interval = %d, want 15", cfg.Spot.PollIntervalSecs)
	}
	if cfg.Pricing.RulesFile != "rules.toml" {
		t.Errorf("rules file = %q", cfg.Pricing.RulesFile)
	}
	// Unset sections keep their defaults.
	if cfg.Server.RequestTimeout != 30 {
		t.Errorf("request timeout = %d, want default 30", cfg.Server.RequestTimeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	if err := os.WriteFile(path, []byte("[server]\nport = \"9090\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PORT", "7070")
	t.Setenv("BULLION_SPOT_POLL_SECS", "5")
	t.Setenv("BULLION_SPOT_API_KEY", "sekret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("port = %q, want env override 7070", cfg.Server.Port)
	}
	if cfg.Spot.PollIntervalSecs != 5 {
		t.Errorf("poll interval = %d, want 5", cfg.Spot.PollIntervalSecs)
	}
	if cfg.Spot.APIKey != "sekret" {
		t.Errorf("api key = %q", cfg.Spot.APIKey)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("BULLION_SPOT_POLL_SECS", "0")
	if _, err := Load(""); err == nil {
		t.Error("zero poll interval should be rejected")
	}
}

func TestLoadMissingFileIsFine(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
}
