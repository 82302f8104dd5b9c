package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalYAML = `
mode: paper
database:
  url: postgres://localhost/bot
api:
  clob_base_url: https://clob.example.com
  gamma_base_url: https://gamma.example.com
  ws_market_url: wss://ws.example.com/market
`

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if got := cfg.Ingest.MaxTradeAge.Seconds(); got != 300 {
		t.Errorf("MaxTradeAge = %vs, want 300s", got)
	}
	if cfg.Pipeline.ExecutionThreshold != 0.97 {
		t.Errorf("ExecutionThreshold = %v, want 0.97", cfg.Pipeline.ExecutionThreshold)
	}
	if cfg.Pipeline.WatchlistMin != 0.90 {
		t.Errorf("WatchlistMin = %v, want 0.90", cfg.Pipeline.WatchlistMin)
	}
	if cfg.Exit.HoldHoursDefault != 168 {
		t.Errorf("HoldHoursDefault = %v, want 168", cfg.Exit.HoldHoursDefault)
	}
}

func TestCredentialsFileOverrides(t *testing.T) {
	dir := t.TempDir()
	credsPath := writeFile(t, dir, "creds.json", `{
		"api_key": "k1", "api_secret": "s1", "api_passphrase": "p1",
		"funder": "0xabc", "private_key": "deadbeef"
	}`)
	path := writeFile(t, dir, "config.yaml", minimalYAML+`
credentials:
  path: `+credsPath+`
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Credentials.ApiKey != "k1" || cfg.Credentials.Secret != "s1" || cfg.Credentials.Passphrase != "p1" {
		t.Errorf("credentials not loaded from file: %+v", cfg.Credentials)
	}
	if cfg.Wallet.FunderAddress != "0xabc" {
		t.Errorf("Funder = %q, want 0xabc", cfg.Wallet.FunderAddress)
	}
	if cfg.Wallet.PrivateKey != "deadbeef" {
		t.Errorf("PrivateKey = %q", cfg.Wallet.PrivateKey)
	}
}

func TestValidateLiveModeRequiresCredentials(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Mode = "live"
	if err := cfg.Validate(); err == nil {
		t.Error("live mode without credentials should fail validation")
	}
}

func TestValidateHysteresis(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Tiers.PromoteToTier3Score = 0.5
	cfg.Tiers.DemoteFromTier3Score = 0.6
	if err := cfg.Validate(); err == nil {
		t.Error("promote score below demote score should fail validation")
	}
}

func TestValidateThresholdRange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Pipeline.Thresholds = []float64{1.5}
	if err := cfg.Validate(); err == nil {
		t.Error("threshold above 1 should fail validation")
	}
}
