package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zynd.json")
	content := `{
  "server": {"address": "127.0.0.1:9000"},
  "credentials": {"api_key": "from-file", "n8n_api_key": "n8n-file"},
  "webhook": {"http_method": "get", "server_wallet_address": "0xabc", "options": {"require_payment": false}},
  "web3": {"networks_file": "networks.yaml"}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ZYND_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Credentials.APIKey != "from-env" {
		t.Fatalf("env override not applied: %q", cfg.Credentials.APIKey)
	}
	if cfg.Credentials.N8NAPIKey != "n8n-file" {
		t.Fatalf("file value lost: %q", cfg.Credentials.N8NAPIKey)
	}
	if cfg.Webhook.HTTPMethod != "GET" {
		t.Fatalf("method not normalised: %q", cfg.Webhook.HTTPMethod)
	}
	if cfg.Webhook.Path != "webhook" || cfg.Webhook.Price != "$0.01" || cfg.Webhook.Network != "base-sepolia" {
		t.Fatalf("webhook defaults missing: %+v", cfg.Webhook)
	}
	if cfg.Webhook.PublicURL != "http://127.0.0.1:9000/" {
		t.Fatalf("unexpected public url: %q", cfg.Webhook.PublicURL)
	}
	if cfg.Webhook.Options.RequirePaymentEnabled() {
		t.Fatal("require_payment=false should be honoured")
	}
	if !cfg.Webhook.Options.IncludePaymentDetailsEnabled() {
		t.Fatal("include_payment_details should default to true")
	}
	if cfg.TaskQueue.MaxRetries != 1 {
		t.Fatalf("expected single attempt default, got %d", cfg.TaskQueue.MaxRetries)
	}
	if cfg.TaskQueue.LeaseTimeoutSeconds != 1800 {
		t.Fatalf("expected 30 minute lease default, got %d", cfg.TaskQueue.LeaseTimeoutSeconds)
	}
	if cfg.Web3.NetworksFile != filepath.Join(dir, "networks.yaml") {
		t.Fatalf("networks file not resolved: %q", cfg.Web3.NetworksFile)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir: %q", cfg.Runtime.DataDir)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing explicit file")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Webhook.PublicURL != "http://localhost:8080/" {
		t.Fatalf("unexpected public url %q", cfg.Webhook.PublicURL)
	}
	if cfg.Dashboard.StatusIntervalSeconds != 15 || cfg.Dashboard.ProfileIntervalSeconds != 10 {
		t.Fatalf("unexpected poll intervals: %+v", cfg.Dashboard)
	}
}
