package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesAuditFile(t *testing.T) {
	dir := t.TempDir()
	appPath := filepath.Join(dir, "app.log")
	auditPath := filepath.Join(dir, "audit", "audit.log")

	if err := Init(Config{
		Level:       "debug",
		Format:      "text",
		OutputPaths: []string{appPath},
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	}); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	t.Cleanup(func() { _ = Sync() })

	Named("publisher").Debug("debug line")
	Audit().Info("payment_verified", "network", "base-sepolia")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	app, err := os.ReadFile(appPath)
	if err != nil {
		t.Fatalf("read app log: %v", err)
	}
	if !strings.Contains(string(app), "component=publisher") {
		t.Fatalf("component attribute missing from %q", app)
	}
	audit, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(audit), `"network":"base-sepolia"`) {
		t.Fatalf("audit entry missing from %q", audit)
	}
}

func TestInitRejectsAuditWithoutPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatal("expected error for empty audit path")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "WARNING": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
