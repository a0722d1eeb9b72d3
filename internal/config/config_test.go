package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults_AreValid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"agent": {"mode": "structured", "maxToolRounds": 3}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Agent.Mode != "structured" {
		t.Fatalf("expected structured mode, got %q", cfg.Agent.Mode)
	}
	if cfg.Agent.MaxToolRounds != 3 {
		t.Fatalf("expected 3 rounds, got %d", cfg.Agent.MaxToolRounds)
	}
	// Untouched defaults survive the merge.
	if cfg.Permission.Level != "high" {
		t.Fatalf("expected default permission level, got %q", cfg.Permission.Level)
	}
}

func TestLoad_RejectsBadMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"agent": {"mode": "telepathy"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unknown mode")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("GOHOT_TEST_KEY", "sk-123")

	got := ExpandEnvVars(`{"apiKey": "${GOHOT_TEST_KEY}"}`)
	if got != `{"apiKey": "sk-123"}` {
		t.Fatalf("unexpected expansion: %s", got)
	}

	got = ExpandEnvVars(`${GOHOT_UNSET_VAR:-fallback}`)
	if got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}

	// Unset without default keeps the original text.
	got = ExpandEnvVars(`${GOHOT_UNSET_VAR}`)
	if got != `${GOHOT_UNSET_VAR}` {
		t.Fatalf("expected original text, got %q", got)
	}
}

func TestValidate_UnknownDefaultProvider(t *testing.T) {
	cfg := Defaults()
	cfg.General.DefaultProvider = "nonexistent"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown default provider")
	}
}
