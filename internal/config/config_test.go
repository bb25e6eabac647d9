package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "storage:\n  path: " + filepath.Join(dir, "data") + "\nserver:\n  url_prefix: /npm\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Port != 4873 {
		t.Fatalf("Port = %d, want 4873", cfg.Server.Port)
	}
	if cfg.Server.URLPrefix != "/npm" {
		t.Fatalf("URLPrefix = %q, want /npm", cfg.Server.URLPrefix)
	}
	if cfg.Sync.Interval != 10*time.Minute {
		t.Fatalf("Interval = %v, want 10m", cfg.Sync.Interval)
	}
	if len(cfg.Auth.Packages) != 1 || cfg.Auth.Packages[0].Pattern != "**" {
		t.Fatalf("unexpected default package rules: %#v", cfg.Auth.Packages)
	}
	if _, err := os.Stat(cfg.PackagesDir()); err != nil {
		t.Fatalf("packages dir not created: %v", err)
	}
}

func TestParseReadsRulesAndDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
storage:
  path: ` + filepath.Join(dir, "data") + `
sync:
  interval: 30s
auth:
  users:
    alice: "$2a$10$abcdefghijklmnopqrstuu"
  packages:
    - pattern: "@acme/*"
      access: [$authenticated]
    - pattern: "**"
      access: [$all]
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Fatalf("Interval = %v, want 30s", cfg.Sync.Interval)
	}
	if len(cfg.Auth.Packages) != 2 || cfg.Auth.Packages[0].Access[0] != "$authenticated" {
		t.Fatalf("unexpected package rules: %#v", cfg.Auth.Packages)
	}
	if _, ok := cfg.Auth.Users["alice"]; !ok {
		t.Fatalf("user alice missing")
	}
}

func TestParseMissingFile(t *testing.T) {
	if _, err := Parse(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadFromFileReadsOnce(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.yaml")
	second := filepath.Join(dir, "second.yaml")
	for path, port := range map[string]string{first: "5000", second: "6000"} {
		body := "server:\n  port: " + port + "\nstorage:\n  path: " + filepath.Join(dir, "data") + "\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	cfg, err := LoadFromFile(first)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	again, err := LoadFromFile(second)
	if err != nil {
		t.Fatalf("LoadFromFile again: %v", err)
	}
	if again != cfg || again.Server.Port != 5000 {
		t.Fatalf("second load = port %d, want the first config (port 5000)", again.Server.Port)
	}
}
