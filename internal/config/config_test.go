package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/crewctl/internal/config"
)

func loadWithHome(t *testing.T, home string) *config.Config {
	t.Helper()
	t.Setenv("CREW_HOME", home)
	t.Setenv("CREW_DB", "")
	t.Setenv("CREW_ADDR", "")
	t.Setenv("CREW_TOKEN", "")
	t.Setenv("CREW_AGENT", "")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	home := t.TempDir()
	cfg := loadWithHome(t, home)

	if cfg.DBPath != filepath.Join(home, "crew.db") {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if cfg.BindAddr != "127.0.0.1:3737" {
		t.Fatalf("bind addr = %q", cfg.BindAddr)
	}
	if cfg.PollIntervalSeconds != 2 {
		t.Fatalf("poll interval = %d", cfg.PollIntervalSeconds)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	home := t.TempDir()
	body := "db_path: /tmp/board.db\nbind_addr: 0.0.0.0:8080\nagent_name: alice\nauth_token: sekrit\npoll_interval_seconds: 5\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg := loadWithHome(t, home)

	if cfg.DBPath != "/tmp/board.db" {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if cfg.BindAddr != "0.0.0.0:8080" {
		t.Fatalf("bind addr = %q", cfg.BindAddr)
	}
	if cfg.AgentName != "alice" || cfg.AuthToken != "sekrit" {
		t.Fatalf("agent/token = %q/%q", cfg.AgentName, cfg.AuthToken)
	}
	if cfg.PollIntervalSeconds != 5 {
		t.Fatalf("poll interval = %d", cfg.PollIntervalSeconds)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	body := "db_path: /tmp/file.db\nagent_name: filename\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CREW_HOME", home)
	t.Setenv("CREW_DB", "/tmp/env.db")
	t.Setenv("CREW_AGENT", "envname")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("db path = %q, want env override", cfg.DBPath)
	}
	if cfg.AgentName != "envname" {
		t.Fatalf("agent = %q, want env override", cfg.AgentName)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("db_path: [broken"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CREW_HOME", home)
	if _, err := config.Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestResolveAgentPrecedence(t *testing.T) {
	cfg := &config.Config{AgentName: "configured"}
	if got := cfg.ResolveAgent("flagged"); got != "flagged" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := cfg.ResolveAgent(""); got != "configured" {
		t.Fatalf("config name should win, got %q", got)
	}
	empty := &config.Config{}
	if got := empty.ResolveAgent(""); got == "" {
		t.Fatal("hostname fallback returned empty identity")
	}
}
