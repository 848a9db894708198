// Package config loads the crewctl configuration. The result is an explicit
// object handed to each collaborator at startup; nothing in here is mutated
// after Load returns.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/crewctl/internal/otel"
)

const configFileName = "config.yaml"

// Config is the process configuration, read from ~/.crewctl/config.yaml with
// environment overrides applied on top.
type Config struct {
	HomeDir string `yaml:"-"`

	DBPath    string `yaml:"db_path"`
	BindAddr  string `yaml:"bind_addr"`
	AuthToken string `yaml:"auth_token"`
	AgentName string `yaml:"agent_name"`
	LogLevel  string `yaml:"log_level"`

	// PollIntervalSeconds is the dashboard board-change poll interval.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// ScheduleIntervalSeconds is the recurring-task scheduler tick interval.
	ScheduleIntervalSeconds int `yaml:"schedule_interval_seconds"`

	OTel otel.Config `yaml:"otel"`
}

// DefaultHomeDir returns ~/.crewctl, or ./.crewctl when the home directory
// cannot be resolved.
func DefaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".crewctl")
}

// Load reads the config file if present and applies env overrides:
// CREW_HOME, CREW_DB, CREW_ADDR, CREW_TOKEN, CREW_AGENT.
func Load() (*Config, error) {
	homeDir := strings.TrimSpace(os.Getenv("CREW_HOME"))
	if homeDir == "" {
		homeDir = DefaultHomeDir()
	}

	cfg := &Config{HomeDir: homeDir}

	path := filepath.Join(homeDir, configFileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No file yet; defaults plus env are enough.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cfg.HomeDir = homeDir

	if v := strings.TrimSpace(os.Getenv("CREW_DB")); v != "" {
		cfg.DBPath = v
	}
	if v := strings.TrimSpace(os.Getenv("CREW_ADDR")); v != "" {
		cfg.BindAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("CREW_TOKEN")); v != "" {
		cfg.AuthToken = v
	}
	if v := strings.TrimSpace(os.Getenv("CREW_AGENT")); v != "" {
		cfg.AgentName = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.HomeDir, "crew.db")
	}
	if c.BindAddr == "" {
		c.BindAddr = "127.0.0.1:3737"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 2
	}
	if c.ScheduleIntervalSeconds <= 0 {
		c.ScheduleIntervalSeconds = 60
	}
}

// ResolveAgent resolves the local agent identity: explicit flag value first,
// then config/env agent name, then the hostname.
func (c *Config) ResolveAgent(flagValue string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.AgentName); v != "" {
		return v
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "anonymous"
	}
	return host
}
