// Package config holds the fully specified configuration for agent-memgit.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath    string          `yaml:"db_path" env:"AGENT_MEMGIT_DB"`
	Memory    MemoryConfig    `yaml:"memory"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Log       LogConfig       `yaml:"log"`
}

type MemoryConfig struct {
	DefaultBranch    string `yaml:"default_branch" env:"AGENT_MEMGIT_DEFAULT_BRANCH"`
	DefaultPersona   string `yaml:"default_persona"`
	MaxContentSize   int    `yaml:"max_content_size" env:"AGENT_MEMGIT_MAX_CONTENT_SIZE"`
	MaxContextItems  int    `yaml:"max_context_items"`
	HistoryLimit     int    `yaml:"history_limit"`
	EventCacheSize   int    `yaml:"event_cache_size"`
	CommitRetries    int    `yaml:"commit_retries"`
	PersistViewCache bool   `yaml:"persist_view_cache" env:"AGENT_MEMGIT_PERSIST_VIEW_CACHE"`
}

type LifecycleConfig struct {
	ClassifyWithOracle    bool    `yaml:"classify_with_oracle" env:"AGENT_MEMGIT_CLASSIFY"`
	MaxFacts              int     `yaml:"max_facts"`
	DefaultConfidence     float64 `yaml:"default_confidence"`
	CommitMessageMaxLen   int     `yaml:"commit_message_max_len"`
	FallbackCommitMessage string  `yaml:"fallback_commit_message"`
	EvidenceMaxLen        int     `yaml:"evidence_max_len"`
	ConversationMaxChars  int     `yaml:"conversation_max_chars"`
}

type OracleConfig struct {
	Provider    string        `yaml:"provider" env:"AGENT_MEMGIT_ORACLE_PROVIDER"`
	APIKey      string        `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model       string        `yaml:"model" env:"AGENT_MEMGIT_MODEL"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"AGENT_MEMGIT_LOG_LEVEL"`
	Format string `yaml:"format" env:"AGENT_MEMGIT_LOG_FORMAT"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DBPath: filepath.Join(home, ".agent-memgit", "memory.db"),
		Memory: MemoryConfig{
			DefaultBranch:    "main",
			DefaultPersona:   "default",
			MaxContentSize:   8192,
			MaxContextItems:  50,
			HistoryLimit:     50,
			EventCacheSize:   1024,
			CommitRetries:    3,
			PersistViewCache: true,
		},
		Lifecycle: LifecycleConfig{
			ClassifyWithOracle:    true,
			MaxFacts:              5,
			DefaultConfidence:     0.8,
			CommitMessageMaxLen:   72,
			FallbackCommitMessage: "Update memories",
			EvidenceMaxLen:        500,
			ConversationMaxChars:  2000,
		},
		Oracle: OracleConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			MaxTokens:   1024,
			Timeout:     60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agent-memgit", "config.yaml")
}

// Load reads a YAML file over the defaults, applies environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.DBPath = expandHome(cfg.DBPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration once, at construction.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.DBPath != "", "db_path is required")
	check(strings.TrimSpace(c.Memory.DefaultBranch) != "", "memory.default_branch is required")
	check(c.Memory.MaxContentSize > 0, "memory.max_content_size must be positive, got %d", c.Memory.MaxContentSize)
	check(c.Memory.MaxContextItems > 0, "memory.max_context_items must be positive, got %d", c.Memory.MaxContextItems)
	check(c.Memory.HistoryLimit > 0, "memory.history_limit must be positive, got %d", c.Memory.HistoryLimit)
	check(c.Memory.EventCacheSize > 0, "memory.event_cache_size must be positive, got %d", c.Memory.EventCacheSize)
	check(c.Memory.CommitRetries > 0, "memory.commit_retries must be positive, got %d", c.Memory.CommitRetries)

	check(c.Lifecycle.MaxFacts > 0, "lifecycle.max_facts must be positive, got %d", c.Lifecycle.MaxFacts)
	check(c.Lifecycle.DefaultConfidence >= 0 && c.Lifecycle.DefaultConfidence <= 1,
		"lifecycle.default_confidence must be in [0,1], got %v", c.Lifecycle.DefaultConfidence)
	check(c.Lifecycle.CommitMessageMaxLen > 0, "lifecycle.commit_message_max_len must be positive")
	check(c.Lifecycle.FallbackCommitMessage != "", "lifecycle.fallback_commit_message is required")
	check(len(c.Lifecycle.FallbackCommitMessage) <= c.Lifecycle.CommitMessageMaxLen,
		"lifecycle.fallback_commit_message exceeds commit_message_max_len")
	check(c.Lifecycle.EvidenceMaxLen >= 0, "lifecycle.evidence_max_len must not be negative")
	check(c.Lifecycle.ConversationMaxChars > 0, "lifecycle.conversation_max_chars must be positive")

	check(c.Oracle.Provider == "openai" || c.Oracle.Provider == "none",
		"oracle.provider must be openai or none, got %q", c.Oracle.Provider)
	check(c.Oracle.Temperature >= 0 && c.Oracle.Temperature <= 2,
		"oracle.temperature must be in [0,2], got %v", c.Oracle.Temperature)
	check(c.Oracle.MaxTokens > 0, "oracle.max_tokens must be positive")
	check(c.Oracle.Timeout > 0, "oracle.timeout must be positive")

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	check(c.Log.Format == "console" || c.Log.Format == "json",
		"log.format must be console or json, got %q", c.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
