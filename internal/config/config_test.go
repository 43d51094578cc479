package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "main", cfg.Memory.DefaultBranch)
	assert.Equal(t, 8192, cfg.Memory.MaxContentSize)
	assert.Equal(t, "Update memories", cfg.Lifecycle.FallbackCommitMessage)
	assert.Equal(t, 60*time.Second, cfg.Oracle.Timeout)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Memory, cfg.Memory)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
db_path: /tmp/from-file.db
memory:
  default_branch: trunk
  commit_retries: 5
lifecycle:
  classify_with_oracle: false
oracle:
  model: gpt-4.1-mini
  timeout: 5s
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	t.Setenv("AGENT_MEMGIT_DB", "/tmp/from-env.db")
	t.Setenv("AGENT_MEMGIT_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.db", cfg.DBPath, "env wins over file")
	assert.Equal(t, "trunk", cfg.Memory.DefaultBranch)
	assert.Equal(t, 5, cfg.Memory.CommitRetries)
	assert.Equal(t, 8192, cfg.Memory.MaxContentSize, "unset fields keep defaults")
	assert.False(t, cfg.Lifecycle.ClassifyWithOracle)
	assert.Equal(t, "gpt-4.1-mini", cfg.Oracle.Model)
	assert.Equal(t, 5*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lifecycle:\n  default_confidence: 1.5\nlog:\n  level: loud\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_confidence")
	assert.Contains(t, err.Error(), "log.level")
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory: [oops"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x.db"), expandHome("~/x.db"))
	assert.Equal(t, "/abs/x.db", expandHome("/abs/x.db"))
}
