package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "localhost:6379", cfg.EventLog.Addr)
	assert.Equal(t, "workflow-events", cfg.EventLog.Topic)
	assert.Equal(t, "main-worker", cfg.EventLog.ConsumerGroup)
	assert.Equal(t, 10, cfg.Publisher.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Publisher.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Executor.HandlerTimeout)
	assert.Equal(t, "continue", cfg.Executor.FailurePolicy)
	assert.Equal(t, 3, cfg.Executor.MaxAttempts)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
log:
  level: debug
eventlog:
  topic: custom-topic
executor:
  failure_policy: deadletter
  stage_delay: 50ms
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "custom-topic", cfg.EventLog.Topic)
	assert.Equal(t, "deadletter", cfg.Executor.FailurePolicy)
	assert.Equal(t, 50*time.Millisecond, cfg.Executor.StageDelay)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10, cfg.Executor.FetchBatch)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("FLOWPIPE_EVENTLOG_ADDR", "redis:6379")
	t.Setenv("FLOWPIPE_EXECUTOR_MAX_ATTEMPTS", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redis:6379", cfg.EventLog.Addr)
	assert.Equal(t, 5, cfg.Executor.MaxAttempts)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
