package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	assert.Contains(t, cfg.DBPath, "strand.db")
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.True(t, cfg.Scheduler)
	assert.Empty(t, cfg.AgentURL)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("STRAND_DB_PATH", "/tmp/custom.db")
	t.Setenv("STRAND_LOG_LEVEL", "debug")
	t.Setenv("STRAND_POOL_SIZE", "3")
	t.Setenv("STRAND_AGENT_URL", "http://localhost:9999/agent")
	t.Setenv("STRAND_SCHEDULER", "false")

	cfg := loadConfig()

	assert.Equal(t, "/tmp/custom.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.PoolSize)
	assert.Equal(t, "http://localhost:9999/agent", cfg.AgentURL)
	assert.False(t, cfg.Scheduler)
}

func TestLoadConfigBadPoolSizeIgnored(t *testing.T) {
	t.Setenv("STRAND_POOL_SIZE", "lots")

	cfg := loadConfig()
	assert.Equal(t, 10, cfg.PoolSize)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}
