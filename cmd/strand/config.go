package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all strand server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath    string `json:"db_path"`
	LogLevel  string `json:"log_level"`
	PoolSize  int    `json:"pool_size"`
	AgentURL  string `json:"agent_url"`
	Scheduler bool   `json:"scheduler"`
}

func defaultConfig() Config {
	return Config{
		DBPath:    filepath.Join(strandDir(), "strand.db"),
		LogLevel:  "info",
		PoolSize:  10,
		Scheduler: true,
	}
}

func strandDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".strand"
	}
	return filepath.Join(home, ".strand")
}

func settingsPath() string {
	return filepath.Join(strandDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("STRAND_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("STRAND_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STRAND_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("STRAND_AGENT_URL"); v != "" {
		cfg.AgentURL = v
	}
	if v := os.Getenv("STRAND_SCHEDULER"); v != "" {
		cfg.Scheduler = v == "true" || v == "1"
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
