// Package config loads Kindred configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database  DatabaseConfig
	Spool     SpoolConfig
	Sync      SyncConfig
	Dashboard DashboardConfig
	Log       LogConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// SpoolConfig holds the remote-change spool settings.
type SpoolConfig struct {
	Dir string
}

// SyncConfig holds sync engine settings.
type SyncConfig struct {
	Interval    time.Duration
	MaxAttempts int `mapstructure:"max_attempts"`
}

// DashboardConfig holds the WebSocket dashboard settings.
type DashboardConfig struct {
	Enabled bool
	Port    int
}

// LogConfig holds daemon log rotation settings.
type LogConfig struct {
	File       string
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
}

// Load reads configuration from file and env.
// Env var overrides use prefix KINDRED_.
func Load() (Config, error) {
	v := viper.New()

	dataDir := filepath.Join(os.Getenv("HOME"), ".local", "share", "kindred")

	// default values
	v.SetDefault("database.path", filepath.Join(dataDir, "kindred.db"))
	v.SetDefault("spool.dir", filepath.Join(dataDir, "spool"))
	v.SetDefault("sync.interval", time.Minute)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8420)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("KINDRED_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "kindred"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("KINDRED")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
