// Package config contains everything related to configuration
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DataDir              string
	AccountsPath         string
	DatabasePath         string
	UsageURL             string
	OAuthTokenURL        string
	OAuthClientID        string
	CodexCLIPath         string
	QuotaRefreshInterval time.Duration
	WakeupCooldown       time.Duration
}

// Default values
const (
	defaultUsageURL             = "https://chatgpt.com/backend-api/wham/usage"
	defaultOAuthTokenURL        = "https://auth.openai.com/oauth/token"
	defaultOAuthClientID        = "app_EMoamEEZ73f0CkXaXp7hrann"
	defaultQuotaRefreshInterval = 5 * time.Minute
	defaultWakeupCooldown       = 8 * time.Second
)

// Load reads configuration from .env files and environment variables.
func Load() (*Config, error) {
	// Try loading .env from multiple locations
	envPaths := getEnvPaths()
	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			break
		}
	}

	dataDir := getEnvString("CODEX_COCKPIT_DATA_DIR", getDefaultDataDir())

	cfg := &Config{
		DataDir:              dataDir,
		AccountsPath:         getEnvString("ACCOUNTS_PATH", filepath.Join(dataDir, "codex-accounts.json")),
		DatabasePath:         getEnvString("DATABASE_PATH", filepath.Join(dataDir, "usage.db")),
		UsageURL:             getEnvString("CODEX_USAGE_URL", defaultUsageURL),
		OAuthTokenURL:        getEnvString("CODEX_OAUTH_TOKEN_URL", defaultOAuthTokenURL),
		OAuthClientID:        getEnvString("CODEX_OAUTH_CLIENT_ID", defaultOAuthClientID),
		CodexCLIPath:         getEnvString("CODEX_CLI_PATH", ""),
		QuotaRefreshInterval: getEnvDuration("QUOTA_REFRESH_INTERVAL", defaultQuotaRefreshInterval),
		WakeupCooldown:       getEnvDuration("WAKEUP_COOLDOWN", defaultWakeupCooldown),
	}

	// Ensure data directory exists
	if err := ensureDir(cfg.DataDir); err != nil {
		return nil, err
	}

	// Ensure database directory exists
	if err := ensureDir(filepath.Dir(cfg.DatabasePath)); err != nil {
		return nil, err
	}

	// Ensure accounts directory exists
	if err := ensureDir(filepath.Dir(cfg.AccountsPath)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// getEnvPaths returns a list of paths to check for .env files.
func getEnvPaths() []string {
	var paths []string

	// Current directory
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}

	// Home directory locations
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "codex-cockpit", ".env"),
			filepath.Join(home, ".codex-cockpit", ".env"),
		)
	}

	return paths
}

// getDefaultDataDir returns the default writable base path for application data.
func getDefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "codex-cockpit")
}

// getEnvString retrieves a string environment variable or returns the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns the default.
// Accepts Go duration strings ("30s") or plain seconds ("30").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}

	return defaultValue
}

// ensureDir creates a directory if it does not exist.
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
