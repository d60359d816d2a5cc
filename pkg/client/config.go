package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the client settings read from arenaclient.yaml in the data
// directory.
type Config struct {
	// ServerURL is the base http(s) URL of the arena server.
	ServerURL string `yaml:"serverURL"`
	AccountID int64  `yaml:"accountID"`

	LogFile    string `yaml:"logFile"`
	DebugLevel string `yaml:"debugLevel"`
}

// ConfigOverrides carries optional CLI overrides for config values.
type ConfigOverrides struct {
	ServerURL  string
	AccountID  int64
	DebugLevel string
}

// AppDataDir returns the default data directory for appName.
func AppDataDir(appName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(home, "."+strings.ToLower(appName))
}

// LoadConfig loads <datadir>/<appName>.yaml if it exists and applies ov.
func LoadConfig(appName, datadir string, ov ConfigOverrides) (*Config, error) {
	if datadir == "" {
		datadir = AppDataDir(appName)
	}
	cfg := &Config{
		ServerURL:  "http://127.0.0.1:8080",
		LogFile:    filepath.Join(datadir, "logs", appName+".log"),
		DebugLevel: "info",
	}

	b, err := os.ReadFile(filepath.Join(datadir, appName+".yaml"))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("load config: %w", err)
	default:
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if ov.ServerURL != "" {
		cfg.ServerURL = ov.ServerURL
	}
	if ov.AccountID != 0 {
		cfg.AccountID = ov.AccountID
	}
	if ov.DebugLevel != "" {
		cfg.DebugLevel = ov.DebugLevel
	}

	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")
	if cfg.AccountID <= 0 {
		return nil, errors.New("accountID is required")
	}
	return cfg, nil
}
