// Package config handles otaup config file parsing and location resolution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Defaults applied when a field is omitted.
const (
	DefaultCheckTimeout   = 2 * time.Second
	DefaultInstallTimeout = 5 * time.Second
	DefaultStorageDirName = "otaup"
)

// Config is the parsed configuration file.
type Config struct {
	ServerURL           string        `yaml:"server_url" toml:"server_url" json:"server_url"`
	DeploymentKey       string        `yaml:"deployment_key" toml:"deployment_key" json:"deployment_key"`
	AppVersion          string        `yaml:"app_version" toml:"app_version" json:"app_version"`
	StorageDir          string        `yaml:"storage_dir" toml:"storage_dir" json:"storage_dir"`
	CheckTimeout        time.Duration `yaml:"check_timeout" toml:"check_timeout" json:"check_timeout"`
	InstallTimeout      time.Duration `yaml:"install_timeout" toml:"install_timeout" json:"install_timeout"`
	UnknownDevicePolicy string        `yaml:"unknown_device_policy" toml:"unknown_device_policy" json:"unknown_device_policy"`
	Logging             Logging       `yaml:"logging" toml:"logging" json:"logging"`
}

// Logging configures diagnostic output. It never affects update behavior.
type Logging struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Level   string `yaml:"level,omitempty" toml:"level,omitempty" json:"level,omitempty"`
	Format  string `yaml:"format,omitempty" toml:"format,omitempty" json:"format,omitempty"`
}

// fileNames are the config file names looked up in each search directory.
var fileNames = []string{
	"otaup.yaml",
	"otaup.yml",
	"otaup.toml",
	"otaup.json",
	".otaup.yaml",
	".otaup.yml",
	".otaup.toml",
	".otaup.json",
}

// Find searches for a config file in the standard locations.
// Returns the path to the first file found, or an error if none exists.
func Find(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("specified config not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	if envPath := os.Getenv("OTAUP_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}

	searchPaths := []string{
		filepath.Join(xdgConfig, "otaup"),
		filepath.Join(home, ".otaup"),
		home,
	}

	for _, dir := range searchPaths {
		for _, name := range fileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("no otaup config found in standard locations")
}

// Load reads, parses and validates a config file, then fills in defaults.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	format := detectFormat(path, content)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unable to detect file format for %s", path)
	}

	cfg, err := parse(content, format)
	if err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills omitted fields.
func (c *Config) applyDefaults() error {
	if c.CheckTimeout == 0 {
		c.CheckTimeout = DefaultCheckTimeout
	}
	if c.InstallTimeout == 0 {
		c.InstallTimeout = DefaultInstallTimeout
	}
	if c.StorageDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("failed to determine cache directory: %w", err)
		}
		c.StorageDir = filepath.Join(cacheDir, DefaultStorageDirName)
	}
	return nil
}
