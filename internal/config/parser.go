package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format represents the file format of a config file.
type Format int

const (
	FormatUnknown Format = iota
	FormatYAML
	FormatTOML
	FormatJSON
)

// detectFormat determines the file format based on extension or content.
func detectFormat(path string, content []byte) Format {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	}

	// Content sniffing for extensionless files
	return sniffFormat(content)
}

// sniffFormat attempts to detect format from content.
func sniffFormat(content []byte) Format {
	trimmed := strings.TrimSpace(string(content))

	if strings.HasPrefix(trimmed, "{") {
		return FormatJSON
	}

	// TOML uses key = value and [tables], YAML uses key: value
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			return FormatTOML
		}
		eq := strings.Index(line, "=")
		colon := strings.Index(line, ":")
		switch {
		case eq >= 0 && (colon < 0 || eq < colon):
			return FormatTOML
		case colon >= 0:
			return FormatYAML
		}
	}

	return FormatUnknown
}

// rawConfig is an intermediate representation for parsing.
// Durations are strings like "1500ms" in every format.
type rawConfig struct {
	ServerURL           string  `yaml:"server_url" toml:"server_url" json:"server_url"`
	DeploymentKey       string  `yaml:"deployment_key" toml:"deployment_key" json:"deployment_key"`
	AppVersion          string  `yaml:"app_version" toml:"app_version" json:"app_version"`
	StorageDir          string  `yaml:"storage_dir" toml:"storage_dir" json:"storage_dir"`
	CheckTimeout        string  `yaml:"check_timeout" toml:"check_timeout" json:"check_timeout"`
	InstallTimeout      string  `yaml:"install_timeout" toml:"install_timeout" json:"install_timeout"`
	UnknownDevicePolicy string  `yaml:"unknown_device_policy" toml:"unknown_device_policy" json:"unknown_device_policy"`
	Logging             Logging `yaml:"logging" toml:"logging" json:"logging"`
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns in content.
func expandEnvVars(content []byte) []byte {
	return envVarPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		parts := envVarPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		value := os.Getenv(string(parts[1]))
		if value == "" && len(parts) >= 3 && len(parts[2]) > 0 {
			value = string(parts[2])
		}

		return []byte(value)
	})
}

// parseDuration parses an optional duration field.
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", s)}
	}
	return d, nil
}

// parse parses the content according to the specified format.
func parse(content []byte, format Format) (*Config, error) {
	content = expandEnvVars(content)

	var raw rawConfig

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("YAML parse error: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("TOML parse error: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("JSON parse error: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown file format")
	}

	checkTimeout, err := parseDuration("check_timeout", raw.CheckTimeout)
	if err != nil {
		return nil, err
	}
	installTimeout, err := parseDuration("install_timeout", raw.InstallTimeout)
	if err != nil {
		return nil, err
	}

	return &Config{
		ServerURL:           raw.ServerURL,
		DeploymentKey:       raw.DeploymentKey,
		AppVersion:          raw.AppVersion,
		StorageDir:          raw.StorageDir,
		CheckTimeout:        checkTimeout,
		InstallTimeout:      installTimeout,
		UnknownDevicePolicy: raw.UnknownDevicePolicy,
		Logging:             raw.Logging,
	}, nil
}
