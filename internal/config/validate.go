package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/adamancini/otaup/internal/device"
	"github.com/adamancini/otaup/internal/logging"
	"github.com/adamancini/otaup/internal/update"
)

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the config for required fields and valid values.
// All problems are reported together.
func Validate(c *Config) error {
	var errors []string

	add := func(field, msg string) {
		errors = append(errors, ValidationError{Field: field, Message: msg}.Error())
	}

	if c.ServerURL == "" {
		add("server_url", "server_url is required")
	} else if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("server_url", fmt.Sprintf("invalid URL '%s' (must be http or https)", c.ServerURL))
	}

	if c.DeploymentKey == "" {
		add("deployment_key", "deployment_key is required")
	}

	if c.AppVersion == "" {
		add("app_version", "app_version is required")
	} else if _, err := update.ParseVersion(c.AppVersion); err != nil {
		add("app_version", err.Error())
	}

	if c.CheckTimeout < 0 {
		add("check_timeout", "must not be negative")
	}
	if c.InstallTimeout < 0 {
		add("install_timeout", "must not be negative")
	}

	if _, err := device.ParsePolicy(c.UnknownDevicePolicy); err != nil {
		add("unknown_device_policy", "must be one of: proceed, skip")
	}

	switch c.Logging.Format {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		add("logging.format", "must be one of: console, json")
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
