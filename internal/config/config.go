// Package config loads the keywarden.yaml runtime configuration.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	kwerrors "github.com/systmms/keywarden/internal/errors"
	"github.com/systmms/keywarden/internal/logging"
	"github.com/systmms/keywarden/pkg/deliver"
	"github.com/systmms/keywarden/pkg/provision"
)

// Config holds the runtime configuration
type Config struct {
	Path           string
	Logger         *logging.Logger
	NonInteractive bool
	Definition     *Definition
}

// Definition represents the keywarden.yaml structure
type Definition struct {
	Version int `yaml:"version"`

	// Warehouse is the provisioning target.
	Warehouse provision.ConnectionConfig `yaml:"warehouse"`

	// DataDir roots the local account registry. Defaults to
	// ~/.keywarden.
	DataDir string `yaml:"data_dir,omitempty"`

	Defaults Defaults `yaml:"defaults,omitempty"`

	// Delivery configures optional cloud sinks for issued private
	// keys. Absent sinks mean ZIP-only delivery.
	Delivery DeliveryConfig `yaml:"delivery,omitempty"`
}

// Defaults are applied when a request leaves the field zero.
type Defaults struct {
	KeySize      int `yaml:"key_size,omitempty"`
	ValidityDays int `yaml:"validity_days,omitempty"`
}

// DeliveryConfig selects where issued private keys go.
type DeliveryConfig struct {
	AWS   *deliver.AWSSinkConfig   `yaml:"aws_secrets_manager,omitempty"`
	GCP   *deliver.GCPSinkConfig   `yaml:"gcp_secret_manager,omitempty"`
	Azure *deliver.AzureSinkConfig `yaml:"azure_key_vault,omitempty"`
}

// Load reads and parses the keywarden.yaml file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return kwerrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Run 'keywarden init' to create a new configuration file",
			}
		}
		return kwerrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return kwerrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}

	if def.Version != 0 {
		return kwerrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your keywarden.yaml file",
		}
	}

	if def.Warehouse.Type == "" {
		return kwerrors.ConfigError{
			Field:      "warehouse.type",
			Message:    "warehouse type is required",
			Suggestion: "Set warehouse.type to snowflake, postgres, or mysql",
		}
	}

	c.Definition = &def
	return nil
}

// DataDir returns the registry root, falling back to ~/.keywarden.
func (c *Config) DataDir() string {
	if c.Definition != nil && c.Definition.DataDir != "" {
		return c.Definition.DataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keywarden"
	}
	return filepath.Join(home, ".keywarden")
}

// DefaultKeySize returns the configured key size, or 0 when the
// issuance default applies.
func (c *Config) DefaultKeySize() int {
	if c.Definition == nil {
		return 0
	}
	return c.Definition.Defaults.KeySize
}

// DefaultValidityDays returns the configured validity, or 0 when the
// issuance default applies.
func (c *Config) DefaultValidityDays() int {
	if c.Definition == nil {
		return 0
	}
	return c.Definition.Defaults.ValidityDays
}
