package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements Provider for YAML configuration files
type YAMLProvider struct {
	filename string
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{filename: filename}
}

// LoadConfig loads the complete configuration from the YAML file. Sections
// absent from the file keep their defaults.
func (y *YAMLProvider) LoadConfig() (*Config, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	config := Default()
	if err := yaml.Unmarshal(cfgFile, config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", y.filename, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", y.filename, err)
	}
	return config, nil
}

// IsReadOnly returns true; YAML configuration is never written back.
func (y *YAMLProvider) IsReadOnly() bool { return true }

// Close is a no-op for YAML providers.
func (y *YAMLProvider) Close() error { return nil }
