// Package config loads pairctl's YAML configuration: which accessory
// to pair with, which transport to speak, and where to persist the
// resulting credentials.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Transport names one of the carrier façades pairctl can drive.
type Transport string

const (
	TransportAirPlay   Transport = "airplay"
	TransportMRP       Transport = "mrp"
	TransportCompanion Transport = "companion"
)

// Config is pairctl's top-level YAML document.
type Config struct {
	Address        string    `yaml:"address"`
	Transport      Transport `yaml:"transport"`
	DeviceID       string    `yaml:"device_id"`
	StorePath      string    `yaml:"store_path"`
	DisplayName    string    `yaml:"display_name"`
	RequestTimeout string    `yaml:"request_timeout"`
}

// Load reads and validates the config at path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects a config missing the fields every transport needs.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("config.address is required")
	}
	switch c.Transport {
	case TransportAirPlay, TransportMRP, TransportCompanion:
	default:
		return fmt.Errorf("config.transport must be one of airplay, mrp, companion, got %q", c.Transport)
	}
	if strings.TrimSpace(c.DeviceID) == "" {
		return fmt.Errorf("config.device_id is required")
	}
	if strings.TrimSpace(c.StorePath) == "" {
		return fmt.Errorf("config.store_path is required")
	}
	return nil
}
