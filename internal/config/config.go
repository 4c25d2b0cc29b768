// Package config loads the YAML configuration of the dmmctl command.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Meters  []MeterConfig `yaml:"meters"`
}

// ---- LOG ----

type LogConfig struct {
	Level     string `yaml:"level"`
	AddSource bool   `yaml:"add_source"`
}

// ---- METRICS ----

type MetricsConfig struct {
	// Listen is the address of the Prometheus endpoint; empty disables it.
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// ---- METER ----

// MeterConfig describes one meter session. Pointer fields distinguish
// "not set" from the zero value so library defaults apply.
type MeterConfig struct {
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
	Backend string `yaml:"backend"`

	PollIntervalMs int  `yaml:"poll_interval_ms"`
	Debug          bool `yaml:"debug"`

	LockRemote    *bool    `yaml:"lock_remote"`
	Beeper        *bool    `yaml:"beeper"`
	ContThreshold *uint32  `yaml:"cont_threshold"`
	DiodThreshold *float32 `yaml:"diod_threshold"`
	Rate          string   `yaml:"rate"`
	Mode          string   `yaml:"mode"`

	CloseTimeoutMs int `yaml:"close_timeout_ms"`
	ReplyTimeoutMs int `yaml:"reply_timeout_ms"`
}

// Load reads and decodes the file at path. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// Parse decodes a YAML document.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return cfg, nil
}
