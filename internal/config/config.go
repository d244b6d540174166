package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// Brokers are the Kafka bootstrap addresses.
	Brokers []string `json:"brokers" yaml:"brokers"`
	// Group is the consumer group the engine joins.
	Group string `json:"group" yaml:"group"`
	// ApplicationID scopes the snapshot keyspace.
	ApplicationID string `json:"applicationId" yaml:"applicationId"`
	// Topics to consume.
	Topics []string `json:"topics" yaml:"topics"`

	// DataDir holds the local snapshot store. Empty selects an OS default.
	DataDir string `json:"dataDir" yaml:"dataDir"`
	// Fsync: always|interval|never.
	Fsync string `json:"fsync" yaml:"fsync"`

	// StatusAddr is the status HTTP listen address. Empty disables it.
	StatusAddr string `json:"statusAddr" yaml:"statusAddr"`

	Log LogConfig `json:"log" yaml:"log"`
}

// LogConfig selects logger level and format.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Brokers:       []string{"127.0.0.1:9092"},
		Group:         "kafka-flow",
		ApplicationID: "kafka-flow",
		Fsync:         "always",
		StatusAddr:    ":8080",
		Log:           LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON or YAML file by extension. An empty
// path returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Validate checks the fields the engine cannot default.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("config: brokers are required")
	}
	if c.Group == "" {
		return errors.New("config: group is required")
	}
	if len(c.Topics) == 0 {
		return errors.New("config: at least one topic is required")
	}
	return nil
}
