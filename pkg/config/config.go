package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Node     NodeConfig     `yaml:"node"`
	Document DocumentConfig `yaml:"document"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// NodeConfig identifies this replica. ID is the actor id of local changes.
type NodeConfig struct {
	ID string `yaml:"id"`
}

type DocumentConfig struct {
	ID        string   `yaml:"id"`
	Schema    string   `yaml:"schema"`
	LensFiles []string `yaml:"lens_files"`
	// Blocks is a JSON file holding a list of history blocks to apply.
	Blocks string `yaml:"blocks"`
}

type StorageConfig struct {
	Shards int `yaml:"shards"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	// Output is the file the metrics are written to; empty means stderr.
	Output string `yaml:"output"`
}

func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return &cfg, nil
}

// Load reads the file at path, fills in defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
