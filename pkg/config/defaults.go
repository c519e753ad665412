package config

import (
	"lensmerge/pkg/structs"

	"github.com/google/uuid"
)

var knownLevels = structs.NewSet("debug", "info", "warn", "error")
var knownFormats = structs.NewSet("json", "text")

var defaultDocument = DocumentConfig{
	ID: "default",
}

var defaultStorage = StorageConfig{
	Shards: 64,
}

var defaultLogging = LoggingConfig{
	Level:  "info",
	Format: "json",
}

var defaultMetrics = MetricsConfig{
	Enabled:   false,
	Namespace: "lensmerge",
}

func Default() *Config {
	return &Config{
		Node:     NodeConfig{ID: uuid.New().String()},
		Document: defaultDocument,
		Storage:  defaultStorage,
		Logging:  defaultLogging,
		Metrics:  defaultMetrics,
	}
}

func (c *NodeConfig) PopulateDefaults() {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
}

func (c *DocumentConfig) PopulateDefaults() {
	if c.ID == "" {
		c.ID = defaultDocument.ID
	}
}

func (c *StorageConfig) PopulateDefaults() {
	if c.Shards == 0 {
		c.Shards = defaultStorage.Shards
	}
}

func (c *LoggingConfig) PopulateDefaults() {
	if c.Level == "" {
		c.Level = defaultLogging.Level
	}

	if c.Format == "" {
		c.Format = defaultLogging.Format
	}
}

func (c *MetricsConfig) PopulateDefaults() {
	if !c.Enabled {
		return
	}

	if c.Namespace == "" {
		c.Namespace = defaultMetrics.Namespace
	}
}

func (c *Config) PopulateDefaults() {
	c.Node.PopulateDefaults()
	c.Document.PopulateDefaults()
	c.Storage.PopulateDefaults()
	c.Logging.PopulateDefaults()
	c.Metrics.PopulateDefaults()
}
