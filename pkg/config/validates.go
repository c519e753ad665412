package config

import "fmt"

func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigIsNil
	}
	if err := c.Node.Validate(); err != nil {
		return err
	}
	if err := c.Document.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *NodeConfig) Validate() error {
	return nil
}

func (c *DocumentConfig) Validate() error {
	if c.Schema == "" {
		return ErrMissingSchema
	}

	if len(c.LensFiles) == 0 {
		return ErrMissingLensFiles
	}

	return nil
}

func (c *StorageConfig) Validate() error {
	if c.Shards <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidShards, c.Shards)
	}
	return nil
}

func (c *LoggingConfig) Validate() error {
	if !knownLevels.Contains(c.Level) {
		return fmt.Errorf("%w: %q", ErrUnknownLogLevel, c.Level)
	}

	if !knownFormats.Contains(c.Format) {
		return fmt.Errorf("%w: %q", ErrUnknownLogFormat, c.Format)
	}

	return nil
}

func (c *MetricsConfig) Validate() error {
	if c.Enabled && c.Namespace == "" {
		return ErrMissingNamespace
	}
	return nil
}
