// Package config provides configuration management for the livepackager
// CLI using Viper. The packaging core itself takes no configuration from
// files or the environment; this package only serves the host binary.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for the livepackager binary.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// SetDefaults registers default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")
}

// Load unmarshals the configuration from the given viper instance.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}
