// Package config loads the liboverride configuration from a config file
// and LIBOVERRIDE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/brunoga/override"
	"github.com/brunoga/override/internal/logger"
)

const envPrefix = "LIBOVERRIDE"

type Config struct {
	Log       LogConfig     `mapstructure:"log"`
	Store     StoreConfig   `mapstructure:"store"`
	Libraries []string      `mapstructure:"libraries" validate:"dive,required"`
	Resync    ResyncConfig  `mapstructure:"resync"`
	Metrics   MetricsConfig `mapstructure:"metrics"`
	// Debug turns unsupported override operations into panics.
	Debug bool `mapstructure:"debug"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn error disabled"`
	Pretty     bool   `mapstructure:"pretty"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
	Compress   bool   `mapstructure:"compress"`
}

type StoreConfig struct {
	Path       string `mapstructure:"path" validate:"required_without=InMemory"`
	InMemory   bool   `mapstructure:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

type ResyncConfig struct {
	// ResidualName names the collection gathering overrides left over by
	// resyncs.
	ResidualName string `mapstructure:"residual_name" validate:"required"`
	// LevelWarning reports libraries used indirectly deeper than this.
	LevelWarning int `mapstructure:"level_warning" validate:"min=1,max=100"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address" validate:"required_if=Enabled true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("store.path", ".liboverride")
	v.SetDefault("store.sync_writes", true)
	v.SetDefault("resync.residual_name", override.DefaultResidualName)
	v.SetDefault("resync.level_warning", 10)
	v.SetDefault("metrics.address", ":9464")
}

// Load reads the configuration. An explicit file must exist; otherwise a
// liboverride.{yaml,toml} in the working directory is used when present.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("liboverride")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Logger returns the logger configuration matching c.
func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		Pretty:     c.Log.Pretty,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}
