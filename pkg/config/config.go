package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the server settings, read from loanbook.yaml and the
// LOANBOOK_* environment.
type Config struct {
	Listen string `mapstructure:"listen"`
	DB     struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`
}

// Load reads configuration from the given directory (and the working
// directory). A missing config file is fine; defaults and environment
// variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen", ":8080")
	v.SetDefault("db.path", "loanbook.db")

	v.SetConfigName("loanbook")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if path != "" {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("LOANBOOK")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
