// Package config loads client configuration from flags, environment, and
// an optional YAML file, in that precedence order.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is everything the client reads at startup.
type Config struct {
	ServerURL string `mapstructure:"server"`
	Username  string `mapstructure:"username"`
	StateDB   string `mapstructure:"state-db"`
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
	LogFile   string `mapstructure:"log-file"`
}

// Dir returns the client's config directory, creating it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}
	dir := filepath.Join(home, ".gigachat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errors.Wrap(err, "create config directory")
	}
	return dir, nil
}

// RegisterFlags declares the configuration flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("server", "", "GigaChat server URL")
	fs.String("username", "", "account username")
	fs.String("state-db", "", "path to the local state database")
	fs.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	fs.String("log-format", "text", "log format (text, json)")
	fs.String("log-file", "", "log destination; empty logs to stderr")
}

// Load resolves the configuration: flag values override GIGACHAT_*
// environment variables, which override the config file. A missing config
// file is not an error.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GIGACHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, errors.Wrap(err, "bind flags")
		}
	}

	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "parse configuration")
	}
	if cfg.StateDB == "" {
		cfg.StateDB = filepath.Join(dir, "state.db")
	}
	return &cfg, nil
}
