// Package config loads fieldscope settings from file, environment and
// defaults, in that order of increasing precedence for env over file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".fieldscope"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for fieldscope settings.
const envPrefix = "FIELDSCOPE"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Defaults applied before file and environment are read.
const (
	DefaultMaxRecordSize = "64MiB"
	DefaultMaxBlockSize  = "256MiB"
	DefaultMaxFileSize   = "1GiB"
	DefaultDebounce      = 250 * time.Millisecond
	DefaultPollInterval  = 2 * time.Second
	DefaultDiagAddr      = "127.0.0.1:9090"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("decode.workers", 0)
	viperCfg.SetDefault("decode.queue_depth", 0)
	viperCfg.SetDefault("decode.max_record_size", DefaultMaxRecordSize)
	viperCfg.SetDefault("decode.max_block_size", DefaultMaxBlockSize)

	viperCfg.SetDefault("input.max_file_size", DefaultMaxFileSize)

	viperCfg.SetDefault("watch.debounce", DefaultDebounce)
	viperCfg.SetDefault("watch.poll_interval", DefaultPollInterval)
	viperCfg.SetDefault("watch.force_poll", false)

	viperCfg.SetDefault("diagnostics.addr", DefaultDiagAddr)

	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.sample_ratio", 0.0)
	viperCfg.SetDefault("observability.insecure", false)
	viperCfg.SetDefault("observability.headers", "")

	viperCfg.SetDefault("log.level", DefaultLogLevel)
	viperCfg.SetDefault("log.format", DefaultLogFormat)
}
