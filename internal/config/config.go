// Package config loads the service configuration with viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/pvp-ml/inference-server/internal/processor"
)

// Config holds all configuration for the service
type Config struct {
	// TCP inference server
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	ModelsDir string `mapstructure:"models_dir"`

	// Worker pool
	PoolSize  int    `mapstructure:"pool_size"`
	Processor string `mapstructure:"processor"`
	Device    string `mapstructure:"device"`

	// Observability
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Optional Redis telemetry sink; empty disables it
	Redis string `mapstructure:"redis"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 9999)
	v.SetDefault("models_dir", "models")
	v.SetDefault("pool_size", 1)
	v.SetDefault("processor", "thread")
	v.SetDefault("device", "cpu")
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("redis", "")
}

func setupEnv(v *viper.Viper) {
	v.SetEnvPrefix("PVP_INFERENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("host", "PVP_INFERENCE_HOST")
	v.BindEnv("port", "PVP_INFERENCE_PORT")
	v.BindEnv("models_dir", "PVP_INFERENCE_MODELS_DIR")
	v.BindEnv("pool_size", "PVP_INFERENCE_POOL_SIZE")
	v.BindEnv("processor", "PVP_INFERENCE_PROCESSOR")
	v.BindEnv("device", "PVP_INFERENCE_DEVICE")
	v.BindEnv("metrics_port", "PVP_INFERENCE_METRICS_PORT")
	v.BindEnv("otel_enabled", "PVP_INFERENCE_OTEL_ENABLED")
	v.BindEnv("otel_endpoint", "PVP_INFERENCE_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("redis", "PVP_INFERENCE_REDIS")
}

// Load loads configuration from environment variables and an optional
// config file. Priority (highest to lowest): env vars > config file >
// defaults. Flag overrides happen in main.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	setupEnv(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/pvp-inference/")
	v.AddConfigPath("$HOME/.pvp-inference")

	// Read config file if present (ignore error if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithConfigFile loads configuration from a specific config file
func LoadWithConfigFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	setupEnv(v)

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics_port must be different")
	}
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be at least 1, got %d", c.PoolSize)
	}
	if c.ModelsDir == "" {
		return fmt.Errorf("models_dir is required")
	}
	for _, kind := range processor.Kinds() {
		if string(kind) == c.Processor {
			return nil
		}
	}
	return fmt.Errorf("unknown processor type: %s (known: %v)", c.Processor, processor.Kinds())
}
