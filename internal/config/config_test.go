package config

import (
	"os"
	"path/filepath"
	"testing"
)

func defaultConfig() *Config {
	return &Config{
		Host:        "127.0.0.1",
		Port:        9999,
		ModelsDir:   "models",
		PoolSize:    1,
		Processor:   "thread",
		Device:      "cpu",
		MetricsPort: 9100,
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Host != "127.0.0.1" || cfg.Port != 9999 {
		t.Errorf("Default listen address = %s:%d, expected 127.0.0.1:9999", cfg.Host, cfg.Port)
	}
	if cfg.PoolSize != 1 || cfg.Processor != "thread" || cfg.Device != "cpu" {
		t.Errorf("Default pool config = %d/%s/%s", cfg.PoolSize, cfg.Processor, cfg.Device)
	}
	if cfg.MetricsPort != 9100 {
		t.Errorf("Default metrics port = %d, expected 9100", cfg.MetricsPort)
	}
	if cfg.Redis != "" {
		t.Errorf("Redis should default to disabled, got %q", cfg.Redis)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PVP_INFERENCE_PORT", "7777")
	t.Setenv("PVP_INFERENCE_POOL_SIZE", "4")
	t.Setenv("PVP_INFERENCE_DEVICE", "cuda")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 7777 {
		t.Errorf("Port = %d, expected 7777 from env", cfg.Port)
	}
	if cfg.PoolSize != 4 {
		t.Errorf("PoolSize = %d, expected 4 from env", cfg.PoolSize)
	}
	if cfg.Device != "cuda" {
		t.Errorf("Device = %s, expected cuda from env", cfg.Device)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "port: 8888\nmodels_dir: /opt/models\npool_size: 2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWithConfigFile(path)
	if err != nil {
		t.Fatalf("LoadWithConfigFile failed: %v", err)
	}

	if cfg.Port != 8888 || cfg.ModelsDir != "/opt/models" || cfg.PoolSize != 2 {
		t.Errorf("Config file values not applied: %+v", cfg)
	}
	// Unset keys keep their defaults.
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %s, expected default", cfg.Host)
	}
}

func TestLoadWithConfigFile_Missing(t *testing.T) {
	if _, err := LoadWithConfigFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Expected error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = -1 }},
		{"bad metrics port", func(c *Config) { c.MetricsPort = 70000 }},
		{"port collision", func(c *Config) { c.MetricsPort = c.Port }},
		{"bad pool size", func(c *Config) { c.PoolSize = 0 }},
		{"missing models dir", func(c *Config) { c.ModelsDir = "" }},
		{"unknown processor", func(c *Config) { c.Processor = "fork" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
