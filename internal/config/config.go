package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the pipeline configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	APIKeys []APIKey `yaml:"api_keys"`
}

// APIKey represents an API key for authentication
type APIKey struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// PipelineConfig contains the deployment-time values of the pipeline:
// designated branch, foreign architecture and the two build recipes
type PipelineConfig struct {
	Branch       string        `yaml:"branch"`
	ForeignArch  string        `yaml:"foreign_arch"`
	Native       NativeConfig  `yaml:"native"`
	Cross        CrossConfig   `yaml:"cross"`
	BuildTimeout time.Duration `yaml:"build_timeout"`
}

// NativeConfig describes the native build path
type NativeConfig struct {
	Recipe  string `yaml:"recipe"`
	Context string `yaml:"context"`
	Image   string `yaml:"image"`
}

// CrossConfig describes the cross-architecture build path
type CrossConfig struct {
	Recipe      string `yaml:"recipe"`
	Context     string `yaml:"context"`
	BinfmtImage string `yaml:"binfmt_image"`
	Builder     string `yaml:"builder"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables in the config
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, for
// callers without a config file
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Pipeline.Branch == "" {
		c.Pipeline.Branch = "main"
	}
	if c.Pipeline.ForeignArch == "" {
		c.Pipeline.ForeignArch = "arm64"
	}
	if c.Pipeline.Native.Recipe == "" {
		c.Pipeline.Native.Recipe = "docker/Dockerfile.native"
	}
	if c.Pipeline.Native.Context == "" {
		c.Pipeline.Native.Context = "."
	}
	if c.Pipeline.Native.Image == "" {
		c.Pipeline.Native.Image = "crossci/native"
	}
	if c.Pipeline.Cross.Recipe == "" {
		c.Pipeline.Cross.Recipe = "docker/Dockerfile.cross"
	}
	if c.Pipeline.Cross.Context == "" {
		c.Pipeline.Cross.Context = "."
	}
	if c.Pipeline.Cross.BinfmtImage == "" {
		c.Pipeline.Cross.BinfmtImage = "tonistiigi/binfmt"
	}
	if c.Pipeline.Cross.Builder == "" {
		c.Pipeline.Cross.Builder = "crossci-builder"
	}
	if c.Pipeline.BuildTimeout == 0 {
		c.Pipeline.BuildTimeout = 30 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

func (c *Config) validate() error {
	// The platform prefix is added by the cross driver.
	if strings.Contains(c.Pipeline.ForeignArch, "/") {
		return fmt.Errorf("foreign_arch must be a bare architecture name like %q, got %q", "arm64", c.Pipeline.ForeignArch)
	}
	return nil
}
