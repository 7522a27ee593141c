package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config models fabline.yml.
type Config struct {
	Server struct {
		Addr                   string `yaml:"addr" validate:"required"`
		BasePath               string `yaml:"base_path"`
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Telemetry struct {
		LogLevel       string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
		LogFormat      string `yaml:"log_format" validate:"oneof=console json"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
	} `yaml:"telemetry"`
	Orders struct {
		// NumberSuffix picks the order-number collision policy: a per-day
		// sequence (PO-20240101-001) or a random suffix.
		NumberSuffix        string `yaml:"number_suffix" validate:"oneof=sequence random"`
		DeleteRelatedOrders bool   `yaml:"delete_related_orders"`
	} `yaml:"orders"`
}

var validate = validator.New()

// Validate checks the config against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fabline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate it with fab config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. Values start
// from the defaults so a partial file is enough.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8420
  base_path: /v0
  jwt_secret: ""
  allow_legacy_actor_header: true

telemetry:
  log_level: info
  log_format: console
  metrics_enabled: true

orders:
  number_suffix: sequence
  delete_related_orders: false
`
