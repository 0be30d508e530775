package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"taskboard/internal/domain"
)

// Config models taskboard.yml.
type Config struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		Issuer    string        `yaml:"issuer"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`
	Invitations struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"invitations"`
	Log struct {
		Level string `yaml:"level"`
		Dev   bool   `yaml:"dev"`
	} `yaml:"log"`
	Kanban struct {
		StatusNames map[string]string `yaml:"status_names"`
	} `yaml:"kanban"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Load reads and validates config from workspace, falling back to defaults
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("config.database.dsn is required for driver postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("config.auth.token_ttl must be positive")
	}
	if c.Invitations.TTL <= 0 {
		return fmt.Errorf("config.invitations.ttl must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config.log.level %q not supported", c.Log.Level)
	}
	for code, name := range c.Kanban.StatusNames {
		if _, err := domain.ParseStatus(code); err != nil {
			return fmt.Errorf("config.kanban.status_names: %w", err)
		}
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config.kanban.status_names.%s is empty", code)
		}
	}
	return nil
}

// StatusName returns the display name for a status, or the code itself.
func (c *Config) StatusName(s domain.Status) string {
	if c != nil {
		if name, ok := c.Kanban.StatusNames[string(s)]; ok {
			return name
		}
	}
	return string(s)
}

// StatusNames returns the display name of every status.
func (c *Config) StatusNames() map[domain.Status]string {
	names := make(map[domain.Status]string, len(domain.StatusOrder))
	for _, s := range domain.StatusOrder {
		names[s] = c.StatusName(s)
	}
	return names
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskboard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys absent from
// data keep their default values.
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

const defaultTemplate = `database:
  driver: sqlite
  dsn: ""

server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  jwt_secret: ""
  issuer: taskboard
  token_ttl: 12h

invitations:
  ttl: 168h

log:
  level: info
  dev: false

kanban:
  status_names:
    proposed: Proposed
    created: Created
    in_progress: In progress
    submitted: Submitted
    completed: Completed
`
