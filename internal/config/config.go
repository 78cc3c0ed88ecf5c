package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL     = "http://127.0.0.1:8000/api"
	DefaultJournalPath = "data/sandia_journal.db"

	// BaseURLEnv overrides api.base_url.
	BaseURLEnv = "SANDIA_API_URL"
)

type Config struct {
	API struct {
		BaseURL        string  `yaml:"base_url"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		RatePerSecond  float64 `yaml:"rate_per_second"`
		Burst          int     `yaml:"burst"`
		GlobalAlerts   *bool   `yaml:"global_alerts"`
	} `yaml:"api"`

	Session struct {
		Backend string `yaml:"backend"` // file, redis or memory
		Path    string `yaml:"path"`
		Redis   struct {
			Address   string `yaml:"address"`
			Password  string `yaml:"password"`
			DB        int    `yaml:"db"`
			KeyPrefix string `yaml:"key_prefix"`
		} `yaml:"redis"`
	} `yaml:"session"`

	Journal struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"journal"`

	Export struct {
		Dir string `yaml:"dir"`
	} `yaml:"export"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Log struct {
		Level   string `yaml:"level"`
		Console bool   `yaml:"console"`
	} `yaml:"log"`
}

// Load reads the YAML file at path. A .env file in the working directory is loaded
// first so ${VAR} placeholders can refer to it. A missing config file yields the
// defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	if path == "" {
		path = "configs/config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		// Support ${ENV_VAR} placeholders in YAML config.
		data = []byte(os.ExpandEnv(string(data)))
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()

	if cfg.Journal.Enabled {
		if err = os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0o755); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if v := strings.TrimSpace(os.Getenv(BaseURLEnv)); v != "" {
		c.API.BaseURL = v
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.GlobalAlerts == nil {
		enabled := true
		c.API.GlobalAlerts = &enabled
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "file"
	}
	if c.Session.Path == "" {
		c.Session.Path = defaultSessionPath()
	}
	if c.Session.Redis.KeyPrefix == "" {
		c.Session.Redis.KeyPrefix = "sandia:session"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = DefaultJournalPath
	}
	if c.Export.Dir == "" {
		c.Export.Dir = "exports"
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func defaultSessionPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".sandia", "session.yaml")
	}
	return filepath.Join(home, ".sandia", "session.yaml")
}

// Timeout is the per-request timeout of the API client.
func (c *Config) Timeout() time.Duration {
	if c.API.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// GlobalAlertsEnabled reports whether failed requests raise the blocking alert.
func (c *Config) GlobalAlertsEnabled() bool {
	return c.API.GlobalAlerts == nil || *c.API.GlobalAlerts
}
