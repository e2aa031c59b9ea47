package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// Config is the full runtime configuration. Zero values are replaced by defaults.
type Config struct {
	Server ServerConfig `toml:"server"`
	Client Client       `toml:"client"`
	Log    LogConfig    `toml:"log"`
}

// ServerConfig configures the emulated coordinator.
type ServerConfig struct {
	Port     string   `toml:"port"`
	DBPath   string   `toml:"db_path"`
	PageSize int      `toml:"page_size"`
	QueryTTL Duration `toml:"query_ttl"`

	// ExternalURL is the base used for nextUri and infoUri. When empty the
	// request's own scheme and host are used.
	ExternalURL string `toml:"external_url"`
}

// Client configures the polling client.
type Client struct {
	ServerURL      string            `toml:"server"`
	User           string            `toml:"user"`
	Source         string            `toml:"source"`
	Catalog        string            `toml:"catalog"`
	Schema         string            `toml:"schema"`
	TimeZone       string            `toml:"time_zone"`
	Session        map[string]string `toml:"session"`
	RequestTimeout Duration          `toml:"request_timeout"`
	RetryDelay     Duration          `toml:"retry_delay"`
	MaxRetryDelay  Duration          `toml:"max_retry_delay"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// Duration is a time.Duration read from a TOML string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a configuration populated with defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the TOML file at path (skipped when path is empty), then applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("PORT", &c.Server.Port)
	str("DB_PATH", &c.Server.DBPath)
	str("EXTERNAL_URL", &c.Server.ExternalURL)
	str("PRESTO_SERVER", &c.Client.ServerURL)
	str("PRESTO_USER", &c.Client.User)
	str("PRESTO_CATALOG", &c.Client.Catalog)
	str("PRESTO_SCHEMA", &c.Client.Schema)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("PAGE_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid PAGE_SIZE %q", v)
		}
		c.Server.PageSize = n
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = DefaultDBPath
	}
	if c.Server.PageSize <= 0 {
		c.Server.PageSize = DefaultPageSize
	}
	if c.Server.QueryTTL.Duration <= 0 {
		c.Server.QueryTTL.Duration = DefaultQueryTTL
	}
	c.Client.ApplyDefaults()
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// ApplyDefaults fills unset client fields.
func (c *Client) ApplyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.User == "" {
		c.User = DefaultUser
	}
	if c.Source == "" {
		c.Source = DefaultSource
	}
	if c.Catalog == "" {
		c.Catalog = DefaultCatalog
	}
	if c.Schema == "" {
		c.Schema = DefaultSchema
	}
	if c.RequestTimeout.Duration <= 0 {
		c.RequestTimeout.Duration = DefaultRequestTimeout
	}
	if c.RetryDelay.Duration <= 0 {
		c.RetryDelay.Duration = DefaultRetryDelay
	}
	if c.MaxRetryDelay.Duration <= 0 {
		c.MaxRetryDelay.Duration = DefaultMaxRetryDelay
	}
}

// NewLogger builds a logrus logger from the log section.
func (l LogConfig) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	switch l.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.New("invalid log format: " + l.Format)
	}
	return logger, nil
}
