// Package config holds the worker configuration model. Files are YAML; runtime
// updates arrive as decoded JSON objects and are applied with mapstructure.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Config is the complete worker configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	Templates Templates `yaml:"templates"`
	Redis     Redis     `yaml:"redis"`
	NATS      NATS      `yaml:"nats"`
	Worker    Worker    `yaml:"worker"`
	Formats   Formats   `yaml:"formats"`
	Logging   Logging   `yaml:"logging"`
}

// Server configures the HTTP transport.
type Server struct {
	Listen       string        `yaml:"listen"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Templates configures template storage. Each format reads its templates from
// Root/<format>.
type Templates struct {
	Root    string `yaml:"root"`
	Watch   bool   `yaml:"watch"`
	Storage string `yaml:"storage"`
}

// Redis configures the Redis template store and its change channel.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	Channel  string `yaml:"channel"`
}

// NATS configures the optional request/reply transport. An empty URL disables it.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

// Worker bounds concurrent dispatches.
type Worker struct {
	Concurrency int `yaml:"concurrency"`
	QueueSize   int `yaml:"queue_size"`
}

// Formats carries per-format parser options.
type Formats struct {
	CSV CSV `yaml:"csv"`
	XML XML `yaml:"xml"`
}

// CSV options. Delimiter and Comment are single characters; an empty Comment
// disables comment lines.
type CSV struct {
	Delimiter        string `yaml:"delimiter"`
	Comment          string `yaml:"comment"`
	TrimLeadingSpace bool   `yaml:"trim_leading_space"`
}

// XML options.
type XML struct {
	AttributePrefix string `yaml:"attribute_prefix"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	StorageFS    = "fs"
	StorageRedis = "redis"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a YAML file, applies defaults and DATACONV_* environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(b)
}

// FromEnvironment returns Default with DATACONV_* overrides applied, for runs
// without a configuration file.
func FromEnvironment() (*Config, error) {
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Clone returns a shallow copy; Config holds no reference types.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// KeepStartupSections returns next with the sections that are wired once at
// startup copied from c: server, templates.storage, templates.watch, redis,
// nats, worker and logging. changed names the ones next tried to change.
func (c *Config) KeepStartupSections(next *Config) (merged *Config, changed []string) {
	merged = next.Clone()
	if c == nil {
		return merged, nil
	}
	note := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}
	note("server", merged.Server != c.Server)
	note("templates.storage", merged.Templates.Storage != c.Templates.Storage)
	note("templates.watch", merged.Templates.Watch != c.Templates.Watch)
	note("redis", merged.Redis != c.Redis)
	note("nats", merged.NATS != c.NATS)
	note("worker", merged.Worker != c.Worker)
	note("logging", merged.Logging != c.Logging)

	merged.Server = c.Server
	merged.Templates.Storage = c.Templates.Storage
	merged.Templates.Watch = c.Templates.Watch
	merged.Redis = c.Redis
	merged.NATS = c.NATS
	merged.Worker = c.Worker
	merged.Logging = c.Logging
	return merged, changed
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Templates.Root) == "" {
		return errors.New("config: templates.root is required")
	}
	switch c.Templates.Storage {
	case StorageFS:
	case StorageRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return errors.New("config: redis.addr is required when templates.storage is redis")
		}
	default:
		return fmt.Errorf("config: unknown templates.storage %q", c.Templates.Storage)
	}
	if utf8.RuneCountInString(c.Formats.CSV.Delimiter) != 1 {
		return fmt.Errorf("config: formats.csv.delimiter must be a single character, got %q", c.Formats.CSV.Delimiter)
	}
	if n := utf8.RuneCountInString(c.Formats.CSV.Comment); n > 1 {
		return fmt.Errorf("config: formats.csv.comment must be at most one character, got %q", c.Formats.CSV.Comment)
	}
	if c.Formats.CSV.Comment != "" && c.Formats.CSV.Comment == c.Formats.CSV.Delimiter {
		return errors.New("config: formats.csv.comment must differ from the delimiter")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.QueueSize < 0 {
		return fmt.Errorf("config: worker.queue_size must not be negative, got %d", c.Worker.QueueSize)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = ":2019"
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if strings.TrimSpace(cfg.Templates.Root) == "" {
		cfg.Templates.Root = "./templates"
	}
	if strings.TrimSpace(cfg.Templates.Storage) == "" {
		cfg.Templates.Storage = StorageFS
	}
	cfg.Templates.Storage = strings.ToLower(strings.TrimSpace(cfg.Templates.Storage))
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "dataconv:templates:"
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "dataconv:templates:updated"
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "dataconv.requests"
	}
	if cfg.NATS.Queue == "" {
		cfg.NATS.Queue = "dataconv"
	}
	if cfg.Worker.Concurrency <= 0 {
		cfg.Worker.Concurrency = 8
	}
	if cfg.Worker.QueueSize == 0 {
		cfg.Worker.QueueSize = 64
	}
	if cfg.Formats.CSV.Delimiter == "" {
		cfg.Formats.CSV.Delimiter = ","
	}
	if cfg.Formats.XML.AttributePrefix == "" {
		cfg.Formats.XML.AttributePrefix = "attr_"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "auto"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DATACONV_LISTEN")); v != "" {
		cfg.Server.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("DATACONV_TEMPLATES_ROOT")); v != "" {
		cfg.Templates.Root = v
	}
	if v := strings.TrimSpace(os.Getenv("DATACONV_TEMPLATES_STORAGE")); v != "" {
		cfg.Templates.Storage = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("DATACONV_REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DATACONV_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("DATACONV_NATS_URL")); v != "" {
		cfg.NATS.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATACONV_WORKER_CONCURRENCY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Worker.Concurrency = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DATACONV_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}
