package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the monitor.
type Config struct {
	// Prefix used in alert email subjects
	ProductName string `yaml:"product_name"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Jobs    JobsConfig    `yaml:"jobs"`
	SMTP    SMTPConfig    `yaml:"smtp"`
	Kafka   KafkaConfig   `yaml:"kafka"`

	// Optional YAML file of users, data sources and metric cards loaded at startup
	SeedPath string `yaml:"seed_path"`
}

// HTTPConfig configures the operational HTTP server
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// When set, /api routes require "Authorization: Bearer <token>"
	TriggerToken    string        `yaml:"trigger_token"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the storage backend
type StorageConfig struct {
	// sqlite or memory
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// JobsConfig holds the scheduler intervals
type JobsConfig struct {
	EvaluationInterval time.Duration `yaml:"evaluation_interval"`
	DeliveryInterval   time.Duration `yaml:"delivery_interval"`
	// Upper bound for one pass; zero means no limit
	PassTimeout time.Duration `yaml:"pass_timeout"`
}

// SMTPConfig configures the outbound email channel
type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Enabled reports whether enough is configured to send mail
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.Port > 0
}

// KafkaConfig configures publication of alert events
type KafkaConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Brokers  []string       `yaml:"brokers"`
	Topic    string         `yaml:"topic"`
	Producer ProducerConfig `yaml:"producer"`
}

// ProducerConfig tunes the Kafka writer pool
type ProducerConfig struct {
	PoolSize     int           `yaml:"pool_size"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// -1 all, 0 none, 1 leader
	RequiredAcks int `yaml:"required_acks"`
	// none, gzip, snappy, lz4, zstd
	Compression  string        `yaml:"compression"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		ProductName: "PulseBoard",
		LogLevel:    "info",
		HTTP: HTTPConfig{
			Addr:            ":8000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "pulseboard.db",
		},
		Jobs: JobsConfig{
			EvaluationInterval: 5 * time.Minute,
			DeliveryInterval:   2 * time.Minute,
		},
		SMTP: SMTPConfig{
			Port:    587,
			Timeout: 15 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "pulseboard.alerts",
			Producer: ProducerConfig{
				PoolSize:     2,
				BatchSize:    100,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
	}
}

// Load reads configuration with priority: defaults < YAML file < .env and
// environment variables. A missing file at path is not an error; a missing
// explicit path is reported by the caller if it cares.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables
func (c *Config) applyEnv(getenv func(string) string) error {
	setStr := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	setStr(&c.ProductName, "PULSEBOARD_PRODUCT_NAME")
	setStr(&c.LogLevel, "PULSEBOARD_LOG_LEVEL", "LOG_LEVEL")
	setStr(&c.LogFormat, "PULSEBOARD_LOG_FORMAT")
	setStr(&c.HTTP.TriggerToken, "PULSEBOARD_TRIGGER_TOKEN")
	setStr(&c.Storage.Backend, "PULSEBOARD_STORAGE_BACKEND")
	setStr(&c.Storage.Path, "PULSEBOARD_DB", "DB_URL")
	setStr(&c.SMTP.Host, "PULSEBOARD_SMTP_HOST", "EMAIL_HOST")
	setStr(&c.SMTP.Username, "PULSEBOARD_SMTP_USERNAME", "EMAIL_USER")
	setStr(&c.SMTP.Password, "PULSEBOARD_SMTP_PASSWORD", "EMAIL_PASS")
	setStr(&c.SMTP.From, "PULSEBOARD_SMTP_FROM")
	setStr(&c.Kafka.Topic, "PULSEBOARD_KAFKA_TOPIC")
	setStr(&c.SeedPath, "PULSEBOARD_SEED")

	if v := getenv("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.HTTP.Addr = ":" + v
	}
	if v := getenv("PULSEBOARD_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := getenv("PULSEBOARD_SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PULSEBOARD_SMTP_PORT: %w", err)
		}
		c.SMTP.Port = port
	}
	if v := getenv("PULSEBOARD_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitCSV(v)
	}
	if v := getenv("PULSEBOARD_KAFKA_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PULSEBOARD_KAFKA_ENABLED: %w", err)
		}
		c.Kafka.Enabled = enabled
	}
	return nil
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for the sqlite backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of sqlite, memory", c.Storage.Backend))
	}

	if c.Jobs.EvaluationInterval <= 0 {
		errs = append(errs, errors.New("jobs.evaluation_interval must be positive"))
	}
	if c.Jobs.DeliveryInterval <= 0 {
		errs = append(errs, errors.New("jobs.delivery_interval must be positive"))
	}
	if c.Jobs.PassTimeout < 0 {
		errs = append(errs, errors.New("jobs.pass_timeout cannot be negative"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.topic is required when kafka is enabled"))
		}
	}

	return errors.Join(errs...)
}

// FromAddress returns the envelope sender for alert emails
func (c *Config) FromAddress() string {
	if c.SMTP.From != "" {
		return c.SMTP.From
	}
	if c.SMTP.Username != "" {
		return fmt.Sprintf("%s Alerts <%s>", c.ProductName, c.SMTP.Username)
	}
	return ""
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
