package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is not set
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tether/config.yaml",
}

const configPathEnvVar = "CONFIG_PATH"

// Config holds the complete service configuration
type Config struct {
	Env         string            `koanf:"env"`
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Cache       CacheConfig       `koanf:"cache"`
	Queue       QueueConfig       `koanf:"queue"`
	GeoIP       GeoIPConfig       `koanf:"geoip"`
	UserAgent   UserAgentConfig   `koanf:"useragent"`
	KeyGen      KeyGenConfig      `koanf:"keygen"`
	Aggregation AggregationConfig `koanf:"aggregation"`
	Auth        AuthConfig        `koanf:"auth"`
}

type ServerConfig struct {
	Port          int           `koanf:"port"`
	BaseURL       string        `koanf:"base_url"`
	ReadTimeout   time.Duration `koanf:"read_timeout"`
	WriteTimeout  time.Duration `koanf:"write_timeout"`
	RateLimit     int           `koanf:"rate_limit"`
	RateWindow    time.Duration `koanf:"rate_window"`
	MetricsEnable bool          `koanf:"metrics_enable"`
}

type DatabaseConfig struct {
	Host     string `koanf:"host"`
	Port     string `koanf:"port"`
	Database string `koanf:"database"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Schema   string `koanf:"schema"`
}

type CacheConfig struct {
	// Provider is "badger" or "redis"
	Provider      string        `koanf:"provider"`
	TTL           time.Duration `koanf:"ttl"`
	BadgerPath    string        `koanf:"badger_path"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
}

type QueueConfig struct {
	// Provider is "nats" or "memory"
	Provider         string        `koanf:"provider"`
	URL              string        `koanf:"url"`
	Topic            string        `koanf:"topic"`
	PoisonTopic      string        `koanf:"poison_topic"`
	EnqueueTimeout   time.Duration `koanf:"enqueue_timeout"`
	Subscribers      int           `koanf:"subscribers"`
	MaxRetries       int           `koanf:"max_retries"`
	RetryInterval    time.Duration `koanf:"retry_interval"`
	RetryMaxInterval time.Duration `koanf:"retry_max_interval"`
	AckWait          time.Duration `koanf:"ack_wait"`
	DurableName      string        `koanf:"durable_name"`
}

// RetryBudget is the total backoff the worker waits across all retries of
// one task
func (q QueueConfig) RetryBudget() time.Duration {
	var total time.Duration
	interval := q.RetryInterval
	for i := 0; i < q.MaxRetries; i++ {
		if q.RetryMaxInterval > 0 && interval > q.RetryMaxInterval {
			interval = q.RetryMaxInterval
		}
		total += interval
		interval *= 2
	}
	return total
}

type GeoIPConfig struct {
	DatabasePath string        `koanf:"database_path"`
	CacheTTL     time.Duration `koanf:"cache_ttl"`
}

type UserAgentConfig struct {
	// Driver is "mileusna" or "mssola"
	Driver string `koanf:"driver"`
}

// maxKeyLength is the width of the url_key column
const maxKeyLength = 20

type KeyGenConfig struct {
	Length      int `koanf:"length"`
	MaxAttempts int `koanf:"max_attempts"`
	MaxLength   int `koanf:"max_length"`
}

type AggregationConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

type AuthConfig struct {
	Secret string `koanf:"secret"`
}

func defaultConfig() *Config {
	return &Config{
		Env: "production",
		Server: ServerConfig{
			Port:          8080,
			BaseURL:       "http://localhost:8080",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  30 * time.Second,
			RateLimit:     120,
			RateWindow:    time.Minute,
			MetricsEnable: true,
		},
		Database: DatabaseConfig{
			Host:   "localhost",
			Port:   "5432",
			Schema: "public",
		},
		Cache: CacheConfig{
			Provider:   "badger",
			TTL:        24 * time.Hour,
			BadgerPath: "./data/cache",
			RedisAddr:  "localhost:6379",
		},
		Queue: QueueConfig{
			Provider:         "nats",
			URL:              "nats://127.0.0.1:4222",
			Topic:            "visits.track",
			PoisonTopic:      "visits.poison",
			EnqueueTimeout:   100 * time.Millisecond,
			Subscribers:      4,
			MaxRetries:       5,
			RetryInterval:    time.Second,
			RetryMaxInterval: time.Minute,
			AckWait:          2 * time.Minute,
			DurableName:      "visit-recorder",
		},
		GeoIP: GeoIPConfig{
			DatabasePath: "./GeoLite2-City.mmdb",
			CacheTTL:     24 * time.Hour,
		},
		UserAgent: UserAgentConfig{
			Driver: "mileusna",
		},
		KeyGen: KeyGenConfig{
			Length:      7,
			MaxAttempts: 5,
			MaxLength:   20,
		},
		Aggregation: AggregationConfig{
			Enabled:  true,
			Interval: 15 * time.Minute,
		},
	}
}

// NewConfig loads defaults, then an optional YAML file, then environment variables
func NewConfig() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	return cfg, nil
}

func findConfigFile() string {
	if path := os.Getenv(configPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps environment variable names to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	"app_env":                  "env",
	"port":                     "server.port",
	"base_url":                 "server.base_url",
	"rate_limit":               "server.rate_limit",
	"rate_window":              "server.rate_window",
	"metrics_enable":           "server.metrics_enable",
	"db_host":                  "database.host",
	"db_port":                  "database.port",
	"db_database":              "database.database",
	"db_username":              "database.username",
	"db_password":              "database.password",
	"db_schema":                "database.schema",
	"cache_provider":           "cache.provider",
	"cache_ttl":                "cache.ttl",
	"cache_badger_path":        "cache.badger_path",
	"redis_addr":               "cache.redis_addr",
	"redis_password":           "cache.redis_password",
	"redis_db":                 "cache.redis_db",
	"queue_provider":           "queue.provider",
	"nats_url":                 "queue.url",
	"queue_topic":              "queue.topic",
	"queue_poison_topic":       "queue.poison_topic",
	"queue_enqueue_timeout":    "queue.enqueue_timeout",
	"queue_subscribers":        "queue.subscribers",
	"queue_max_retries":        "queue.max_retries",
	"queue_retry_interval":     "queue.retry_interval",
	"queue_retry_max_interval": "queue.retry_max_interval",
	"queue_ack_wait":           "queue.ack_wait",
	"queue_durable_name":       "queue.durable_name",
	"geoip_database_path":      "geoip.database_path",
	"geoip_cache_ttl":          "geoip.cache_ttl",
	"useragent_driver":         "useragent.driver",
	"key_length":               "keygen.length",
	"key_max_attempts":         "keygen.max_attempts",
	"key_max_length":           "keygen.max_length",
	"aggregation_enabled":      "aggregation.enabled",
	"aggregation_interval":     "aggregation.interval",
	"secret":                   "auth.secret",
}

func envTransform(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Validate checks required values and enumerated choices
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Server.Port)
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("SECRET is required")
	}

	switch c.Cache.Provider {
	case "badger":
		if c.Cache.BadgerPath == "" {
			return fmt.Errorf("CACHE_BADGER_PATH is required for badger cache")
		}
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for redis cache")
		}
	default:
		return fmt.Errorf("unsupported cache provider: %s", c.Cache.Provider)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("invalid CACHE_TTL: %s", c.Cache.TTL)
	}

	switch c.Queue.Provider {
	case "nats":
		if c.Queue.URL == "" {
			return fmt.Errorf("NATS_URL is required for nats queue")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported queue provider: %s", c.Queue.Provider)
	}
	if c.Queue.EnqueueTimeout <= 0 {
		return fmt.Errorf("invalid QUEUE_ENQUEUE_TIMEOUT: %s", c.Queue.EnqueueTimeout)
	}
	// the broker must not redeliver while the worker is still retrying
	if c.Queue.Provider == "nats" && c.Queue.AckWait <= c.Queue.RetryBudget() {
		return fmt.Errorf("QUEUE_ACK_WAIT (%s) must exceed the retry backoff total (%s)", c.Queue.AckWait, c.Queue.RetryBudget())
	}

	switch c.UserAgent.Driver {
	case "mileusna", "mssola":
	default:
		return fmt.Errorf("unsupported user agent driver: %s", c.UserAgent.Driver)
	}

	if c.KeyGen.Length <= 0 || c.KeyGen.MaxAttempts <= 0 {
		return fmt.Errorf("key length and attempts must be positive")
	}
	if c.KeyGen.MaxLength > maxKeyLength {
		return fmt.Errorf("KEY_MAX_LENGTH (%d) must not exceed %d", c.KeyGen.MaxLength, maxKeyLength)
	}
	if c.KeyGen.MaxLength < c.KeyGen.Length {
		return fmt.Errorf("KEY_MAX_LENGTH (%d) must not be below KEY_LENGTH (%d)", c.KeyGen.MaxLength, c.KeyGen.Length)
	}

	return nil
}

// IsDevelopment reports whether the service runs in a development environment
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "dev" || c.Env == "local"
}

func (c *Config) Log() {
	log.Info().
		Int("port", c.Server.Port).
		Str("env", c.Env).
		Str("base_url", c.Server.BaseURL).
		Str("cache_provider", c.Cache.Provider).
		Dur("cache_ttl", c.Cache.TTL).
		Str("queue_provider", c.Queue.Provider).
		Str("queue_topic", c.Queue.Topic).
		Str("useragent_driver", c.UserAgent.Driver).
		Int("key_length", c.KeyGen.Length).
		Msg("server configuration")
}
