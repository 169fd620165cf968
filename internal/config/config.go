package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	// DefaultFreeAllowedModels is the fallback anonymous-access model list.
	DefaultFreeAllowedModels = "qwen/qwen-2.5-7b-instruct"
	// DefaultRequestTimeout bounds the total duration of an upstream call.
	DefaultRequestTimeout = 600 * time.Second
	// DefaultRateLimitRPM applies when an account has no explicit RPM limit.
	DefaultRateLimitRPM = 60
	// DefaultSpendFlushInterval is the spend worker tick interval.
	DefaultSpendFlushInterval = 5 * time.Second
	// DefaultSpendBatchSize caps records drained per worker tick.
	DefaultSpendBatchSize = 500
	// DefaultCreditsPerCostUnit converts one cost unit into credit units.
	DefaultCreditsPerCostUnit = 2_000_000
	// DefaultListenAddr is the HTTP bind address.
	DefaultListenAddr = ":8080"
)

// RedisConfig holds KV store connection settings.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
}

// Addr returns the host:port address for the redis client.
func (r RedisConfig) Addr() string {
	host := r.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := r.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ClickHouseConfig holds analytical store connection settings.
type ClickHouseConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Config carries all gateway settings resolved from the environment.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	DatabaseURL string           `yaml:"database_url"`
	Redis       RedisConfig      `yaml:"redis"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`

	EncryptionKey string `yaml:"encryption_key"`

	FreeAllowedModels []string `yaml:"free_allowed_models"`

	RequestTimeout      time.Duration `yaml:"request_timeout"`
	DefaultRateLimitRPM int           `yaml:"default_rate_limit_rpm"`

	SpendFlushInterval time.Duration `yaml:"spend_flush_interval"`
	SpendBatchSize     int           `yaml:"spend_batch_size"`
	CreditsPerCostUnit int64         `yaml:"credits_per_cost_unit"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Load resolves configuration from an optional YAML file overlaid by the
// environment, then validates it. Environment values always win.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:          DefaultListenAddr,
		RequestTimeout:      DefaultRequestTimeout,
		DefaultRateLimitRPM: DefaultRateLimitRPM,
		SpendFlushInterval:  DefaultSpendFlushInterval,
		SpendBatchSize:      DefaultSpendBatchSize,
		CreditsPerCostUnit:  DefaultCreditsPerCostUnit,
	}

	if path := strings.TrimSpace(os.Getenv("GATEWAY_CONFIG")); path != "" {
		data, errRead := os.ReadFile(path)
		if errRead != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, errRead)
		}
		if errYAML := yaml.Unmarshal(data, cfg); errYAML != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, errYAML)
		}
	}

	applyEnv(cfg)

	if len(cfg.FreeAllowedModels) == 0 {
		cfg.FreeAllowedModels = splitList(DefaultFreeAllowedModels)
	}

	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

// applyEnv overrides config fields from recognized environment variables.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("GATEWAY_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_HOST")); v != "" {
		cfg.Redis.Host = v
	}
	if v, ok := envInt("REDIS_PORT"); ok {
		cfg.Redis.Port = v
	}
	if v, ok := envInt("REDIS_DB"); ok {
		cfg.Redis.DB = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("CLICKHOUSE_URL")); v != "" {
		cfg.ClickHouse.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("CLICKHOUSE_USERNAME")); v != "" {
		cfg.ClickHouse.Username = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		cfg.ClickHouse.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("CLICKHOUSE_DATABASE")); v != "" {
		cfg.ClickHouse.Database = v
	}
	if v := strings.TrimSpace(os.Getenv("ENCRYPTION_KEY")); v != "" {
		cfg.EncryptionKey = v
	}
	if v := strings.TrimSpace(os.Getenv("FREE_ALLOWED_MODELS")); v != "" {
		cfg.FreeAllowedModels = splitList(v)
	}
	if v, ok := envInt("GATEWAY_REQUEST_TIMEOUT"); ok && v > 0 {
		cfg.RequestTimeout = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("DEFAULT_RATE_LIMIT_RPM"); ok && v > 0 {
		cfg.DefaultRateLimitRPM = v
	}
	if v, ok := envInt("SPEND_FLUSH_INTERVAL_MS"); ok && v > 0 {
		cfg.SpendFlushInterval = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("SPEND_BATCH_SIZE"); ok && v > 0 {
		cfg.SpendBatchSize = v
	}
	if v, ok := envInt("CREDITS_PER_COST_UNIT"); ok && v > 0 {
		cfg.CreditsPerCostUnit = int64(v)
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FILE")); v != "" {
		cfg.LogFile = v
	}
}

// Validate checks required settings and aborts startup on misconfiguration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if strings.TrimSpace(c.ClickHouse.URL) == "" {
		return fmt.Errorf("config: CLICKHOUSE_URL is required")
	}
	key := strings.TrimSpace(c.EncryptionKey)
	if key == "" {
		return fmt.Errorf("config: ENCRYPTION_KEY is required")
	}
	if len(key) != 64 {
		return fmt.Errorf("config: ENCRYPTION_KEY must be 64 hex characters, got %d", len(key))
	}
	if _, errHex := hex.DecodeString(key); errHex != nil {
		return fmt.Errorf("config: ENCRYPTION_KEY is not valid hex: %w", errHex)
	}
	return nil
}

// IsFreeModel reports whether a model may be served without an API key.
func (c *Config) IsFreeModel(model string) bool {
	model = strings.TrimSpace(model)
	for _, allowed := range c.FreeAllowedModels {
		if model == allowed {
			return true
		}
	}
	return false
}

// envInt reads an integer environment variable.
func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, errParse := strconv.Atoi(raw)
	if errParse != nil {
		return 0, false
	}
	return v, true
}

// splitList splits a comma-separated value into trimmed non-empty entries.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
