package config

import (
	"strings"
	"testing"
	"time"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://gw:pw@localhost:5432/gw")
	t.Setenv("CLICKHOUSE_URL", "clickhouse://localhost:9000/analytics")
	t.Setenv("ENCRYPTION_KEY", testKey)
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, errLoad := Load()
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.RequestTimeout != 600*time.Second {
		t.Fatalf("default timeout = %s", cfg.RequestTimeout)
	}
	if cfg.CreditsPerCostUnit != 2_000_000 {
		t.Fatalf("default credit multiplier = %d", cfg.CreditsPerCostUnit)
	}
	if cfg.SpendFlushInterval != 5*time.Second || cfg.SpendBatchSize != 500 {
		t.Fatalf("spend defaults wrong: %s / %d", cfg.SpendFlushInterval, cfg.SpendBatchSize)
	}
	if !cfg.IsFreeModel("qwen/qwen-2.5-7b-instruct") {
		t.Fatalf("default free list missing: %v", cfg.FreeAllowedModels)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATEWAY_REQUEST_TIMEOUT", "1500")
	t.Setenv("FREE_ALLOWED_MODELS", "a-model, b-model ,")
	t.Setenv("REDIS_HOST", "kv.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("DEFAULT_RATE_LIMIT_RPM", "25")

	cfg, errLoad := Load()
	if errLoad != nil {
		t.Fatalf("load: %v", errLoad)
	}
	if cfg.RequestTimeout != 1500*time.Millisecond {
		t.Fatalf("timeout env is milliseconds, got %s", cfg.RequestTimeout)
	}
	if len(cfg.FreeAllowedModels) != 2 || !cfg.IsFreeModel("b-model") {
		t.Fatalf("free list parsing broken: %v", cfg.FreeAllowedModels)
	}
	if cfg.IsFreeModel("qwen/qwen-2.5-7b-instruct") {
		t.Fatalf("explicit free list must replace the default")
	}
	if cfg.Redis.Addr() != "kv.internal:6380" {
		t.Fatalf("redis addr = %s", cfg.Redis.Addr())
	}
	if cfg.DefaultRateLimitRPM != 25 {
		t.Fatalf("rpm = %d", cfg.DefaultRateLimitRPM)
	}
}

func TestLoadRejectsMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DATABASE_URL", "")
	if _, errLoad := Load(); errLoad == nil {
		t.Fatalf("missing DATABASE_URL must be fatal")
	}

	setRequiredEnv(t)
	t.Setenv("ENCRYPTION_KEY", "too-short")
	if _, errLoad := Load(); errLoad == nil {
		t.Fatalf("bad encryption key length must be fatal")
	}

	setRequiredEnv(t)
	t.Setenv("ENCRYPTION_KEY", strings.Repeat("z", 64))
	if _, errLoad := Load(); errLoad == nil {
		t.Fatalf("non-hex encryption key must be fatal")
	}
}

func TestRedisAddrDefaults(t *testing.T) {
	var r RedisConfig
	if r.Addr() != "127.0.0.1:6379" {
		t.Fatalf("default addr = %s", r.Addr())
	}
}
