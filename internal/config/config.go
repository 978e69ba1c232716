// Package config reads process settings from the environment, after
// loading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string
	LogLevel    string
	LogFile     string

	Storage     string
	PostgresDSN string
	// RedisAddr selects the redis idempotency store; empty keeps it in memory.
	RedisAddr      string
	IdempotencyTTL time.Duration

	// KafkaBrokers enables the kafka publisher when non-empty.
	KafkaBrokers     []string
	KafkaTopicPrefix string

	RetryMaxAttempts     uint
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	OTelStdout         bool
	LowStockDefault    uint
	GatewaySuccessRate float64
	// DemoCheckout seeds stock and places one order at start-up.
	DemoCheckout bool
}

// Load reads .env (if present) and then the environment. Variables already
// set in the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()
	return fromEnv()
}

func fromEnv() (Config, error) {
	p := parser{}
	cfg := Config{
		ServiceName: getenv("SERVICE_NAME", "minishop-commerce"),
		Env:         getenv("ENV", "dev"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		LogFile:     os.Getenv("LOG_FILE"),

		Storage:        strings.ToLower(getenv("STORAGE", StorageMemory)),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		IdempotencyTTL: p.duration("IDEMPOTENCY_TTL", 24*time.Hour),

		KafkaBrokers:     splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicPrefix: getenv("KAFKA_TOPIC_PREFIX", "minishop."),

		RetryMaxAttempts:     p.uint("RETRY_MAX_ATTEMPTS", 5),
		RetryInitialInterval: p.duration("RETRY_INITIAL_INTERVAL", 10*time.Millisecond),
		RetryMaxInterval:     p.duration("RETRY_MAX_INTERVAL", 250*time.Millisecond),

		OTelStdout:         p.bool("OTEL_STDOUT", false),
		LowStockDefault:    p.uint("LOW_STOCK_DEFAULT", 5),
		GatewaySuccessRate: p.float("GATEWAY_SUCCESS_RATE", 0.9),
		DemoCheckout:       p.bool("DEMO_CHECKOUT", false),
	}
	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return errors.New("config: POSTGRES_DSN is required when STORAGE=postgres")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE %q", c.Storage)
	}
	if c.RetryMaxAttempts == 0 {
		return errors.New("config: RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.GatewaySuccessRate < 0 || c.GatewaySuccessRate > 1 {
		return fmt.Errorf("config: GATEWAY_SUCCESS_RATE %v out of [0,1]", c.GatewaySuccessRate)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parser keeps the first malformed variable.
type parser struct{ err error }

func (p *parser) fail(k, v string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config: %s=%q: %w", k, v, err)
	}
}

func (p *parser) uint(k string, def uint) uint {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return uint(n)
}

func (p *parser) duration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return d
}

func (p *parser) bool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return b
}

func (p *parser) float(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return f
}
