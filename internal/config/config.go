package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/marketsim/internal/domain"
)

// Scenarios the simulator knows how to populate.
const (
	ScenarioFixed   = "fixed"
	ScenarioCompany = "company"
)

// Config holds all runtime configuration for the market simulator.
type Config struct {
	Port     int
	LogLevel string

	Iterations   int64
	TickInterval time.Duration // 0 runs free
	PollInterval time.Duration
	StartPaused  bool

	TickSize     decimal.Decimal
	OrderFee     decimal.Decimal
	Seed         uint64
	Symbols      []string
	Scenario     string
	NoiseTraders int
	EventBuffer  int

	DatabaseURL string // empty keeps the trade log in memory
	RedisURL    string // empty disables the trade cache
	RedisTTL    time.Duration

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:    getStr("LOG_LEVEL", "info"),
		Scenario:    getStr("SCENARIO", ScenarioFixed),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Symbols:     getList("SYMBOLS", []string{"AAAA", "BBBB", "CCCC"}),
	}
	var err error

	if cfg.Port, err = getInt("PORT", 8080); err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	if !isValidLogLevel(cfg.LogLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", cfg.LogLevel)
	}

	if cfg.Iterations, err = getInt64("ITERATIONS", 1000); err != nil {
		return nil, fmt.Errorf("invalid ITERATIONS: %w", err)
	}
	if cfg.Iterations <= 0 {
		return nil, fmt.Errorf("invalid ITERATIONS: %d, must be positive", cfg.Iterations)
	}
	if cfg.TickInterval, err = getDuration("TICK_INTERVAL", 100*time.Millisecond); err != nil {
		return nil, fmt.Errorf("invalid TICK_INTERVAL: %w", err)
	}
	if cfg.TickInterval < 0 {
		return nil, fmt.Errorf("invalid TICK_INTERVAL: %v, must not be negative", cfg.TickInterval)
	}
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", 5*time.Millisecond); err != nil {
		return nil, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
	}
	if cfg.StartPaused, err = getBool("START_PAUSED", false); err != nil {
		return nil, fmt.Errorf("invalid START_PAUSED: %w", err)
	}

	if cfg.TickSize, err = getDecimal("TICK_SIZE", decimal.New(5, -2)); err != nil {
		return nil, fmt.Errorf("invalid TICK_SIZE: %w", err)
	}
	if !cfg.TickSize.IsPositive() {
		return nil, fmt.Errorf("invalid TICK_SIZE: %s: %w", cfg.TickSize, domain.ErrInvalidTickSize)
	}
	if cfg.OrderFee, err = getDecimal("ORDER_FEE", decimal.Zero); err != nil {
		return nil, fmt.Errorf("invalid ORDER_FEE: %w", err)
	}
	if cfg.OrderFee.IsNegative() {
		return nil, fmt.Errorf("invalid ORDER_FEE: %s, must not be negative", cfg.OrderFee)
	}
	seed, err := getInt64("SEED", 1)
	if err != nil || seed < 0 {
		return nil, fmt.Errorf("invalid SEED: must be a non-negative integer")
	}
	cfg.Seed = uint64(seed)

	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("invalid SYMBOLS: at least one symbol is required")
	}
	if cfg.Scenario != ScenarioFixed && cfg.Scenario != ScenarioCompany {
		return nil, fmt.Errorf("invalid SCENARIO: %q, must be one of: fixed, company", cfg.Scenario)
	}
	if cfg.NoiseTraders, err = getInt("NOISE_TRADERS", 10); err != nil || cfg.NoiseTraders < 0 {
		return nil, fmt.Errorf("invalid NOISE_TRADERS: must be a non-negative integer")
	}
	if cfg.EventBuffer, err = getInt("EVENT_BUFFER", 256); err != nil || cfg.EventBuffer <= 0 {
		return nil, fmt.Errorf("invalid EVENT_BUFFER: must be a positive integer")
	}

	if cfg.RedisTTL, err = getDuration("REDIS_TTL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("invalid REDIS_TTL: %w", err)
	}
	if cfg.ReadTimeout, err = getDuration("READ_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}
	if cfg.WriteTimeout, err = getDuration("WRITE_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}
	if cfg.IdleTimeout, err = getDuration("IDLE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseBool(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func getDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return decimal.NewFromString(v)
}

// getList splits a comma-separated value into normalized, de-duplicated
// symbols.
func getList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(v, ",") {
		s := domain.NormalizeSymbol(part)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
