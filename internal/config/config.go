package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aimerfeng/CourseChain/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Events     EventsConfig
	Store      StoreConfig
	JWT        JWTConfig
	Logging    LoggingConfig
	Monitoring MonitoringConfig
	CORS       CORSConfig
	RateLimit  RateLimitConfig
	Ledger     LedgerConfig
	Reward     RewardConfig
	Assignment AssignmentConfig
}

type ServerConfig struct {
	Port         int
	Env          string
	Name         string
	URL          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig points at the Postgres event-log database. Empty disables it.
type DatabaseConfig struct {
	URL string
}

// RedisConfig points at the Redis stream indexers consume. Empty disables it.
type RedisConfig struct {
	URL    string
	Stream string
	MaxLen int64
}

// EventsConfig bounds the in-process event log. Zero keeps every event.
// QueueSize bounds the events waiting for sink delivery.
type EventsConfig struct {
	Retain    int
	QueueSize int
}

// StoreConfig selects the ledger state store. An empty path keeps state in memory.
type StoreConfig struct {
	Path string
}

type JWTConfig struct {
	Secret            string
	Issuer            string
	AccessTokenExpiry time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type MonitoringConfig struct {
	PrometheusEnabled bool
	PrometheusPort    int
}

type CORSConfig struct {
	AllowedOrigins []string
}

// RateLimitConfig throttles mutating requests per caller. Requests == 0 disables it.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// LedgerConfig configures the marketplace ledger
type LedgerConfig struct {
	PlatformFeePercent int64
	MaxFeePercent      int64
	RefundWindow       time.Duration
	AdminAddress       string
	TreasuryAddress    string
}

// RewardConfig configures the reward token. Rates are whole tokens.
type RewardConfig struct {
	Decimals                 int32
	CoursePurchaseRate       decimal.Decimal
	CourseCompletionRate     decimal.Decimal
	ContentCreationRate      decimal.Decimal
	AssignmentCompletionRate decimal.Decimal
}

type AssignmentConfig struct {
	PassingThreshold uint32
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvInt("API_PORT", 8080),
			Env:          getEnv("APP_ENV", "development"),
			Name:         getEnv("APP_NAME", "coursechain"),
			URL:          getEnv("API_URL", "http://localhost:8080"),
			ReadTimeout:  getEnvDuration("API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("API_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("API_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL:    getEnv("REDIS_URL", ""),
			Stream: getEnv("REDIS_EVENT_STREAM", "coursechain:events"),
			MaxLen: int64(getEnvInt("REDIS_STREAM_MAXLEN", 100000)),
		},
		Events: EventsConfig{
			Retain:    getEnvInt("EVENT_LOG_RETAIN", 10000),
			QueueSize: getEnvInt("EVENT_SINK_QUEUE", 4096),
		},
		Store: StoreConfig{
			Path: getEnv("STORE_PATH", ""),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			Issuer:            getEnv("JWT_ISSUER", "coursechain"),
			AccessTokenExpiry: getEnvDuration("JWT_ACCESS_TOKEN_EXPIRY", 15*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Monitoring: MonitoringConfig{
			PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", true),
			PrometheusPort:    getEnvInt("PROMETHEUS_PORT", 9090),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 60),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Ledger: LedgerConfig{
			PlatformFeePercent: int64(getEnvInt("PLATFORM_FEE_PERCENT", 5)),
			MaxFeePercent:      int64(getEnvInt("PLATFORM_FEE_MAX_PERCENT", 30)),
			RefundWindow:       getEnvDuration("REFUND_WINDOW", 30*24*time.Hour),
			AdminAddress:       getEnv("ADMIN_ADDRESS", ""),
			TreasuryAddress:    getEnv("TREASURY_ADDRESS", ""),
		},
		Reward: RewardConfig{
			Decimals:                 int32(getEnvInt("REWARD_TOKEN_DECIMALS", 18)),
			CoursePurchaseRate:       getEnvDecimal("REWARD_COURSE_PURCHASE", decimal.NewFromInt(10)),
			CourseCompletionRate:     getEnvDecimal("REWARD_COURSE_COMPLETION", decimal.NewFromInt(50)),
			ContentCreationRate:      getEnvDecimal("REWARD_CONTENT_CREATION", decimal.NewFromInt(100)),
			AssignmentCompletionRate: getEnvDecimal("REWARD_ASSIGNMENT_COMPLETION", decimal.NewFromInt(25)),
		},
		Assignment: AssignmentConfig{
			PassingThreshold: uint32(getEnvInt("ASSIGNMENT_PASSING_THRESHOLD", 70)),
		},
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present
func (c *Config) Validate() error {
	if c.Ledger.MaxFeePercent < 0 || c.Ledger.MaxFeePercent > 100 {
		return fmt.Errorf("PLATFORM_FEE_MAX_PERCENT must be between 0 and 100")
	}
	if c.Ledger.PlatformFeePercent < 0 || c.Ledger.PlatformFeePercent > c.Ledger.MaxFeePercent {
		return fmt.Errorf("PLATFORM_FEE_PERCENT must be between 0 and %d", c.Ledger.MaxFeePercent)
	}
	if c.Ledger.RefundWindow <= 0 {
		return fmt.Errorf("REFUND_WINDOW must be positive")
	}
	if c.Assignment.PassingThreshold > 100 {
		return fmt.Errorf("ASSIGNMENT_PASSING_THRESHOLD must be at most 100")
	}
	if c.RateLimit.Requests < 0 || (c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0) {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative and RATE_LIMIT_WINDOW must be positive")
	}
	if c.Events.Retain < 0 {
		return fmt.Errorf("EVENT_LOG_RETAIN must not be negative")
	}
	if c.Events.QueueSize < 0 {
		return fmt.Errorf("EVENT_SINK_QUEUE must not be negative")
	}
	if c.Reward.Decimals < 0 || c.Reward.Decimals > 36 {
		return fmt.Errorf("REWARD_TOKEN_DECIMALS must be between 0 and 36")
	}
	for _, rate := range []decimal.Decimal{
		c.Reward.CoursePurchaseRate,
		c.Reward.CourseCompletionRate,
		c.Reward.ContentCreationRate,
		c.Reward.AssignmentCompletionRate,
	} {
		units := c.Reward.TokenUnits(rate)
		if !units.IsPositive() || !units.Equal(units.Truncate(0)) {
			return fmt.Errorf("REWARD_* rates must be positive and whole in base units at %d decimals", c.Reward.Decimals)
		}
	}
	if c.Server.Env == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.Ledger.AdminAddress == "" {
			return fmt.Errorf("ADMIN_ADDRESS is required in production")
		}
		if c.Store.Path == "" {
			return fmt.Errorf("STORE_PATH is required in production")
		}
	}
	return nil
}

// TokenUnits converts a whole-token amount into base units.
func (r RewardConfig) TokenUnits(whole decimal.Decimal) decimal.Decimal {
	return whole.Shift(r.Decimals)
}

// Rates returns the configured reward rates in token base units.
func (r RewardConfig) Rates() models.RewardRates {
	return models.RewardRates{
		CoursePurchase:       r.TokenUnits(r.CoursePurchaseRate),
		CourseCompletion:     r.TokenUnits(r.CourseCompletionRate),
		ContentCreation:      r.TokenUnits(r.ContentCreationRate),
		AssignmentCompletion: r.TokenUnits(r.AssignmentCompletionRate),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
