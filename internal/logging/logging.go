package logging

import (
	"io"
	"os"
	"time"

	"github.com/aimerfeng/CourseChain/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Setup initializes the global logger based on configuration
func Setup(cfg *config.LoggingConfig, env string) {
	// Set log level
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure time format
	zerolog.TimeFieldFormat = time.RFC3339Nano

	// Configure output based on format and environment
	var output io.Writer
	if cfg.Format == "json" || env == "production" {
		output = os.Stdout
	} else {
		// Pretty console output for development
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
	}

	// Set global logger
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "coursechain").
		Logger()
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger is a Gin middleware for structured request logging
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		latency := time.Since(start)
		requestID := c.GetString("request_id")

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}

		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Str("caller", c.GetString("caller")).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// LogPurchase logs a committed course purchase
func LogPurchase(buyer string, courseID uint64, price, fee, creatorAmount decimal.Decimal) {
	log.Info().
		Str("buyer", buyer).
		Uint64("course_id", courseID).
		Str("price", price.String()).
		Str("platform_fee", fee.String()).
		Str("creator_amount", creatorAmount.String()).
		Msg("Course purchased")
}

// LogRefund logs a refund lifecycle step
func LogRefund(buyer string, courseID uint64, stage string, amount decimal.Decimal) {
	log.Info().
		Str("buyer", buyer).
		Uint64("course_id", courseID).
		Str("stage", stage).
		Str("amount", amount.String()).
		Msg("Refund event")
}

// LogWithdrawal logs a creator or platform withdrawal
func LogWithdrawal(kind, recipient string, amount decimal.Decimal) {
	log.Info().
		Str("kind", kind).
		Str("recipient", recipient).
		Str("amount", amount.String()).
		Msg("Withdrawal event")
}

// LogRewardFailure logs a reward mint that was swallowed so the primary
// transition could stand.
func LogRewardFailure(err error, activity, recipient, instance string) {
	log.Warn().
		Err(err).
		Str("activity", activity).
		Str("recipient", recipient).
		Str("instance", instance).
		Msg("Reward mint failed")
}

// LogSecurityEvent logs security-related events
func LogSecurityEvent(eventType, caller, clientIP, details string) {
	log.Warn().
		Str("event_type", eventType).
		Str("caller", caller).
		Str("client_ip", clientIP).
		Str("details", details).
		Msg("Security event")
}

// LogError logs an error with context
func LogError(err error, requestID, component, operation string) {
	log.Error().
		Err(err).
		Str("request_id", requestID).
		Str("component", component).
		Str("operation", operation).
		Msg("Error occurred")
}

// SanitizeForLog truncates long strings before they reach the log
func SanitizeForLog(data string, maxLen int) string {
	if len(data) > maxLen {
		return data[:maxLen] + "...[truncated]"
	}
	return data
}
