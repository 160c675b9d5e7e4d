// Package logging configures the global zerolog logger of tweetfetch.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON lines.
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns the configuration of unattended runs: JSON at info
// level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// DevelopmentConfig returns the configuration of the --development-mode
// flag: colored console output at debug level.
func DevelopmentConfig() Config {
	return Config{
		Level:  LevelDebug,
		Pretty: true,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.DateTime}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// ParseLevel validates a level name from configuration.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
	}
}

func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: per request and per page detail
//   - Quota state merged from response headers
//   - Pages fetched, chunks fetched
//   - Normalization gaps (reference with neither object nor error)
//
// Info: job lifecycle
//   - Job start, resume from checkpoint, job complete with counts
//   - Request succeeded after retry
//   - Metrics server startup
//
// Warn: the run continues but slower or degraded
//   - Quota exhausted, waiting for the next window
//   - Retry after backoff
//   - Non-2xx responses before classification
//   - Checkpoint store errors
//
// Error: the current request, stream or conversation is abandoned
//   - Request failed (client error, retries exhausted, fatal)
//   - Pagination aborted, with the resume cursor
//   - Endpoint missing from the quota table
//
// Context Fields:
//   - component: ratelimit, client, pagination, batch_fetcher, scraper
//   - endpoint: API endpoint path (e.g. "tweets/search/all")
//   - status: HTTP status code
//   - error_class: client, rate_limit, server, network, fatal
//   - remaining, reset_at: quota window state
//   - cursor, page: pagination position
//   - run_id: scraper run identifier stored with checkpoints
