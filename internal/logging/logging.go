// Package logging provides structured logging functionality.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File && cfg.FilePath != "" {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stderr
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithOperation adds an operation name to the logger context.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogTrade logs a trade event.
func LogTrade(logger zerolog.Logger, id, symbol, side, origin string, qty, price float64) {
	logger.Info().
		Str("event", "trade").
		Str("trade_id", id).
		Str("symbol", symbol).
		Str("side", side).
		Str("origin", origin).
		Float64("quantity", qty).
		Float64("price", price).
		Msg("Trade executed")
}

// LogSignal logs a signal handed to the execution policy.
func LogSignal(logger zerolog.Logger, symbol, action, origin, reason string, price float64) {
	logger.Debug().
		Str("event", "signal").
		Str("symbol", symbol).
		Str("action", action).
		Str("origin", origin).
		Str("reason", reason).
		Float64("price", price).
		Msg("Signal received")
}

// LogRiskTrigger logs a forced close decided by the risk evaluator.
func LogRiskTrigger(logger zerolog.Logger, symbol, rule string, entry, mark, pnlPct float64) {
	logger.Warn().
		Str("event", "risk").
		Str("symbol", symbol).
		Str("rule", rule).
		Float64("entry", entry).
		Float64("mark", mark).
		Float64("pnl_pct", pnlPct).
		Msg("Risk rule triggered")
}

// LogBar logs a closed bar at debug level.
func LogBar(logger zerolog.Logger, symbol, interval string, closeTime time.Time, closePrice float64) {
	logger.Debug().
		Str("event", "bar").
		Str("symbol", symbol).
		Str("interval", interval).
		Time("close_time", closeTime).
		Float64("close", closePrice).
		Msg("Bar closed")
}

// LogBacktest logs the summary of a finished backtest.
func LogBacktest(logger zerolog.Logger, strategy string, bars, trades int, pnlPct, drawdownPct, sharpe float64) {
	logger.Info().
		Str("event", "backtest").
		Str("strategy", strategy).
		Int("bars", bars).
		Int("trades", trades).
		Float64("pnl_pct", pnlPct).
		Float64("max_drawdown_pct", drawdownPct).
		Float64("sharpe", sharpe).
		Msg("Backtest completed")
}

// LogAPICall logs an API call.
func LogAPICall(logger zerolog.Logger, method, endpoint string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("API call failed")
	} else {
		event.Msg("API call completed")
	}
}
