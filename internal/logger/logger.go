package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	Logger zerolog.Logger
)

type LogLevel string

const (
	// LevelDebug enables debug level logging
	LevelDebug LogLevel = "debug"
	// LevelInfo enables info level logging
	LevelInfo LogLevel = "info"
	// LevelWarn enables warn level logging
	LevelWarn LogLevel = "warn"
	// LevelError enables error level logging
	LevelError LogLevel = "error"
)

func init() {
	// Initialize with a basic JSON writer to stderr
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// Configure sets up the global logger with the specified level and output
func Configure(level LogLevel, isDev bool) {
	var zeroLevel zerolog.Level
	switch level {
	case LevelDebug:
		zeroLevel = zerolog.DebugLevel
	case LevelInfo:
		zeroLevel = zerolog.InfoLevel
	case LevelWarn:
		zeroLevel = zerolog.WarnLevel
	case LevelError:
		zeroLevel = zerolog.ErrorLevel
	default:
		zeroLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(zeroLevel)

	var writer io.Writer = os.Stderr
	if isDev {
		// Use pretty console output for development with a short time format
		writer = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
			NoColor:    false,
			FormatMessage: func(i interface{}) string {
				return fmt.Sprintf("| %s", i)
			},
			FormatLevel: func(i interface{}) string {
				var l string
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						l = "DBG"
					case "info":
						l = "INF"
					case "warn":
						l = "WRN"
					case "error":
						l = "ERR"
					case "fatal":
						l = "FTL"
					default:
						l = strings.ToUpper(ll)
					}
				}
				return l
			},
			FormatTimestamp: func(i interface{}) string {
				if ts, ok := i.(string); ok {
					if t, err := time.Parse(time.RFC3339, ts); err == nil {
						return fmt.Sprintf("%s |", t.Format("15:04:05"))
					}
				}
				return fmt.Sprintf("%s |", i)
			},
		}
	}

	Logger = zerolog.New(writer).With().Timestamp().Logger()

	// Update the global logger
	log.Logger = Logger
}

// GetLogLevelFromEnv returns the log level from AGENTDECK_LOG_LEVEL or a default
func GetLogLevelFromEnv(isDev bool) LogLevel {
	if level := os.Getenv("AGENTDECK_LOG_LEVEL"); level != "" {
		switch strings.ToLower(level) {
		case "debug":
			return LevelDebug
		case "info":
			return LevelInfo
		case "warn", "warning":
			return LevelWarn
		case "error":
			return LevelError
		}
	}
	if isDev {
		return LevelDebug
	}
	return LevelInfo
}

// Debug logs a debug message
func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...interface{}) {
	Logger.Debug().Msgf(format, v...)
}

// Info logs an info message
func Info(msg string) {
	Logger.Info().Msg(msg)
}

// Infof logs a formatted info message
func Infof(format string, v ...interface{}) {
	Logger.Info().Msgf(format, v...)
}

// Warn logs a warning message
func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...interface{}) {
	Logger.Warn().Msgf(format, v...)
}

// Error logs an error message
func Error(msg string) {
	Logger.Error().Msg(msg)
}

// Errorf logs a formatted error message
func Errorf(format string, v ...interface{}) {
	Logger.Error().Msgf(format, v...)
}
