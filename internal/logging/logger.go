package logging

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

var Logger *log.Logger

// LogLevel represents available log levels
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// Setup configures the global logger. Called once at startup with the level
// and format from the engine configuration.
func Setup(level, format string) {
	Logger = log.New(os.Stderr)

	switch ParseLevel(level) {
	case DebugLevel:
		Logger.SetLevel(log.DebugLevel)
	case InfoLevel:
		Logger.SetLevel(log.InfoLevel)
	case WarnLevel:
		Logger.SetLevel(log.WarnLevel)
	case ErrorLevel:
		Logger.SetLevel(log.ErrorLevel)
	}

	if format == "json" {
		Logger.SetFormatter(log.JSONFormatter)
	}
	Logger.SetReportTimestamp(true)

	log.SetDefault(Logger)
	Logger.Debug("Logger initialized successfully", "level", level, "format", format)
}

// ParseLevel maps a config/env string onto a known level, defaulting to info.
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// GetLogger returns the global logger instance
func GetLogger() *log.Logger {
	if Logger == nil {
		Setup(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	}
	return Logger
}

// WithFields creates a logger with contextual fields
func WithFields(fields ...interface{}) *log.Logger {
	return GetLogger().With(fields...)
}

// WithChunkCoords creates a logger with chunk coordinate context
func WithChunkCoords(chunkX, chunkZ int) *log.Logger {
	return WithFields("chunk_x", chunkX, "chunk_z", chunkZ)
}

// WithWorldCoords creates a logger with world coordinate context
func WithWorldCoords(x, z float64) *log.Logger {
	return WithFields("x", x, "z", z)
}

// WithComponent creates a logger tagged with an engine component name
func WithComponent(name string) *log.Logger {
	return WithFields("component", name)
}
