package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with additional functionality
type Logger struct {
	*logrus.Logger
	serviceName string
	version     string
}

// Config holds logging configuration
type Config struct {
	Level       string `json:"level"`
	Format      string `json:"format"`
	Output      string `json:"output"`
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
}

// ContextKey type for context keys
type ContextKey string

const (
	// CorrelationIDKey is the context key for correlation ID
	CorrelationIDKey ContextKey = "correlation_id"
	// CheckNameKey is the context key for the running check's name
	CheckNameKey ContextKey = "check_name"
	// ConnectorKey is the context key for the connector name
	ConnectorKey ContextKey = "connector"
)

// NewLogger creates a new structured logger
func NewLogger(config *Config) (*Logger, error) {
	if config == nil {
		config = &Config{
			Level:       "info",
			Format:      "json",
			Output:      "stdout",
			ServiceName: "pipewatch",
			Version:     "unknown",
		}
	}

	logger := logrus.New()

	// Set log level
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	// Set formatter
	switch strings.ToLower(config.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	default:
		return nil, fmt.Errorf("unsupported log format: %s", config.Format)
	}

	// Set output
	switch strings.ToLower(config.Output) {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		// Assume it's a file path
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(file)
	}

	return &Logger{
		Logger:      logger,
		serviceName: config.ServiceName,
		version:     config.Version,
	}, nil
}

// WithContext creates a logger with context fields
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithFields(logrus.Fields{
		"service": l.serviceName,
		"version": l.version,
	})

	if correlationID := ctx.Value(CorrelationIDKey); correlationID != nil {
		entry = entry.WithField("correlation_id", correlationID)
	}

	if checkName := ctx.Value(CheckNameKey); checkName != nil {
		entry = entry.WithField("check_name", checkName)
	}

	if connector := ctx.Value(ConnectorKey); connector != nil {
		entry = entry.WithField("connector", connector)
	}

	return entry
}

// WithFields creates a logger with additional fields
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	baseFields := logrus.Fields{
		"service": l.serviceName,
		"version": l.version,
	}

	for k, v := range fields {
		baseFields[k] = v
	}

	return l.Logger.WithFields(baseFields)
}

// WithComponent creates a logger with component field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"component": component,
	})
}

// LogCheckEvent logs a monitoring check event
func (l *Logger) LogCheckEvent(ctx context.Context, event, checkName, connector string, fields logrus.Fields) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"event":      event,
		"check_name": checkName,
		"connector":  connector,
	})

	if fields != nil {
		entry = entry.WithFields(fields)
	}

	entry.Info("Check event")
}

// LogQueryEvent logs a connector query event
func (l *Logger) LogQueryEvent(ctx context.Context, connector, operation string, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"connector":   connector,
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
	})

	if err != nil {
		entry.WithField("error", err.Error()).Warn("Query failed")
		return
	}

	entry.Debug("Query completed")
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}

// WithCorrelationID adds correlation ID to context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// GetCorrelationID retrieves correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if id := ctx.Value(CorrelationIDKey); id != nil {
		return id.(string)
	}
	return ""
}

// SetOutput sets the logger output
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// Global logger instance
var globalLogger *Logger

// init initializes the global logger
func init() {
	var err error
	globalLogger, err = NewLogger(nil)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize global logger: %v", err))
	}
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	return globalLogger
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger *Logger) {
	globalLogger = logger
}

// Info logs an info message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.WithFields(parseKeysAndValues(keysAndValues)).Info(msg)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.WithFields(parseKeysAndValues(keysAndValues)).Warn(msg)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.WithFields(parseKeysAndValues(keysAndValues)).Error(msg)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.WithFields(parseKeysAndValues(keysAndValues)).Debug(msg)
}

// parseKeysAndValues converts key-value pairs to logrus.Fields
func parseKeysAndValues(keysAndValues []interface{}) logrus.Fields {
	fields := make(logrus.Fields)

	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			key := fmt.Sprintf("%v", keysAndValues[i])
			value := keysAndValues[i+1]
			fields[key] = value
		}
	}

	return fields
}
