// Package logger provides structured logging configuration for the edge service
// with support for different log levels, formats, and output destinations.
package logger

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

type correlationIDKey struct{}

// CorrelationIDField is the log field carrying the request correlation id.
const CorrelationIDField = "correlation_id"

// New creates a new configured logrus logger instance with the specified
// log level, format, and output destination.
func New(level, format, output string) *logrus.Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)
	logger.SetFormatter(formatter(format))

	switch strings.ToLower(output) {
	case "stdout", "":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		file, fileErr := openLogFile(output)
		if fileErr != nil {
			logger.SetOutput(os.Stdout)
			logger.WithError(fileErr).Warn("Failed to open log file, using stdout")
		} else {
			logger.SetOutput(io.MultiWriter(os.Stdout, file))
		}
	}

	return logger
}

// NewWithConfig builds a logger from LoggingConfig. With dual output enabled the
// console uses ConsoleFormat and FilePath receives every entry in FileFormat.
func NewWithConfig(cfg *config.LoggingConfig) *logrus.Logger {
	if !cfg.EnableDualOutput || cfg.FilePath == "" {
		return New(cfg.Level, cfg.Format, cfg.Output)
	}

	logger := New(cfg.Level, cfg.ConsoleFormat, "stdout")

	file, err := openLogFile(cfg.FilePath)
	if err != nil {
		logger.WithError(err).Warn("Failed to open log file, console output only")
		return logger
	}

	logger.AddHook(&fileHook{writer: file, formatter: formatter(cfg.FileFormat)})
	return logger
}

// SetCorrelationID stores a correlation id on the context.
func SetCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// GetCorrelationID returns the correlation id stored on the context, if any.
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

// WithCorrelationID returns an entry tagged with the context's correlation id.
func WithCorrelationID(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	entry := logrus.NewEntry(logger)
	if id := GetCorrelationID(ctx); id != "" {
		entry = entry.WithField(CorrelationIDField, id)
	}
	return entry
}

// MaskSecret shortens a token or session id for logging.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func formatter(format string) logrus.Formatter {
	switch strings.ToLower(format) {
	case "text":
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		}
	default:
		return &logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		}
	}
}

func openLogFile(path string) (*os.File, error) {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return nil, os.ErrPermission
	}

	// #nosec G304 -- path is cleaned and traversal is rejected above
	return os.OpenFile(cleanPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}

type fileHook struct {
	writer    io.Writer
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}
