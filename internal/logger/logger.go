package logger

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config selects the level and the output sink of the process logger.
type Config struct {
	Level     string
	Output    string // stdout (default) or file
	FilePath  string
	MaxSizeMB int
	MaxFiles  int
}

type contextKey string

const (
	loggerKey        contextKey = "logger"
	correlationIDKey contextKey = "correlation_id"
)

// New creates a zerolog.Logger with the specified level and JSON output on
// stdout. If the level string is invalid, it defaults to info.
func New(level string) zerolog.Logger {
	return newWithWriter(level, os.Stdout)
}

// NewFromConfig creates a zerolog.Logger from cfg. Output "file" writes to a
// rotating file via lumberjack; any other value writes to stdout.
func NewFromConfig(cfg Config) zerolog.Logger {
	var writer io.Writer
	switch cfg.Output {
	case "file":
		writer = NewFileWriter(FileConfig{
			Path:      cfg.FilePath,
			MaxSizeMB: cfg.MaxSizeMB,
			MaxFiles:  cfg.MaxFiles,
		})
	default:
		writer = os.Stdout
	}

	return newWithWriter(cfg.Level, writer)
}

func newWithWriter(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "notification-relay").
		Logger()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithCorrelationID stores a correlation ID in the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext retrieves the correlation ID from the context.
// Returns an empty string if not set.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext retrieves the logger from the context. If a correlation ID is
// present, it is attached to the returned logger. If no logger is found
// in the context, a default info-level logger is returned.
func FromContext(ctx context.Context) zerolog.Logger {
	var log zerolog.Logger

	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		log = l
	} else {
		log = New("info")
	}

	if id := CorrelationIDFromContext(ctx); id != "" {
		log = log.With().Str("correlation_id", id).Logger()
	}

	return log
}

// NewCorrelationID generates a new UUID-based correlation ID.
func NewCorrelationID() string {
	return uuid.New().String()
}
