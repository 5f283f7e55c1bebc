// Package logging configures zerolog and carries per-request log fields.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	userIDKey    contextKey = "user_id"
	fieldsKey    contextKey = "request_fields"
)

// requestFields collects values that inner handlers learn after the outer
// middleware has already captured its context.
type requestFields struct {
	userID int64
}

// Config holds logging configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

// New creates a logger for cfg. Unknown levels fall back to info.
func New(cfg Config) zerolog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", "songshare").
		Logger()
}

// SetGlobal installs logger as the package-level zerolog logger.
func SetGlobal(logger zerolog.Logger) {
	log.Logger = logger
}

// WithRequestID stores the request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithRequestFields attaches a holder for fields set further down the handler
// chain. Loggers built from ctx or any context derived from it see them.
func WithRequestFields(ctx context.Context) context.Context {
	return context.WithValue(ctx, fieldsKey, &requestFields{})
}

// WithUserID stores the logged-in user id in ctx and records it in the
// request holder, if one is attached.
func WithUserID(ctx context.Context, id int64) context.Context {
	if f, ok := ctx.Value(fieldsKey).(*requestFields); ok {
		f.userID = id
	}
	return context.WithValue(ctx, userIDKey, id)
}

func userID(ctx context.Context) (int64, bool) {
	if id, ok := ctx.Value(userIDKey).(int64); ok {
		return id, true
	}
	if f, ok := ctx.Value(fieldsKey).(*requestFields); ok && f.userID != 0 {
		return f.userID, true
	}
	return 0, false
}

// FromContext returns the global logger enriched with the request id and user
// id found in ctx.
func FromContext(ctx context.Context) *zerolog.Logger {
	lc := log.With()
	if id := RequestID(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	if uid, ok := userID(ctx); ok {
		lc = lc.Int64("user_id", uid)
	}
	logger := lc.Logger()
	return &logger
}
