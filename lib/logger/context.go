// Package logger carries a request-scoped *slog.Logger through a context.Context.
package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const loggerKey contextKey = "procbridge-logger"

// AddToContext returns a copy of ctx carrying logger.
func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger carried by ctx, or slog.Default() if none was set.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
