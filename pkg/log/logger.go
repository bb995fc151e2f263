package log

import (
	"log/slog"
	"os"
)

// NewWithLevel constructs the orchestrator's JSON slog.Logger at the given
// level, stamping every record with service, env and version fields
func NewWithLevel(service, env, version string, lvl slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})

	return slog.New(handler).With(
		slog.String("service", service),
		slog.String("env", env),
		slog.String("version", version))
}
