package observability

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger builds the service-wide JSON logger. Records are stamped with the
// trace and request ids found on the context they are logged with.
func NewLogger(env, service string) *slog.Logger {
	return newLogger(os.Stdout, env, service)
}

func newLogger(w io.Writer, env, service string) *slog.Logger {
	level := slog.LevelInfo

	switch env {
	case "dev":
		level = slog.LevelDebug
	case "test":
		level = slog.LevelWarn
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	log := slog.New(NewTraceHandler(handler))
	if service != "" {
		log = log.With("service", service)
	}
	return log
}
