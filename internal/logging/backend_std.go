package logging

import "log/slog"

func newStdHandler(cfg Config, level slog.Level) slog.Handler {
	return slog.NewTextHandler(cfg.Output, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	})
}
