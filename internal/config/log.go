package config

import (
	"io"
	"log/slog"
)

// SetupLog installs a text slog logger on w as the default and returns it.
// The returned LevelVar lets commands raise verbosity after flags are parsed.
func SetupLog(cfg *Config, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	var lv slog.LevelVar
	lv.Set(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &lv}))
	slog.SetDefault(logger)
	return logger, &lv
}
