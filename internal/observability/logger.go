package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/agxdata/nyc311-weather-etl/internal/config"
)

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and sets
// it as the slog default. When LOG_FILE is set, output also goes to a
// size-rotated file.
func NewLogger(cfg *config.Config) *slog.Logger {
	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if cfg.LogFile == "" {
		return logger
	}

	out := io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	})
	logger = newLogger(out, enabledLevel(logger.Handler()), cfg.LogFormat)
	slog.SetDefault(logger)
	return logger
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h)
}

// enabledLevel returns the lowest level h accepts.
func enabledLevel(h slog.Handler) slog.Level {
	for _, l := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if h.Enabled(context.Background(), l) {
			return l
		}
	}
	return slog.LevelError
}
