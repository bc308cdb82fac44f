// Package logging builds the process-wide zerolog root logger from
// configuration. Components derive their own loggers from it with
// With().Str("component", ...).
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"taskrelay/internal/config"

	"github.com/rs/zerolog"
)

// New builds the root logger. Unset fields fall back to JSON on stdout
// at info level. The returned closer is non-nil only for file output;
// the caller owns it.
func New(cfg config.LoggingConfig, app config.AppConfig) (*zerolog.Logger, io.Closer, error) {
	out, closer, err := openOutput(cfg)
	if err != nil {
		return nil, nil, err
	}
	if normalize(cfg.Format) == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	lctx := zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp()
	if app.Name != "" {
		lctx = lctx.Str("app", app.Name)
	}
	if app.Environment != "" {
		lctx = lctx.Str("env", app.Environment)
	}
	if app.Version != "" {
		lctx = lctx.Str("version", app.Version)
	}

	logger := lctx.Logger()
	return &logger, closer, nil
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	switch normalize(cfg.Output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("logging.output=file requires logging.file_path")
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		return file, file, nil
	default:
		return os.Stdout, nil, nil
	}
}

func parseLevel(raw string) zerolog.Level {
	level, err := zerolog.ParseLevel(normalize(raw))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
