// Package logging builds the slog handlers used by every envbridge component.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Format selects the handler encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// levelSettings maps a textual level onto the charmbracelet level and the
// caller/timestamp decorations that go with it.
type levelSettings struct {
	level           log.Level
	slogLevel       slog.Level
	reportCaller    bool
	reportTimestamp bool
}

func parseLevel(logLevel string) levelSettings {
	switch strings.ToLower(logLevel) {
	case "trace":
		return levelSettings{log.DebugLevel, slog.LevelDebug, true, true}
	case "debug":
		return levelSettings{log.DebugLevel, slog.LevelDebug, false, true}
	case "warn", "warning":
		return levelSettings{log.WarnLevel, slog.LevelWarn, false, false}
	case "error":
		return levelSettings{log.ErrorLevel, slog.LevelError, false, false}
	default:
		return levelSettings{log.InfoLevel, slog.LevelInfo, false, false}
	}
}

// SetupHandlerText returns a charmbracelet text handler. A nil writer means stderr,
// which keeps stdout free for operation results.
func SetupHandlerText(logLevel string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stderr
	}
	s := parseLevel(logLevel)
	return log.NewWithOptions(writer, log.Options{
		ReportTimestamp: s.reportTimestamp,
		ReportCaller:    s.reportCaller,
		Level:           s.level,
	})
}

// SetupHandlerJSON returns a JSON slog handler. A nil writer means stderr.
func SetupHandlerJSON(logLevel string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stderr
	}
	s := parseLevel(logLevel)
	return slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:     s.slogLevel,
		AddSource: s.reportCaller,
	})
}

// NewHandler picks the handler for the given format.
func NewHandler(format Format, logLevel string, writer io.Writer) slog.Handler {
	if Format(strings.ToLower(string(format))) == FormatJSON {
		return SetupHandlerJSON(logLevel, writer)
	}
	return SetupHandlerText(logLevel, writer)
}

// SetupLogger installs the default logger.
func SetupLogger(format Format, logLevel string, writer io.Writer) *slog.Logger {
	logger := slog.New(NewHandler(format, logLevel, writer))
	slog.SetDefault(logger)
	return logger
}
