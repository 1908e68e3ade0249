package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/ubuntu/homework-notifier/internal/constants"
)

// SetSlog installs the notifier logger as the default one, writing to stdout.
func SetSlog(level int, jsonLogs bool) {
	slog.SetDefault(NewLogger(os.Stdout, level, jsonLogs))
}

// NewLogger returns a logger writing text, or JSON when jsonLogs is set, to w.
//
// The level follows the verbose flag count: none is constants.DefaultLogLevel, one is Info
// and more is Debug. Debug records also carry their source position. Every record is
// tagged with the command name and version so lines of several notifiers sharing a journal
// can be told apart.
func NewLogger(w io.Writer, level int, jsonLogs bool) *slog.Logger {
	slogLevel := getLevel(level)
	opts := &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: slogLevel <= slog.LevelDebug,
	}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if jsonLogs {
		h = slog.NewJSONHandler(w, opts)
	}

	return slog.New(h).With("service", constants.CmdName, "version", constants.Version)
}

func getLevel(level int) slog.Level {
	switch level {
	case 0:
		return constants.DefaultLogLevel
	case 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
