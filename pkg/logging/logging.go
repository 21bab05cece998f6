package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger is the process wide CLI logger.
var Logger *slog.Logger

func init() {
	Logger = New(Options{Level: slog.LevelInfo})
}

type Options struct {
	// Minimum log level (Info, Debug, etc.)
	Level slog.Level
	// Add source file:line
	AddSource bool
	NoColor   bool
	// Defaults to os.Stderr
	Writer io.Writer
}

// New builds a tint backed logger.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      opts.Level,
		TimeFormat: time.RFC3339,
		AddSource:  opts.AddSource,
		NoColor:    opts.NoColor,
	})
	return slog.New(handler)
}
