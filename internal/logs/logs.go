// Package logs builds the process logger.
package logs

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// Options configures New.
type Options struct {
	Level slog.Level
	// FilePath, when set, mirrors every record as JSON into this file in
	// addition to the text stream on Stderr.
	FilePath string
	// Stderr defaults to os.Stderr; tests point it elsewhere.
	Stderr io.Writer
}

// New builds a logger that fans out to stderr and, optionally, a JSON log
// file. The returned closer owns the file handle.
func New(opts Options) (*slog.Logger, func() error, error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	handlers := []slog.Handler{
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: opts.Level}),
	}
	closer := func() error { return nil }

	if opts.FilePath != "" {
		f, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: opts.Level}))
		closer = f.Close
	}

	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}
