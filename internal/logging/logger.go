// Package logging writes the runtime JSONL log under the XDG state directory.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// maxLogBytes is the size at which New moves the current log aside to
// log.jsonl.1, replacing any older rotation.
const maxLogBytes = 4 << 20

type Options struct {
	// Debug lowers the level so state transitions and wire events are logged.
	Debug bool
	// Mirror, when set, receives a copy of every record.
	Mirror io.Writer
}

// Runtime is an open logger plus the file behind it.
type Runtime struct {
	Logger *slog.Logger
	Path   string
	file   *os.File
}

func (r Runtime) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// New opens (creating or rotating as needed) the log file and returns a JSON
// logger tagged with the app name and pid.
func New(opts Options) (Runtime, error) {
	path, err := resolveLogPath()
	if err != nil {
		return Runtime{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return Runtime{}, fmt.Errorf("create log dir: %w", err)
	}
	if err := rotate(path, maxLogBytes); err != nil {
		return Runtime{}, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return Runtime{}, fmt.Errorf("open log: %w", err)
	}

	out := io.Writer(file)
	if opts.Mirror != nil {
		out = io.MultiWriter(file, opts.Mirror)
	}

	var level slog.LevelVar
	if opts.Debug {
		level.Set(slog.LevelDebug)
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: &level})).
		With("app", "parley", "pid", os.Getpid())
	return Runtime{Logger: logger, Path: path, file: file}, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func rotate(path string, limit int64) error {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("stat log: %w", err)
	case info.Size() < limit:
		return nil
	}
	if err := os.Rename(path, path+".1"); err != nil {
		return fmt.Errorf("rotate log: %w", err)
	}
	return nil
}

func resolveLogPath() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "parley", "log.jsonl"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve log location: %w", err)
	}
	return filepath.Join(home, ".local", "state", "parley", "log.jsonl"), nil
}
