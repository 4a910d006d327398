package config

import (
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/bufmgr"
	"golang.org/x/exp/slog"
)

var levelNames = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ParseLevel converts debug, info, warn or error to a log level
func ParseLevel(name string) (slog.Level, error) {
	level, ok := levelNames[strings.ToLower(name)]
	if !ok {
		return 0, errors.Wrapf(bufmgr.ErrInvalidArgument, "unknown log level %q", name)
	}
	return level, nil
}

// NewLogger builds a text logger writing records at or above level to w
func NewLogger(level string, w io.Writer) (*slog.Logger, error) {
	parsed, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parsed})), nil
}

// NewProfilerLogger opens the memory profiler log at path, truncating it, and returns a JSON
// logger over it together with the function that closes the file. An empty path returns a nil
// logger.
func NewProfilerLogger(path string) (*slog.Logger, func() error, error) {
	if path == "" {
		return nil, func() error { return nil }, nil
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening memory profiler log %s", path)
	}

	return slog.New(slog.NewJSONHandler(file, nil)), file.Close, nil
}
