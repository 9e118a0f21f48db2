// internal/logging/logger.go
//
// Plain timestamped line logger, merged from the teacher's two
// near-identical loggers (internal/logbook, internal/logging — see
// DESIGN.md's "Adapted, not duplicated" entry) into one package, rooted on
// paths.Layout rather than a hardcoded ".lattice/logs" join so it needs no
// dependency on project-level config.

package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lumenflow/lumenflow/internal/paths"
)

// Level orders log severities from most to least verbose.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (lv Level) String() string {
	switch lv {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger appends timestamped lines to state/logs/lumenflow.log so operators
// can inspect a run's history after the CLI exits.
type Logger struct {
	file    *os.File
	minimum Level
}

// New creates (or reuses) the log file for layout's project, logging at
// minimum and above.
func New(layout *paths.Layout, minimum Level) (*Logger, error) {
	if err := os.MkdirAll(layout.LogsDir(), 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	f, err := os.OpenFile(layout.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{file: f, minimum: minimum}, nil
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single timestamped line at LevelInfo.
func (l *Logger) Printf(format string, args ...any) {
	l.logf(LevelInfo, format, args...)
}

// Debugf, Infof, Warnf, Errorf write a timestamped line at their named level.
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

func (l *Logger) logf(level Level, format string, args ...any) {
	if l == nil || l.file == nil || level < l.minimum {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	timestamp := time.Now().Format(time.RFC3339)
	fmt.Fprintf(l.file, "[%s] %s %s\n", timestamp, level, line)
}
