package logging

import (
	"os"
	"strings"
	"testing"

	"github.com/lumenflow/lumenflow/internal/paths"
)

func TestNewCreatesLogFileUnderStateDir(t *testing.T) {
	layout := paths.New(t.TempDir())
	logger, err := New(layout, LevelInfo)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(layout.LogPath()); err != nil {
		t.Fatalf("expected log file to exist: %v", err)
	}
}

func TestPrintfWritesTimestampedLine(t *testing.T) {
	layout := paths.New(t.TempDir())
	logger, err := New(layout, LevelInfo)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Printf("claimed %s", "WU-1")
	logger.Close()

	data, err := os.ReadFile(layout.LogPath())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "INFO claimed WU-1") {
		t.Fatalf("expected formatted info line, got %q", data)
	}
}

func TestDebugfIsSuppressedBelowMinimumLevel(t *testing.T) {
	layout := paths.New(t.TempDir())
	logger, err := New(layout, LevelWarn)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	logger.Debugf("should not appear")
	logger.Warnf("should appear")
	logger.Close()

	data, err := os.ReadFile(layout.LogPath())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if strings.Contains(string(data), "should not appear") {
		t.Fatalf("expected debug line to be suppressed, got %q", data)
	}
	if !strings.Contains(string(data), "WARN should appear") {
		t.Fatalf("expected warn line to be present, got %q", data)
	}
}
