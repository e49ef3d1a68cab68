package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/converge/internal/config"
)

func TestPrintfWritesTimestampedLines(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Printf("hello %s", "world")
	logger.Named("bridge").Printf("listening")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, config.ConvergeDir, "logs", "converge.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "hello world") {
		t.Errorf("unexpected first line: %s", lines[0])
	}
	if !strings.Contains(lines[1], "bridge: listening") {
		t.Errorf("component prefix missing: %s", lines[1])
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Printf("ignored")
	if logger.Named("x") != nil {
		t.Fatal("nil logger should stay nil when named")
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close on nil: %v", err)
	}
}
