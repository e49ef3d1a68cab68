// Package logging writes diagnostic lines to .converge/logs/converge.log so
// users can inspect failures after the terminal session is gone. It stays
// out of the console output path: progress lines go to stdout through the
// runner's printer, diagnostics land here.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/converge/internal/config"
)

// Logger appends timestamped lines to the project log file.
type Logger struct {
	mu     *sync.Mutex
	file   *os.File
	prefix string
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.ConvergeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "converge.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{mu: &sync.Mutex{}, file: f}, nil
}

// Named returns a logger writing to the same file with a component prefix,
// so runner, bridge, and module lines stay tellable apart.
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return nil
	}
	component = strings.TrimSpace(component)
	if component == "" {
		return l
	}
	return &Logger{mu: l.mu, file: l.file, prefix: component + ": "}
}

// Close releases the file handle. Named sub-loggers share it, so close only
// the root logger.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single timestamped line to the log file.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	timestamp := time.Now().Format(time.RFC3339)

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "[%s] %s%s\n", timestamp, l.prefix, line)
}