// Package logbook keeps the append-only run history under .converge/logs.
// Every runner invocation writes its lifecycle here; the file outlives
// individual runs so operators can reconstruct what happened on a box.
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook persists run progress to a simple text file. Entries are written
// with an open-append-close cycle so concurrent converge processes sharing a
// project interleave lines instead of clobbering each other.
type Logbook struct {
	path  string
	scope string
	mu    sync.Mutex
}

// New creates a logbook that writes to the provided path.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Logbook{path: path}, nil
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Scoped returns a view of the same logbook whose entries carry a tag,
// typically a run ID, so interleaved runs stay distinguishable.
func (l *Logbook) Scoped(tag string) *Logbook {
	if l == nil {
		return nil
	}
	return &Logbook{path: l.path, scope: strings.TrimSpace(tag)}
}

// Append writes a single entry to the logbook.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, " %-5s ", string(level))
	if l.scope != "" {
		fmt.Fprintf(&b, "[%s] ", l.scope)
	}
	b.WriteString(strings.TrimSpace(message))
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(b.String())
}

// Tail returns up to maxLines of the most recent log entries. Memory stays
// bounded by maxLines regardless of how large the logbook has grown.
func (l *Logbook) Tail(maxLines int) []string {
	if l == nil || maxLines <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer file.Close()

	ring := make([]string, maxLines)
	count := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		ring[count%maxLines] = scanner.Text()
		count++
	}
	if count == 0 {
		return nil
	}
	if count <= maxLines {
		return ring[:count]
	}
	out := make([]string, 0, maxLines)
	for i := count - maxLines; i < count; i++ {
		out = append(out, ring[i%maxLines])
	}
	return out
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}
