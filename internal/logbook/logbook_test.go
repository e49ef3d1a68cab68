package logbook

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendAndTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "logbook.log")
	lb, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	lb.Info("play %s started", "site")
	lb.Warn("host %s slow", "web1")
	lb.Error("task failed on %s", "db1")

	lines := lb.Tail(10)
	if len(lines) != 3 {
		t.Fatalf("Tail returned %d lines, want 3", len(lines))
	}
	if !strings.Contains(lines[0], "INFO") || !strings.Contains(lines[0], "play site started") {
		t.Errorf("unexpected first line: %s", lines[0])
	}
	if !strings.Contains(lines[2], "ERROR") {
		t.Errorf("unexpected last line: %s", lines[2])
	}
}

func TestTailLimitsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logbook.log")
	lb, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		lb.Info("entry %d", i)
	}
	lines := lb.Tail(5)
	if len(lines) != 5 {
		t.Fatalf("Tail returned %d lines, want 5", len(lines))
	}
	if !strings.Contains(lines[4], "entry 19") {
		t.Errorf("expected newest entry last, got %s", lines[4])
	}
}

func TestScopedEntriesCarryTag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logbook.log")
	lb, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	lb.Scoped("run-1234").Info("started")
	lb.Info("untagged")

	lines := lb.Tail(2)
	if len(lines) != 2 {
		t.Fatalf("Tail returned %d lines, want 2", len(lines))
	}
	if !strings.Contains(lines[0], "[run-1234] started") {
		t.Errorf("scope tag missing: %s", lines[0])
	}
	if strings.Contains(lines[1], "[") {
		t.Errorf("unscoped entry should have no tag: %s", lines[1])
	}
}

func TestTailOnMissingFile(t *testing.T) {
	lb, err := New(filepath.Join(t.TempDir(), "nope.log"))
	if err != nil {
		t.Fatal(err)
	}
	if lines := lb.Tail(5); lines != nil {
		t.Fatalf("expected nil tail for missing file, got %v", lines)
	}
}

func TestNilLogbookIsSafe(t *testing.T) {
	var lb *Logbook
	lb.Info("ignored")
	if lb.Tail(3) != nil {
		t.Fatal("nil logbook should tail nothing")
	}
	if lb.Path() != "" {
		t.Fatal("nil logbook should have empty path")
	}
}
