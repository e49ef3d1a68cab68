package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleReport(playbook string) *RunReport {
	r := NewRunReport("run-1", playbook, false, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	r.FinishedAt = r.StartedAt.Add(42 * time.Second)
	r.Record(TaskRecord{Play: "web", Task: "install nginx", Host: "web01", Module: "pkg", Status: StatusChanged})
	r.Record(TaskRecord{Play: "web", Task: "start nginx", Host: "web01", Module: "service", Status: StatusOK})
	r.Record(TaskRecord{Play: "web", Task: "install nginx", Host: "web02", Module: "pkg", Status: StatusFailed, Msg: "no package nginx"})
	r.Record(TaskRecord{Play: "db", Task: "mount data", Host: "db01", Module: "mount", Status: StatusSkipped})
	return r
}

func TestRecordAggregatesStats(t *testing.T) {
	r := sampleReport("site.yml")

	web01 := r.Stats["web01"]
	if web01.OK != 2 || web01.Changed != 1 || web01.Failed != 0 {
		t.Fatalf("web01 stats wrong: %+v", web01)
	}
	web02 := r.Stats["web02"]
	if web02.Failed != 1 {
		t.Fatalf("web02 stats wrong: %+v", web02)
	}
	if got := r.FailedHosts(); len(got) != 1 || got[0] != "web02" {
		t.Fatalf("failed hosts wrong: %v", got)
	}
	if !r.Failed() {
		t.Fatal("run with a failed host must report Failed")
	}
}

func TestIgnoredFailuresDoNotFailTheRun(t *testing.T) {
	r := NewRunReport("run-2", "site.yml", false, time.Now())
	r.Record(TaskRecord{Play: "web", Task: "optional thing", Host: "web01", Status: StatusFailed, Ignored: true})

	if r.Failed() {
		t.Fatal("ignored failure must not fail the run")
	}
	if r.Stats["web01"].Ignored != 1 {
		t.Fatalf("ignored counter not tracked: %+v", r.Stats["web01"])
	}
}

func TestRecapLinesSortedByHost(t *testing.T) {
	r := sampleReport("site.yml")
	lines := r.RecapLines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 recap lines, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "db01") || !strings.HasPrefix(lines[2], "web02") {
		t.Fatalf("recap not sorted: %v", lines)
	}
	if !strings.Contains(lines[2], "failed=1") {
		t.Fatalf("recap missing failure count: %s", lines[2])
	}
}

func TestStoreSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	playbook := filepath.Join(dir, "site.yml")
	store := NewStore(filepath.Join(dir, "runs"))

	r := sampleReport(playbook)
	if err := store.Save(r); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load("run-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Playbook != playbook || len(loaded.Tasks) != 4 {
		t.Fatalf("loaded report wrong: %+v", loaded)
	}
	if loaded.Stats["web01"].Changed != 1 {
		t.Fatalf("stats lost on round trip: %+v", loaded.Stats)
	}
}

func TestStoreWritesSummaryWithFrontmatter(t *testing.T) {
	dir := t.TempDir()
	playbook := filepath.Join(dir, "site.yml")
	store := NewStore(filepath.Join(dir, "runs"),
		WithClock(func() time.Time { return time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC) }))

	if err := store.Save(sampleReport(playbook)); err != nil {
		t.Fatalf("save: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "runs", "run-1", "summary.md"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	summary, body, err := ParseFrontMatter(content)
	if err != nil {
		t.Fatalf("parse frontmatter: %v", err)
	}
	if summary.RunID != "run-1" || summary.Playbook != playbook {
		t.Fatalf("summary metadata wrong: %+v", summary)
	}
	if len(summary.Failed) != 1 || summary.Failed[0] != "web02" {
		t.Fatalf("summary failed hosts wrong: %v", summary.Failed)
	}
	text := string(body)
	if !strings.Contains(text, "## Recap") || !strings.Contains(text, "no package nginx") {
		t.Fatalf("summary body missing sections:\n%s", text)
	}
}

func TestStoreRetryFileLifecycle(t *testing.T) {
	dir := t.TempDir()
	playbook := filepath.Join(dir, "site.yml")
	store := NewStore(filepath.Join(dir, "runs"))

	if err := store.Save(sampleReport(playbook)); err != nil {
		t.Fatalf("save failing run: %v", err)
	}
	retry := filepath.Join(dir, "site.retry")
	content, err := os.ReadFile(retry)
	if err != nil {
		t.Fatalf("read retry file: %v", err)
	}
	if strings.TrimSpace(string(content)) != "web02" {
		t.Fatalf("retry content wrong: %q", content)
	}

	// A clean follow-up run removes the stale retry file.
	clean := NewRunReport("run-2", playbook, false, time.Now())
	clean.Record(TaskRecord{Play: "web", Task: "install nginx", Host: "web02", Module: "pkg", Status: StatusOK})
	if err := store.Save(clean); err != nil {
		t.Fatalf("save clean run: %v", err)
	}
	if _, err := os.Stat(retry); !os.IsNotExist(err) {
		t.Fatalf("retry file should be removed after clean run, got %v", err)
	}
}

func TestParseFrontMatterErrors(t *testing.T) {
	if _, _, err := ParseFrontMatter(nil); err != ErrMissingFrontMatter {
		t.Fatalf("expected missing frontmatter, got %v", err)
	}
	if _, _, err := ParseFrontMatter([]byte("no fences here")); err != ErrMissingFrontMatter {
		t.Fatalf("expected missing frontmatter, got %v", err)
	}
	if _, _, err := ParseFrontMatter([]byte("---\nconverge:\n  run: \"\"\n---\nbody")); err == nil {
		t.Fatal("expected error for empty run id")
	}
}

func TestRetryPath(t *testing.T) {
	if got := RetryPath("/tmp/site.yml"); got != "/tmp/site.retry" {
		t.Fatalf("unexpected retry path %s", got)
	}
	if got := RetryPath("deploy.yaml"); got != "deploy.retry" {
		t.Fatalf("unexpected retry path %s", got)
	}
}
