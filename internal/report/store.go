package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store manages run artifact IO rooted at the project's runs directory.
type Store struct {
	runsDir string
	now     func() time.Time
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for summary timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = clock
	}
}

// NewStore builds a store writing under runsDir, normally .converge/runs.
func NewStore(runsDir string, opts ...StoreOption) *Store {
	store := &Store{
		runsDir: runsDir,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// RunDir returns the artifact directory for a run.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.runsDir, runID)
}

// Save writes report.json and summary.md for the run, plus a .retry file next
// to the playbook when any host failed. A fully successful run removes a stale
// .retry file from an earlier attempt.
func (s *Store) Save(r *RunReport) error {
	if r == nil || r.RunID == "" {
		return fmt.Errorf("report: run id is required")
	}
	dir := s.RunDir(r.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report: create run dir: %w", err)
	}
	if err := s.writeJSON(dir, r); err != nil {
		return err
	}
	if err := s.writeSummary(dir, r); err != nil {
		return err
	}
	return s.writeRetry(r)
}

// Load reads a previously saved report.json.
func (s *Store) Load(runID string) (*RunReport, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(runID), "report.json"))
	if err != nil {
		return nil, fmt.Errorf("report: read report for %s: %w", runID, err)
	}
	var r RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("report: parse report for %s: %w", runID, err)
	}
	return &r, nil
}

func (s *Store) writeJSON(dir string, r *RunReport) error {
	encoded, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("report: encode report for %s: %w", r.RunID, err)
	}
	return os.WriteFile(filepath.Join(dir, "report.json"), encoded, 0o644)
}

func (s *Store) writeSummary(dir string, r *RunReport) error {
	summary := Summary{
		RunID:     r.RunID,
		Playbook:  r.Playbook,
		CheckMode: r.CheckMode,
		Created:   s.now().UTC(),
		Hosts:     r.Hosts(),
		Failed:    r.FailedHosts(),
	}
	content, err := WriteFrontMatter(summary, []byte(renderSummaryBody(r)))
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "summary.md"), content, 0o644)
}

func (s *Store) writeRetry(r *RunReport) error {
	if r.Playbook == "" {
		return nil
	}
	path := RetryPath(r.Playbook)
	failed := r.FailedHosts()
	if len(failed) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("report: remove retry file: %w", err)
		}
		return nil
	}
	content := strings.Join(failed, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("report: write retry file: %w", err)
	}
	return nil
}

// RetryPath returns the .retry file path for a playbook, replacing its
// extension: site.yml becomes site.retry.
func RetryPath(playbookPath string) string {
	ext := filepath.Ext(playbookPath)
	return strings.TrimSuffix(playbookPath, ext) + ".retry"
}

func renderSummaryBody(r *RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", r.RunID)
	fmt.Fprintf(&b, "Playbook: %s\n", r.Playbook)
	if r.CheckMode {
		b.WriteString("Mode: check (no changes applied)\n")
	}
	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	b.WriteString("\n## Recap\n\n")
	for _, line := range r.RecapLines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	failures := failedRecords(r)
	if len(failures) > 0 {
		b.WriteString("\n## Failures\n\n")
		for _, rec := range failures {
			fmt.Fprintf(&b, "- [%s] %s on %s: %s\n", rec.Play, rec.Task, rec.Host, rec.Msg)
		}
	}
	return b.String()
}

func failedRecords(r *RunReport) []TaskRecord {
	var out []TaskRecord
	for _, rec := range r.Tasks {
		if (rec.Status == StatusFailed && !rec.Ignored) || rec.Status == StatusUnreachable {
			out = append(out, rec)
		}
	}
	return out
}
