// Package report persists run artifacts under .converge/runs/. Each run gets
// a directory holding a machine-readable report.json and a human-readable
// summary.md; failed runs additionally leave a .retry file next to the
// playbook so the run can be repeated against only the hosts that failed.
package report

import (
	"fmt"
	"sort"
	"time"
)

// Status values recorded per task execution.
const (
	StatusOK          = "ok"
	StatusChanged     = "changed"
	StatusFailed      = "failed"
	StatusSkipped     = "skipped"
	StatusUnreachable = "unreachable"
)

// TaskRecord captures one module execution on one host.
type TaskRecord struct {
	Play       string        `json:"play"`
	Task       string        `json:"task"`
	Host       string        `json:"host"`
	Module     string        `json:"module"`
	Status     string        `json:"status"`
	Msg        string        `json:"msg,omitempty"`
	Rc         int           `json:"rc,omitempty"`
	Ignored    bool          `json:"ignored,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// HostStats aggregates per-host outcome counts for the recap.
type HostStats struct {
	OK          int `json:"ok"`
	Changed     int `json:"changed"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	Unreachable int `json:"unreachable"`
	Ignored     int `json:"ignored"`
}

// Failures reports whether the host ended the run in a failing state.
func (s HostStats) Failures() bool {
	return s.Failed > 0 || s.Unreachable > 0
}

// RunReport is the full record of a playbook run.
type RunReport struct {
	RunID      string               `json:"run_id"`
	Playbook   string               `json:"playbook"`
	CheckMode  bool                 `json:"check_mode"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Tasks      []TaskRecord         `json:"tasks"`
	Stats      map[string]HostStats `json:"stats"`
}

// NewRunReport starts an empty report for a run.
func NewRunReport(runID, playbook string, checkMode bool, startedAt time.Time) *RunReport {
	return &RunReport{
		RunID:     runID,
		Playbook:  playbook,
		CheckMode: checkMode,
		StartedAt: startedAt.UTC(),
		Stats:     map[string]HostStats{},
	}
}

// Record appends a task record and updates the host's recap counters.
func (r *RunReport) Record(rec TaskRecord) {
	rec.DurationMS = rec.Duration.Milliseconds()
	r.Tasks = append(r.Tasks, rec)

	stats := r.Stats[rec.Host]
	switch rec.Status {
	case StatusOK:
		stats.OK++
	case StatusChanged:
		stats.OK++
		stats.Changed++
	case StatusFailed:
		if rec.Ignored {
			stats.Ignored++
		} else {
			stats.Failed++
		}
	case StatusSkipped:
		stats.Skipped++
	case StatusUnreachable:
		stats.Unreachable++
	}
	r.Stats[rec.Host] = stats
}

// FailedHosts returns the hosts that failed or were unreachable, sorted.
func (r *RunReport) FailedHosts() []string {
	var hosts []string
	for host, stats := range r.Stats {
		if stats.Failures() {
			hosts = append(hosts, host)
		}
	}
	sort.Strings(hosts)
	return hosts
}

// Hosts returns every host that appears in the recap, sorted.
func (r *RunReport) Hosts() []string {
	hosts := make([]string, 0, len(r.Stats))
	for host := range r.Stats {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// Failed reports whether any host ended in a failing state.
func (r *RunReport) Failed() bool {
	return len(r.FailedHosts()) > 0
}

// RecapLines renders one recap line per host in the classic
// "host : ok=2 changed=1 failed=0 ..." form.
func (r *RunReport) RecapLines() []string {
	lines := make([]string, 0, len(r.Stats))
	for _, host := range r.Hosts() {
		stats := r.Stats[host]
		lines = append(lines, fmt.Sprintf(
			"%-24s : ok=%-4d changed=%-4d failed=%-4d skipped=%-4d unreachable=%-4d ignored=%d",
			host, stats.OK, stats.Changed, stats.Failed, stats.Skipped, stats.Unreachable, stats.Ignored))
	}
	return lines
}
