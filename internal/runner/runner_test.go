package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kingrea/converge/internal/contracts"
	"github.com/kingrea/converge/internal/eventbridge"
	"github.com/kingrea/converge/internal/inventory"
	"github.com/kingrea/converge/internal/module"
	"github.com/kingrea/converge/internal/playbook"
	"github.com/kingrea/converge/internal/report"
	"github.com/kingrea/converge/internal/roles"
	"github.com/kingrea/converge/internal/vault"
)

// probe is a scriptable module that records every invocation. Registering a
// single shared instance lets tests assert on what the runner dispatched.
type probe struct {
	module.Base

	mu    sync.Mutex
	calls []probeCall
}

type probeCall struct {
	Host      string
	CheckMode bool
	Params    map[string]any
}

func newProbe() *probe {
	info := module.Info{ID: "probe", Name: "Probe", Description: "test module", Version: "1.0.0"}
	spec := contracts.Spec{
		Params: map[string]contracts.Param{
			"fail":    {Type: contracts.TypeBool, Default: false},
			"changed": {Type: contracts.TypeBool, Default: false},
			"msg":     {Type: contracts.TypeStr},
			"stdout":  {Type: contracts.TypeStr},
		},
	}
	return &probe{Base: module.NewBase(info, spec)}
}

func (p *probe) Run(ctx *module.RunContext, params map[string]any) module.Result {
	p.mu.Lock()
	p.calls = append(p.calls, probeCall{Host: ctx.Host, CheckMode: ctx.CheckMode, Params: params})
	p.mu.Unlock()

	res := module.Result{}
	if v, _ := params["changed"].(bool); v {
		res.Changed = true
	}
	if v, _ := params["fail"].(bool); v {
		res.Failed = true
	}
	if msg, _ := params["msg"].(string); msg != "" {
		res.Msg = msg
	}
	if out, _ := params["stdout"].(string); out != "" {
		res.Stdout = out
	}
	return res
}

func (p *probe) callsFor(host string) []probeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []probeCall
	for _, call := range p.calls {
		if call.Host == host {
			out = append(out, call)
		}
	}
	return out
}

func (p *probe) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

const testInventory = `
web:
  hosts:
    web01:
    web02:
db:
  hosts:
    db01:
      role: primary
`

func testSetup(t *testing.T, playbookYAML string) (*probe, Options) {
	t.Helper()
	inv, err := inventory.Parse([]byte(testInventory))
	if err != nil {
		t.Fatalf("parse inventory: %v", err)
	}
	pb, err := playbook.Parse([]byte(playbookYAML))
	if err != nil {
		t.Fatalf("parse playbook: %v", err)
	}
	p := newProbe()
	registry := module.NewRegistry()
	registry.MustRegister("probe", func() (module.Module, error) { return p, nil })
	return p, Options{
		Playbook:  pb,
		Inventory: inv,
		Registry:  registry,
	}
}

func run(t *testing.T, opts Options) *report.RunReport {
	t.Helper()
	r, err := New(opts)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return rep
}

func TestRunExecutesTasksOnMatchedHosts(t *testing.T) {
	p, opts := testSetup(t, `
- name: web play
  hosts: web
  tasks:
    - name: first
      probe:
        changed: true
    - name: second
      probe: {}
`)
	var out bytes.Buffer
	opts.Output = &out

	rep := run(t, opts)

	if got := p.callCount(); got != 4 {
		t.Fatalf("expected 4 invocations, got %d", got)
	}
	for _, host := range []string{"web01", "web02"} {
		stats := rep.Stats[host]
		if stats.OK != 2 || stats.Changed != 1 {
			t.Fatalf("%s stats wrong: %+v", host, stats)
		}
	}
	if rep.Failed() {
		t.Fatal("clean run must not be failed")
	}
	text := out.String()
	if !strings.Contains(text, "PLAY [web play]") || !strings.Contains(text, "TASK [first]") {
		t.Fatalf("missing banners:\n%s", text)
	}
	if !strings.Contains(text, "changed: [web01]") || !strings.Contains(text, "PLAY RECAP") {
		t.Fatalf("missing result lines:\n%s", text)
	}
}

func TestFailedHostSkipsRemainingTasks(t *testing.T) {
	p, opts := testSetup(t, `
- hosts: web01
  tasks:
    - name: blow up
      probe:
        fail: true
        msg: boom
    - name: never runs
      probe: {}
`)
	rep := run(t, opts)

	if calls := p.callsFor("web01"); len(calls) != 1 {
		t.Fatalf("expected 1 call before failure, got %d", len(calls))
	}
	if !rep.Failed() {
		t.Fatal("run must be failed")
	}
	if got := rep.FailedHosts(); len(got) != 1 || got[0] != "web01" {
		t.Fatalf("failed hosts wrong: %v", got)
	}
}

func TestIgnoreErrorsContinues(t *testing.T) {
	p, opts := testSetup(t, `
- hosts: web01
  tasks:
    - name: optional
      probe:
        fail: true
      ignore_errors: true
    - name: still runs
      probe: {}
`)
	rep := run(t, opts)

	if calls := p.callsFor("web01"); len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if rep.Failed() {
		t.Fatal("ignored failure must not fail the run")
	}
	if rep.Stats["web01"].Ignored != 1 {
		t.Fatalf("ignored not counted: %+v", rep.Stats["web01"])
	}
}

func TestHandlersRunOnNotifyingHostsOnly(t *testing.T) {
	_, opts := testSetup(t, `
- hosts: web
  tasks:
    - name: change web01 only
      probe:
        changed: true
      when: inventory_hostname == "web01"
      notify: restart thing
  handlers:
    - name: restart thing
      probe:
        msg: restarted
`)
	rep := run(t, opts)

	var handlerHosts []string
	for _, rec := range rep.Tasks {
		if rec.Task == "restart thing" {
			handlerHosts = append(handlerHosts, rec.Host)
		}
	}
	if len(handlerHosts) != 1 || handlerHosts[0] != "web01" {
		t.Fatalf("handler should run on web01 only, got %v", handlerHosts)
	}
}

func TestHandlerNotifiedOnceRunsOnce(t *testing.T) {
	p, opts := testSetup(t, `
- hosts: web01
  tasks:
    - name: one
      probe:
        changed: true
      notify: restart thing
    - name: two
      probe:
        changed: true
      notify: restart thing
  handlers:
    - name: restart thing
      probe: {}
`)
	run(t, opts)

	if got := p.callCount(); got != 3 {
		t.Fatalf("handler must run once despite two notifies, got %d calls", got)
	}
}

func TestTagFilterSkipsTasks(t *testing.T) {
	p, opts := testSetup(t, `
- hosts: web01
  tasks:
    - name: wanted
      probe: {}
      tags: deploy
    - name: unwanted
      probe: {}
      tags: cleanup
    - name: forced
      probe: {}
      tags: always
`)
	opts.Tags = playbook.TagFilter{Select: []string{"deploy"}}
	run(t, opts)

	calls := p.callsFor("web01")
	if len(calls) != 2 {
		t.Fatalf("expected wanted+always, got %d calls", len(calls))
	}
}

func TestWhenConditionSkips(t *testing.T) {
	p, opts := testSetup(t, `
- hosts: db
  tasks:
    - name: primary only
      probe: {}
      when: role == "primary"
    - name: replica only
      probe: {}
      when: role == "replica"
`)
	rep := run(t, opts)

	if calls := p.callsFor("db01"); len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if rep.Stats["db01"].Skipped != 1 {
		t.Fatalf("skip not recorded: %+v", rep.Stats["db01"])
	}
}

func TestRegisterFeedsLaterTasks(t *testing.T) {
	p, opts := testSetup(t, `
- hosts: web01
  tasks:
    - name: produce
      probe:
        stdout: v1.2.3
      register: build
    - name: consume
      probe:
        msg: "version {{ build.stdout }}"
`)
	run(t, opts)

	calls := p.callsFor("web01")
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if got := calls[1].Params["msg"]; got != "version v1.2.3" {
		t.Fatalf("registered var not interpolated: %v", got)
	}
}

func TestLoopRunsPerItem(t *testing.T) {
	p, opts := testSetup(t, `
- hosts: web01
  tasks:
    - name: install packages
      probe:
        msg: "install {{ item }}"
      loop:
        - nginx
        - curl
`)
	rep := run(t, opts)

	calls := p.callsFor("web01")
	if len(calls) != 2 {
		t.Fatalf("expected one call per item, got %d", len(calls))
	}
	if calls[0].Params["msg"] != "install nginx" || calls[1].Params["msg"] != "install curl" {
		t.Fatalf("item var wrong: %+v", calls)
	}
	// Loop aggregates into a single task record.
	if len(rep.Tasks) != 1 {
		t.Fatalf("expected 1 record, got %d", len(rep.Tasks))
	}
}

func TestCheckModeReachesModules(t *testing.T) {
	p, opts := testSetup(t, `
- hosts: web01
  tasks:
    - name: probe
      probe: {}
`)
	opts.CheckMode = true
	rep := run(t, opts)

	calls := p.callsFor("web01")
	if len(calls) != 1 || !calls[0].CheckMode {
		t.Fatalf("check mode not propagated: %+v", calls)
	}
	if !rep.CheckMode {
		t.Fatal("report must note check mode")
	}
}

func TestLimitRestrictsHosts(t *testing.T) {
	p, opts := testSetup(t, `
- hosts: web
  tasks:
    - name: probe
      probe: {}
`)
	opts.Limit = "web02"
	run(t, opts)

	if len(p.callsFor("web01")) != 0 || len(p.callsFor("web02")) != 1 {
		t.Fatalf("limit not applied: %v", p.calls)
	}
}

func TestSerialBatchesFlushHandlersPerBatch(t *testing.T) {
	_, opts := testSetup(t, `
- hosts: web
  serial: 1
  tasks:
    - name: change
      probe:
        changed: true
      notify: restart thing
  handlers:
    - name: restart thing
      probe: {}
`)
	opts.Forks = 1
	rep := run(t, opts)

	// With serial 1 each host finishes its tasks and handlers before the
	// next host starts.
	var order []string
	for _, rec := range rep.Tasks {
		order = append(order, rec.Task+"/"+rec.Host)
	}
	want := []string{"change/web01", "restart thing/web01", "change/web02", "restart thing/web02"}
	if len(order) != len(want) {
		t.Fatalf("unexpected records: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestExtraVarsWinOverInventory(t *testing.T) {
	p, opts := testSetup(t, `
- hosts: db01
  tasks:
    - name: probe
      probe:
        msg: "{{ role }}"
`)
	opts.ExtraVars = map[string]any{"role": "override"}
	run(t, opts)

	calls := p.callsFor("db01")
	if len(calls) != 1 || calls[0].Params["msg"] != "override" {
		t.Fatalf("extra vars did not win: %+v", calls)
	}
}

func TestRoleTasksRunBeforePlayTasks(t *testing.T) {
	dir := t.TempDir()
	roleDir := filepath.Join(dir, "roles", "common", "tasks")
	if err := os.MkdirAll(roleDir, 0o755); err != nil {
		t.Fatal(err)
	}
	tasks := "- name: role task\n  probe:\n    msg: \"{{ greeting }}\"\n"
	if err := os.WriteFile(filepath.Join(roleDir, "main.yml"), []byte(tasks), 0o644); err != nil {
		t.Fatal(err)
	}
	defaults := "greeting: hello\n"
	defaultsDir := filepath.Join(dir, "roles", "common", "defaults")
	if err := os.MkdirAll(defaultsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(defaultsDir, "main.yml"), []byte(defaults), 0o644); err != nil {
		t.Fatal(err)
	}

	p, opts := testSetup(t, `
- hosts: web01
  roles:
    - common
  tasks:
    - name: play task
      probe: {}
`)
	opts.Roles = roles.NewLoader(filepath.Join(dir, "roles"))
	run(t, opts)

	calls := p.callsFor("web01")
	if len(calls) != 2 {
		t.Fatalf("expected role+play calls, got %d", len(calls))
	}
	if calls[0].Params["msg"] != "hello" {
		t.Fatalf("role defaults not applied: %+v", calls[0].Params)
	}
}

func TestRunEmitsEvents(t *testing.T) {
	var mu sync.Mutex
	var events []eventbridge.Event
	_, opts := testSetup(t, `
- name: web play
  hosts: web01
  tasks:
    - name: change something
      probe:
        changed: true
`)
	opts.Events = eventbridge.EventProcessorFunc(func(e eventbridge.Event) error {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		return nil
	})
	run(t, opts)

	mu.Lock()
	defer mu.Unlock()
	types := make([]string, 0, len(events))
	for i, e := range events {
		types = append(types, e.Type)
		if e.Sequence != int64(i+1) {
			t.Fatalf("sequence gap at %d: %+v", i, e)
		}
	}
	want := []string{
		eventbridge.TypeRunStart,
		eventbridge.TypePlayStart,
		eventbridge.TypeTaskStart,
		eventbridge.TypeTaskChanged,
		eventbridge.TypeRunRecap,
	}
	if len(types) != len(want) {
		t.Fatalf("unexpected events: %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}
}

func TestRunSavesReportArtifacts(t *testing.T) {
	dir := t.TempDir()
	_, opts := testSetup(t, `
- hosts: web01
  tasks:
    - name: probe
      probe: {}
`)
	opts.Store = report.NewStore(filepath.Join(dir, "runs"))
	rep := run(t, opts)

	if _, err := os.Stat(filepath.Join(dir, "runs", rep.RunID, "report.json")); err != nil {
		t.Fatalf("report.json missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "runs", rep.RunID, "summary.md")); err != nil {
		t.Fatalf("summary.md missing: %v", err)
	}
}

func TestChangedWhenOverridesModuleResult(t *testing.T) {
	_, opts := testSetup(t, `
- hosts: web01
  tasks:
    - name: noisy but harmless
      probe:
        changed: true
      changed_when: false
    - name: quiet but meaningful
      probe: {}
      changed_when: true
`)
	rep := run(t, opts)

	stats := rep.Stats["web01"]
	if stats.Changed != 1 || stats.OK != 2 {
		t.Fatalf("changed_when not applied: %+v", stats)
	}
}

func TestGatherFactsSeedsVars(t *testing.T) {
	p, opts := testSetup(t, `
- hosts: web01
  gather_facts: true
  tasks:
    - name: probe
      probe:
        msg: "{{ converge_os }}"
`)
	run(t, opts)

	calls := p.callsFor("web01")
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if msg, _ := calls[0].Params["msg"].(string); msg == "" || strings.Contains(msg, "{{") {
		t.Fatalf("converge_os not interpolated: %q", msg)
	}
}

func TestPlayVarsDecryptInlineVaultValues(t *testing.T) {
	keyring := vault.NewKeyring()
	if err := keyring.Add("default", vault.NewSecret([]byte("pw"))); err != nil {
		t.Fatal(err)
	}
	sealed, err := vault.Encrypt([]byte("s3cret"), vault.NewSecret([]byte("pw")), "")
	if err != nil {
		t.Fatal(err)
	}
	var block strings.Builder
	for _, line := range strings.Split(strings.TrimRight(string(sealed), "\n"), "\n") {
		block.WriteString("      ")
		block.WriteString(line)
		block.WriteByte('\n')
	}

	p, opts := testSetup(t, `
- hosts: web01
  vars:
    db_password: !vault |
`+block.String()+`  tasks:
    - name: use secret
      probe:
        msg: "{{ db_password }}"
`)
	opts.Keyring = keyring
	run(t, opts)

	calls := p.callsFor("web01")
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Params["msg"] != "s3cret" {
		t.Fatalf("inline vault var must reach the module decrypted, got %q", calls[0].Params["msg"])
	}
}

func TestBatches(t *testing.T) {
	hosts := []string{"a", "b", "c", "d", "e"}
	got := batches(hosts, 2)
	if len(got) != 3 || len(got[0]) != 2 || len(got[2]) != 1 {
		t.Fatalf("unexpected batches: %v", got)
	}
	if whole := batches(hosts, 0); len(whole) != 1 || len(whole[0]) != 5 {
		t.Fatalf("zero serial must keep one batch: %v", whole)
	}
}
