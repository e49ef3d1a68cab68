// Package runner executes playbooks: it expands roles, matches hosts,
// batches them per play, runs tasks across hosts with bounded parallelism,
// flushes notified handlers, and produces the run report and recap.
package runner

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/converge/internal/eventbridge"
	"github.com/kingrea/converge/internal/inventory"
	"github.com/kingrea/converge/internal/module"
	"github.com/kingrea/converge/internal/playbook"
	"github.com/kingrea/converge/internal/report"
	"github.com/kingrea/converge/internal/roles"
	"github.com/kingrea/converge/internal/vault"
)

const defaultForks = 5

// Options configures a playbook run. Playbook, Inventory, and Registry are
// required; everything else has a working default.
type Options struct {
	Playbook  *playbook.Playbook
	Inventory *inventory.Inventory
	Registry  *module.Registry

	// Roles locates roles referenced by plays. Plays without roles run
	// fine with a nil loader.
	Roles *roles.Loader

	// Keyring decrypts vaulted vars_files. Nil means no vault identities.
	Keyring *vault.Keyring

	// Tags filters which tasks run.
	Tags playbook.TagFilter

	// Limit restricts matched hosts to this inventory pattern.
	Limit string

	// Forks caps how many hosts run a task concurrently.
	Forks int

	// CheckMode reports would-be changes without applying them.
	CheckMode bool

	// ExtraVars override every other variable source.
	ExtraVars map[string]any

	// Exec runs module commands. Injectable for tests.
	Exec module.CommandRunner

	// Log receives diagnostic lines.
	Log module.Logger

	// Events receives run events when non-nil.
	Events eventbridge.EventProcessor

	// Store persists run artifacts when non-nil.
	Store *report.Store

	// Output receives progress lines in the classic play/task/recap form.
	Output io.Writer
}

// Runner executes one playbook run.
type Runner struct {
	opts    Options
	emitter *eventbridge.Emitter
	printer *printer

	mu         sync.Mutex
	rep        *report.RunReport
	failed     map[string]bool
	registered map[string]map[string]any
}

// New validates options and prepares a runner.
func New(opts Options) (*Runner, error) {
	if opts.Playbook == nil {
		return nil, fmt.Errorf("runner: playbook is required")
	}
	if opts.Inventory == nil {
		return nil, fmt.Errorf("runner: inventory is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("runner: module registry is required")
	}
	if opts.Forks <= 0 {
		opts.Forks = defaultForks
	}
	if opts.Exec == nil {
		opts.Exec = module.LocalRunner{}
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	return &Runner{
		opts:       opts,
		printer:    newPrinter(opts.Output),
		failed:     map[string]bool{},
		registered: map[string]map[string]any{},
	}, nil
}

// Run executes every play in order and returns the finished report. The
// returned error covers orchestration problems; task failures are recorded in
// the report, and callers decide the exit code from report.Failed().
func (r *Runner) Run(ctx context.Context) (*report.RunReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	runID := uuid.NewString()
	r.emitter = eventbridge.NewEmitter(runID, r.opts.Events)
	r.rep = report.NewRunReport(runID, r.opts.Playbook.Path, r.opts.CheckMode, time.Now())

	r.emitter.Emit(eventbridge.TypeRunStart, "", "", "", map[string]any{
		"playbook":   r.opts.Playbook.Path,
		"check_mode": r.opts.CheckMode,
	})

	for _, play := range r.opts.Playbook.Plays {
		if err := r.runPlay(ctx, play); err != nil {
			return r.finish(err)
		}
	}
	return r.finish(nil)
}

func (r *Runner) finish(runErr error) (*report.RunReport, error) {
	r.rep.FinishedAt = time.Now().UTC()
	r.printer.recap(r.rep)
	r.emitter.Emit(eventbridge.TypeRunRecap, "", "", "", r.rep.Stats)
	if r.opts.Store != nil {
		if err := r.opts.Store.Save(r.rep); err != nil {
			if runErr == nil {
				runErr = err
			} else if r.opts.Log != nil {
				r.opts.Log.Printf("runner: save report: %v", err)
			}
		}
	}
	return r.rep, runErr
}

func (r *Runner) runPlay(ctx context.Context, play *playbook.Play) error {
	name := play.Name
	if name == "" {
		name = play.Hosts
	}
	tasks, handlers, defaults, err := r.expandPlay(play)
	if err != nil {
		return err
	}

	hosts, err := r.matchHosts(play.Hosts)
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		r.printer.play(name)
		r.printer.line("skipping: no hosts matched")
		return nil
	}

	playVars, err := r.playVars(play, defaults)
	if err != nil {
		return err
	}
	if play.GatherFacts {
		playVars = playbook.MergeVars(localFacts(), playVars)
	}

	r.printer.play(name)
	r.emitter.Emit(eventbridge.TypePlayStart, name, "", "", map[string]any{"hosts": hosts})

	checkMode := r.opts.CheckMode || play.CheckMode
	for _, batch := range batches(hosts, play.Serial) {
		notified := newNotifications()
		for _, task := range tasks {
			if !r.opts.Tags.ShouldRun(task.Tags) {
				continue
			}
			if r.allFailed(batch) {
				break
			}
			r.runTask(ctx, name, task, batch, playVars, checkMode, notified, false)
		}
		r.flushHandlers(ctx, name, handlers, batch, playVars, checkMode, notified)
	}
	return nil
}

// expandPlay resolves the play's roles into a flat task list. Role tasks run
// before the play's own tasks and inherit the play tags plus any tags on the
// role reference. Role defaults sit below every other variable source.
func (r *Runner) expandPlay(play *playbook.Play) (tasks, handlers []*playbook.Task, defaults map[string]any, err error) {
	defaults = map[string]any{}
	if len(play.Roles) > 0 {
		if r.opts.Roles == nil {
			return nil, nil, nil, fmt.Errorf("runner: play %q references roles but no role path is configured", play.Name)
		}
		names := make([]string, 0, len(play.Roles))
		roleTags := map[string][]string{}
		for _, ref := range play.Roles {
			names = append(names, ref.Name)
			roleTags[ref.Name] = ref.Tags
		}
		resolved, err := roles.Resolve(r.opts.Roles, names)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, role := range resolved {
			defaults = playbook.MergeVars(defaults, role.Defaults)
			extra := unionTags(play.Tags, roleTags[role.Name])
			for _, task := range role.Tasks {
				tasks = append(tasks, withTags(task, extra))
			}
			for _, handler := range role.Handlers {
				handlers = append(handlers, handler)
			}
		}
	}
	tasks = append(tasks, play.Tasks...)
	handlers = append(handlers, play.Handlers...)
	return tasks, handlers, defaults, nil
}

func (r *Runner) matchHosts(pattern string) ([]string, error) {
	hosts, err := r.opts.Inventory.Match(pattern)
	if err != nil {
		return nil, fmt.Errorf("runner: match hosts: %w", err)
	}
	if r.opts.Limit == "" {
		return hosts, nil
	}
	limited, err := r.opts.Inventory.Match(r.opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("runner: apply limit: %w", err)
	}
	allow := make(map[string]bool, len(limited))
	for _, h := range limited {
		allow[h] = true
	}
	var out []string
	for _, h := range hosts {
		if allow[h] {
			out = append(out, h)
		}
	}
	return out, nil
}

// playVars loads the play's vars_files (vault-aware) and merges them above
// the play vars. Per-host layers are added later in hostVars.
func (r *Runner) playVars(play *playbook.Play, defaults map[string]any) (map[string]any, error) {
	merged, err := playbook.DecryptVars(playbook.MergeVars(defaults, play.Vars), r.opts.Keyring)
	if err != nil {
		return nil, fmt.Errorf("runner: play vars: %w", err)
	}
	base := filepath.Dir(r.opts.Playbook.Path)
	for _, file := range play.VarsFiles {
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(base, path)
		}
		vars, err := playbook.LoadVarsFile(path, r.opts.Keyring)
		if err != nil {
			return nil, fmt.Errorf("runner: vars file %s: %w", file, err)
		}
		merged = playbook.MergeVars(merged, vars)
	}
	return merged, nil
}

// hostVars builds the flattened variable view for one host. Precedence from
// lowest to highest: role defaults and play vars, inventory vars, registered
// results, extra vars.
func (r *Runner) hostVars(host string, playVars map[string]any) map[string]any {
	r.mu.Lock()
	registered := r.registered[host]
	r.mu.Unlock()
	return playbook.MergeVars(playVars, r.opts.Inventory.Vars(host), registered, r.opts.ExtraVars)
}

func (r *Runner) allFailed(hosts []string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, host := range hosts {
		if !r.failed[host] {
			return false
		}
	}
	return true
}

func (r *Runner) hostFailed(host string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed[host]
}

func (r *Runner) markFailed(host string) {
	r.mu.Lock()
	r.failed[host] = true
	r.mu.Unlock()
}

func (r *Runner) register(host, name string, value map[string]any) {
	if name == "" {
		return
	}
	r.mu.Lock()
	if r.registered[host] == nil {
		r.registered[host] = map[string]any{}
	}
	r.registered[host][name] = value
	r.mu.Unlock()
}

// runTask executes one task across the batch with bounded parallelism.
func (r *Runner) runTask(ctx context.Context, playName string, task *playbook.Task, batch []string, playVars map[string]any, checkMode bool, notified *notifications, isHandler bool) {
	taskName := task.Name
	if taskName == "" {
		taskName = task.Module
	}
	if isHandler {
		r.printer.handler(taskName)
		r.emitter.Emit(eventbridge.TypeHandlerTriggered, playName, taskName, "", nil)
	} else {
		r.printer.task(taskName)
		r.emitter.Emit(eventbridge.TypeTaskStart, playName, taskName, "", nil)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(r.opts.Forks)
	for _, host := range batch {
		host := host
		if r.hostFailed(host) {
			continue
		}
		if isHandler && !notified.has(taskName, host) {
			continue
		}
		group.Go(func() error {
			r.runTaskOnHost(gctx, playName, taskName, task, host, playVars, checkMode, notified)
			return nil
		})
	}
	_ = group.Wait()
}

func (r *Runner) runTaskOnHost(ctx context.Context, playName, taskName string, task *playbook.Task, host string, playVars map[string]any, checkMode bool, notified *notifications) {
	start := time.Now()
	vars := r.hostVars(host, playVars)

	items := task.Loop
	if items == nil {
		items = []any{nil}
	}
	combined := module.Result{}
	ran := false
	for _, item := range items {
		itemVars := vars
		if item != nil {
			itemVars = playbook.MergeVars(vars, map[string]any{"item": item})
		}
		res, ok := r.runOnce(ctx, task, host, itemVars, checkMode)
		if !ok {
			continue
		}
		ran = true
		combined = mergeResults(combined, res)
		if res.Failed && !task.IgnoreErrors {
			break
		}
	}
	if !ran {
		combined = module.Result{Skipped: true, Msg: "conditional result was false"}
	}

	r.recordResult(playName, taskName, task, host, combined, time.Since(start), notified)
}

// runOnce evaluates the when condition and invokes the module for a single
// loop item. ok is false when the condition skipped the item.
func (r *Runner) runOnce(ctx context.Context, task *playbook.Task, host string, vars map[string]any, checkMode bool) (module.Result, bool) {
	if task.When != "" {
		pass, err := playbook.EvalWhen(task.When, vars)
		if err != nil {
			return module.Failf("when %q: %v", task.When, err), true
		}
		if !pass {
			return module.Result{}, false
		}
	}
	args, err := playbook.InterpolateArgs(task.Args, vars)
	if err != nil {
		return module.Failf("template: %v", err), true
	}

	runCtx := module.NewRunContext(ctx, host).WithCheckMode(checkMode).WithVars(vars)
	runCtx.Exec = r.opts.Exec
	if r.opts.Log != nil {
		runCtx.Log = r.opts.Log
	}
	res, err := r.opts.Registry.Invoke(runCtx, task.Module, args)
	if err != nil {
		return module.Failf("%v", err), true
	}
	if task.ChangedWhen != nil && !res.Failed && !res.Skipped {
		res.Changed = *task.ChangedWhen
	}
	return res, true
}

func (r *Runner) recordResult(playName, taskName string, task *playbook.Task, host string, res module.Result, elapsed time.Duration, notified *notifications) {
	status := report.StatusOK
	eventType := eventbridge.TypeTaskOK
	switch {
	case res.Failed:
		status = report.StatusFailed
		eventType = eventbridge.TypeTaskFailed
	case res.Skipped:
		status = report.StatusSkipped
		eventType = eventbridge.TypeTaskSkipped
	case res.Changed:
		status = report.StatusChanged
		eventType = eventbridge.TypeTaskChanged
	}

	if res.Failed && !task.IgnoreErrors {
		r.markFailed(host)
	}
	if res.Changed {
		for _, handler := range task.Notify {
			notified.add(handler, host)
		}
	}
	r.register(host, task.Register, resultVars(res))

	r.mu.Lock()
	r.rep.Record(report.TaskRecord{
		Play:     playName,
		Task:     taskName,
		Host:     host,
		Module:   task.Module,
		Status:   status,
		Msg:      res.Msg,
		Rc:       res.Rc,
		Ignored:  res.Failed && task.IgnoreErrors,
		Duration: elapsed,
	})
	r.mu.Unlock()

	r.printer.result(host, status, res.Msg, task.IgnoreErrors && res.Failed)
	r.emitter.Emit(eventType, playName, taskName, host, map[string]any{
		"changed": res.Changed,
		"msg":     res.Msg,
	})
}

func (r *Runner) flushHandlers(ctx context.Context, playName string, handlers []*playbook.Task, batch []string, playVars map[string]any, checkMode bool, notified *notifications) {
	if notified.empty() {
		return
	}
	seen := map[string]bool{}
	for _, handler := range handlers {
		if handler.Name == "" || seen[handler.Name] {
			continue
		}
		seen[handler.Name] = true
		if !notified.hasAny(handler.Name) {
			continue
		}
		r.runTask(ctx, playName, handler, batch, playVars, checkMode, notified, true)
	}
}

// resultVars shapes a module result the way registered variables expose it.
func resultVars(res module.Result) map[string]any {
	out := map[string]any{
		"changed": res.Changed,
		"failed":  res.Failed,
		"skipped": res.Skipped,
		"msg":     res.Msg,
		"rc":      res.Rc,
		"stdout":  res.Stdout,
		"stderr":  res.Stderr,
	}
	for k, v := range res.Facts {
		out[k] = v
	}
	return out
}

func mergeResults(acc, res module.Result) module.Result {
	out := acc
	out.Changed = acc.Changed || res.Changed
	out.Failed = acc.Failed || res.Failed
	out.Skipped = false
	out.Msg = res.Msg
	out.Rc = res.Rc
	out.Stdout = res.Stdout
	out.Stderr = res.Stderr
	if res.Skipped && !acc.Changed && !acc.Failed && acc.Msg == "" {
		out.Skipped = true
	}
	if len(res.Facts) > 0 {
		if out.Facts == nil {
			out.Facts = map[string]any{}
		}
		for k, v := range res.Facts {
			out.Facts[k] = v
		}
	}
	return out
}

// batches splits hosts into serial groups. size <= 0 keeps one batch.
func batches(hosts []string, size int) [][]string {
	if size <= 0 || size >= len(hosts) {
		return [][]string{hosts}
	}
	var out [][]string
	for start := 0; start < len(hosts); start += size {
		end := start + size
		if end > len(hosts) {
			end = len(hosts)
		}
		out = append(out, hosts[start:end])
	}
	return out
}

func unionTags(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, list := range [][]string{a, b} {
		for _, tag := range list {
			if !seen[tag] {
				seen[tag] = true
				out = append(out, tag)
			}
		}
	}
	return out
}

// withTags clones a task adding inherited tags.
func withTags(task *playbook.Task, extra []string) *playbook.Task {
	if len(extra) == 0 {
		return task
	}
	clone := *task
	clone.Tags = unionTags(extra, task.Tags)
	return &clone
}

// notifications tracks which hosts notified which handlers inside one batch.
type notifications struct {
	mu    sync.Mutex
	hosts map[string]map[string]bool
}

func newNotifications() *notifications {
	return &notifications{hosts: map[string]map[string]bool{}}
}

func (n *notifications) add(handler, host string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.hosts[handler] == nil {
		n.hosts[handler] = map[string]bool{}
	}
	n.hosts[handler][host] = true
}

func (n *notifications) has(handler, host string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hosts[handler][host]
}

func (n *notifications) hasAny(handler string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.hosts[handler]) > 0
}

func (n *notifications) empty() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.hosts) == 0
}
