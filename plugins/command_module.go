package plugins

import (
	"errors"
	"strings"

	"github.com/kingrea/converge/internal/module"
	"github.com/kingrea/converge/internal/playbook"
)

// commandModule adapts a plugin definition to the module contract. It runs
// the check command first; exit 0 means the host already matches and nothing
// happens. Any other exit code means a change is needed, which check mode
// reports and a normal run applies.
type commandModule struct {
	module.Base
	def ModuleDefinition
}

func newCommandModule(def ModuleDefinition) (module.Module, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	normalized := def.Normalized()
	info := module.Info{
		ID:          normalized.ID,
		Name:        normalized.Name,
		Description: normalized.Description,
		Version:     normalized.Version,
	}
	if info.Name == "" {
		info.Name = normalized.ID
	}
	return &commandModule{
		Base: module.NewBase(info, normalized.Spec()),
		def:  normalized,
	}, nil
}

func (m *commandModule) Run(ctx *module.RunContext, params map[string]any) module.Result {
	checkArgv, err := m.render(m.def.Check, params, ctx.Vars)
	if err != nil {
		return module.Failf("%s: check: %v", m.def.ID, err)
	}
	stdout, stderr, rc, err := ctx.Exec.Run(ctx.Context, checkArgv[0], checkArgv[1:]...)
	if err != nil {
		return module.Failf("%s: check: %v", m.def.ID, err)
	}
	if rc == 0 {
		res := module.Okf("%s: already converged", m.def.ID)
		res.Stdout = stdout
		res.Stderr = stderr
		return res
	}

	if ctx.CheckMode {
		res := module.Changedf("%s: would apply (check exited %d)", m.def.ID, rc)
		return res
	}

	applyArgv, err := m.render(m.def.Apply, params, ctx.Vars)
	if err != nil {
		return module.Failf("%s: apply: %v", m.def.ID, err)
	}
	stdout, stderr, rc, err = ctx.Exec.Run(ctx.Context, applyArgv[0], applyArgv[1:]...)
	if err != nil {
		return module.Failf("%s: apply: %v", m.def.ID, err)
	}
	res := module.Result{Rc: rc, Stdout: stdout, Stderr: stderr}
	if rc != 0 {
		res.Failed = true
		res.Msg = strings.TrimSpace(stderr)
		if res.Msg == "" {
			res.Msg = m.def.ID + ": apply failed"
		}
		return res
	}
	res.Changed = true
	res.Msg = m.def.ID + ": applied"
	return res
}

// render interpolates {{ name }} references in the step's command against the
// declared params layered over the host vars, then splits it into argv.
func (m *commandModule) render(step CommandStep, params, vars map[string]any) ([]string, error) {
	merged := playbook.MergeVars(vars, params)
	cmd, err := playbook.Interpolate(step.Cmd, merged)
	if err != nil {
		return nil, err
	}
	argv := strings.Fields(cmd)
	if len(argv) == 0 {
		return nil, errors.New("rendered command is empty")
	}
	if step.Chdir != "" {
		chdir, err := playbook.Interpolate(step.Chdir, merged)
		if err != nil {
			return nil, err
		}
		// Run through the shell only for chdir; keeps the runner interface flat.
		argv = []string{"sh", "-c", "cd " + shellQuote(chdir) + " && " + cmd}
	}
	return argv, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
