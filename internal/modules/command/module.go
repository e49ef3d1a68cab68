// Package command runs a raw command, made idempotent through the creates/
// removes guards: the command is skipped once its observable effect exists.
package command

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/kingrea/converge/internal/contracts"
	"github.com/kingrea/converge/internal/module"
)

// ID is the registry identifier.
const ID = "command"

// Module implements the command module.
type Module struct {
	module.Base
}

// New constructs the module.
func New() (module.Module, error) {
	info := module.Info{
		ID:          ID,
		Name:        "Command",
		Description: "Run a command with creates/removes idempotence guards",
		Version:     "1.0.0",
	}
	spec := contracts.Spec{
		Params: map[string]contracts.Param{
			"cmd":     {Type: contracts.TypeStr, Required: true},
			"shell":   {Type: contracts.TypeBool, Default: false},
			"chdir":   {Type: contracts.TypePath},
			"creates": {Type: contracts.TypePath},
			"removes": {Type: contracts.TypePath},
		},
	}
	return &Module{Base: module.NewBase(info, spec)}, nil
}

// Run executes the command unless a guard says its work is already done.
func (m *Module) Run(ctx *module.RunContext, params map[string]any) module.Result {
	cmdline := params["cmd"].(string)
	if strings.TrimSpace(cmdline) == "" {
		return module.Failf("command: empty cmd")
	}
	shell, _ := params["shell"].(bool)

	if creates, ok := params["creates"].(string); ok && creates != "" {
		if pathExists(creates) {
			return module.Okf("skipped, since %s exists", creates)
		}
	}
	if removes, ok := params["removes"].(string); ok && removes != "" {
		if !pathExists(removes) {
			return module.Okf("skipped, since %s does not exist", removes)
		}
	}
	if ctx.CheckMode {
		return module.Result{Skipped: true, Msg: "skipped, running commands is not allowed in check mode"}
	}

	if chdir, ok := params["chdir"].(string); ok && chdir != "" {
		// chdir is expressed through the shell; keeps the runner interface flat.
		cmdline = "cd " + shellQuote(chdir) + " && " + cmdline
		shell = true
	}
	argv := strings.Fields(cmdline)
	if shell {
		argv = []string{"sh", "-c", cmdline}
	}

	stdout, stderr, rc, err := ctx.Exec.Run(ctx.Context, argv[0], argv[1:]...)
	if err != nil {
		return module.Failf("command %q: %v", cmdline, err)
	}
	res := module.Result{
		Changed: true,
		Rc:      rc,
		Stdout:  stdout,
		Stderr:  stderr,
		Msg:     strings.TrimSpace(stdout),
	}
	if rc != 0 {
		res.Failed = true
		res.Changed = false
		res.Msg = strings.TrimSpace(stderr)
		if res.Msg == "" {
			res.Msg = "non-zero return code"
		}
	}
	return res
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
