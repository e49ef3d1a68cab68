// Package pkg manages OS packages through whichever package manager the host
// carries. The query step asks the manager's database; install/remove run
// only on a state mismatch.
package pkg

import (
	"fmt"
	"strings"

	"github.com/kingrea/converge/internal/contracts"
	"github.com/kingrea/converge/internal/module"
)

// ID is the registry identifier.
const ID = "package"

// Module implements the package state module.
type Module struct {
	module.Base
}

// New constructs the module.
func New() (module.Module, error) {
	info := module.Info{
		ID:          ID,
		Name:        "OS package",
		Description: "Ensure an OS package is present or absent",
		Version:     "1.0.0",
	}
	spec := contracts.Spec{
		Params: map[string]contracts.Param{
			"name":  {Type: contracts.TypeStr, Required: true, Aliases: []string{"pkg"}},
			"state": {Type: contracts.TypeStr, Default: "present", Choices: []string{"present", "absent"}},
		},
	}
	return &Module{Base: module.NewBase(info, spec)}, nil
}

// manager pairs the query and mutate command shapes of one package manager.
type manager struct {
	name       string
	queryArgs  func(pkg string) []string
	installed  func(stdout string, rc int) bool
	installCmd func(pkg string) []string
	removeCmd  func(pkg string) []string
}

var managers = []manager{
	{
		name:      "apt-get",
		queryArgs: func(p string) []string { return []string{"dpkg-query", "-W", "-f=${Status}", p} },
		installed: func(stdout string, rc int) bool {
			return rc == 0 && strings.Contains(stdout, "install ok installed")
		},
		installCmd: func(p string) []string { return []string{"apt-get", "install", "-y", p} },
		removeCmd:  func(p string) []string { return []string{"apt-get", "remove", "-y", p} },
	},
	{
		name:       "dnf",
		queryArgs:  func(p string) []string { return []string{"rpm", "-q", p} },
		installed:  func(_ string, rc int) bool { return rc == 0 },
		installCmd: func(p string) []string { return []string{"dnf", "install", "-y", p} },
		removeCmd:  func(p string) []string { return []string{"dnf", "remove", "-y", p} },
	},
	{
		name:       "yum",
		queryArgs:  func(p string) []string { return []string{"rpm", "-q", p} },
		installed:  func(_ string, rc int) bool { return rc == 0 },
		installCmd: func(p string) []string { return []string{"yum", "install", "-y", p} },
		removeCmd:  func(p string) []string { return []string{"yum", "remove", "-y", p} },
	},
}

func detectManager(ctx *module.RunContext) (manager, error) {
	for _, m := range managers {
		if _, err := ctx.Exec.LookPath(m.name); err == nil {
			return m, nil
		}
	}
	return manager{}, fmt.Errorf("no supported package manager found (tried apt-get, dnf, yum)")
}

// Run converges the package to the desired state.
func (m *Module) Run(ctx *module.RunContext, params map[string]any) module.Result {
	name := params["name"].(string)
	state := params["state"].(string)

	mgr, err := detectManager(ctx)
	if err != nil {
		return module.Failf("package %s: %v", name, err)
	}

	query := mgr.queryArgs(name)
	stdout, _, rc, err := ctx.Exec.Run(ctx.Context, query[0], query[1:]...)
	if err != nil {
		return module.Failf("package %s: query: %v", name, err)
	}
	present := mgr.installed(stdout, rc)

	switch state {
	case "absent":
		if !present {
			return module.Okf("package %s is absent", name)
		}
		if ctx.CheckMode {
			return module.Changedf("package %s would be removed", name)
		}
		return m.apply(ctx, mgr.removeCmd(name), fmt.Sprintf("package %s removed", name))
	default:
		if present {
			return module.Okf("package %s already installed", name)
		}
		if ctx.CheckMode {
			return module.Changedf("package %s would be installed", name)
		}
		return m.apply(ctx, mgr.installCmd(name), fmt.Sprintf("package %s installed", name))
	}
}

func (m *Module) apply(ctx *module.RunContext, argv []string, okMsg string) module.Result {
	stdout, stderr, rc, err := ctx.Exec.Run(ctx.Context, argv[0], argv[1:]...)
	if err != nil {
		return module.Failf("%s: %v", strings.Join(argv, " "), err)
	}
	if rc != 0 {
		res := module.Failf("%s: rc=%d %s", strings.Join(argv, " "), rc, strings.TrimSpace(stderr))
		res.Rc = rc
		res.Stdout = stdout
		res.Stderr = stderr
		return res
	}
	return module.Changedf("%s", okMsg)
}
