// Package mount manages filesystem mounts, including loop-mounting disk
// images. findmnt answers "is anything mounted at path"; mount/umount do the
// mutation.
package mount

import (
	"strings"

	"github.com/kingrea/converge/internal/contracts"
	"github.com/kingrea/converge/internal/module"
)

// ID is the registry identifier.
const ID = "mount"

// Module implements the mount state module.
type Module struct {
	module.Base
}

// New constructs the module.
func New() (module.Module, error) {
	info := module.Info{
		ID:          ID,
		Name:        "Filesystem mount",
		Description: "Ensure a device or disk image is mounted or unmounted",
		Version:     "1.0.0",
	}
	spec := contracts.Spec{
		Params: map[string]contracts.Param{
			"path":   {Type: contracts.TypePath, Required: true, Aliases: []string{"name"}},
			"src":    {Type: contracts.TypePath},
			"fstype": {Type: contracts.TypeStr},
			"opts":   {Type: contracts.TypeStr},
			"state":  {Type: contracts.TypeStr, Default: "mounted", Choices: []string{"mounted", "unmounted"}},
		},
	}
	return &Module{Base: module.NewBase(info, spec)}, nil
}

// Run converges the mount point to the desired state.
func (m *Module) Run(ctx *module.RunContext, params map[string]any) module.Result {
	path := params["path"].(string)
	state := params["state"].(string)

	mounted, err := m.isMounted(ctx, path)
	if err != nil {
		return module.Failf("mount %s: %v", path, err)
	}

	switch state {
	case "unmounted":
		if !mounted {
			return module.Okf("%s is not mounted", path)
		}
		if ctx.CheckMode {
			return module.Changedf("%s would be unmounted", path)
		}
		if _, stderr, rc, err := ctx.Exec.Run(ctx.Context, "umount", path); err != nil || rc != 0 {
			return module.Failf("umount %s: rc=%d %s", path, rc, strings.TrimSpace(stderr))
		}
		return module.Changedf("%s unmounted", path)

	default: // mounted
		if mounted {
			return module.Okf("%s already mounted", path)
		}
		src, _ := params["src"].(string)
		if src == "" {
			return module.Failf("mount %s: src is required for state=mounted", path)
		}
		if ctx.CheckMode {
			return module.Changedf("%s would be mounted from %s", path, src)
		}
		args := []string{}
		if fstype, ok := params["fstype"].(string); ok && fstype != "" {
			args = append(args, "-t", fstype)
		}
		if opts, ok := params["opts"].(string); ok && opts != "" {
			args = append(args, "-o", opts)
		}
		args = append(args, src, path)
		if _, stderr, rc, err := ctx.Exec.Run(ctx.Context, "mount", args...); err != nil || rc != 0 {
			return module.Failf("mount %s: rc=%d %s", path, rc, strings.TrimSpace(stderr))
		}
		return module.Changedf("%s mounted from %s", path, src)
	}
}

func (m *Module) isMounted(ctx *module.RunContext, path string) (bool, error) {
	_, _, rc, err := ctx.Exec.Run(ctx.Context, "findmnt", "-n", path)
	if err != nil {
		return false, err
	}
	return rc == 0, nil
}
