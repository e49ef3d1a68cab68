// Package group manages local system groups: query current state via getent,
// then invoke groupadd/groupmod/groupdel only when the desired state differs.
package group

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kingrea/converge/internal/contracts"
	"github.com/kingrea/converge/internal/module"
)

// ID is the registry identifier.
const ID = "group"

// Module implements the group state module.
type Module struct {
	module.Base
}

// New constructs the module.
func New() (module.Module, error) {
	info := module.Info{
		ID:          ID,
		Name:        "System group",
		Description: "Ensure a local group is present or absent",
		Version:     "1.0.0",
	}
	spec := contracts.Spec{
		Params: map[string]contracts.Param{
			"name":   {Type: contracts.TypeStr, Required: true},
			"state":  {Type: contracts.TypeStr, Default: "present", Choices: []string{"present", "absent"}},
			"gid":    {Type: contracts.TypeInt},
			"system": {Type: contracts.TypeBool, Default: false},
		},
	}
	return &Module{Base: module.NewBase(info, spec)}, nil
}

// Run converges the group to the desired state.
func (m *Module) Run(ctx *module.RunContext, params map[string]any) module.Result {
	name := params["name"].(string)
	state := params["state"].(string)

	current, exists, err := m.lookup(ctx, name)
	if err != nil {
		return module.Failf("group %s: %v", name, err)
	}

	switch state {
	case "absent":
		if !exists {
			return module.Okf("group %s is absent", name)
		}
		if ctx.CheckMode {
			return module.Changedf("group %s would be removed", name)
		}
		if _, stderr, rc, err := ctx.Exec.Run(ctx.Context, "groupdel", name); err != nil || rc != 0 {
			return module.Failf("groupdel %s: rc=%d %s", name, rc, strings.TrimSpace(stderr))
		}
		return module.Changedf("group %s removed", name)

	default: // present
		wantGID, hasGID := params["gid"].(int)
		if exists {
			if hasGID && current.gid != wantGID {
				if ctx.CheckMode {
					return module.Changedf("group %s gid would change %d -> %d", name, current.gid, wantGID)
				}
				if _, stderr, rc, err := ctx.Exec.Run(ctx.Context, "groupmod", "-g", strconv.Itoa(wantGID), name); err != nil || rc != 0 {
					return module.Failf("groupmod %s: rc=%d %s", name, rc, strings.TrimSpace(stderr))
				}
				return module.Changedf("group %s gid changed to %d", name, wantGID)
			}
			return module.Okf("group %s already present", name)
		}
		if ctx.CheckMode {
			return module.Changedf("group %s would be created", name)
		}
		args := []string{}
		if params["system"] == true {
			args = append(args, "-r")
		}
		if hasGID {
			args = append(args, "-g", strconv.Itoa(wantGID))
		}
		args = append(args, name)
		if _, stderr, rc, err := ctx.Exec.Run(ctx.Context, "groupadd", args...); err != nil || rc != 0 {
			return module.Failf("groupadd %s: rc=%d %s", name, rc, strings.TrimSpace(stderr))
		}
		return module.Changedf("group %s created", name)
	}
}

type groupEntry struct {
	gid int
}

func (m *Module) lookup(ctx *module.RunContext, name string) (groupEntry, bool, error) {
	stdout, _, rc, err := ctx.Exec.Run(ctx.Context, "getent", "group", name)
	if err != nil {
		return groupEntry{}, false, fmt.Errorf("getent: %w", err)
	}
	if rc == 2 {
		return groupEntry{}, false, nil
	}
	if rc != 0 {
		return groupEntry{}, false, fmt.Errorf("getent returned rc=%d", rc)
	}
	// name:x:gid:members
	fields := strings.Split(strings.TrimSpace(stdout), ":")
	if len(fields) < 3 {
		return groupEntry{}, false, fmt.Errorf("unparseable getent output %q", strings.TrimSpace(stdout))
	}
	gid, err := strconv.Atoi(fields[2])
	if err != nil {
		return groupEntry{}, false, fmt.Errorf("bad gid %q", fields[2])
	}
	return groupEntry{gid: gid}, true, nil
}
