// Package service manages systemd units. Activity and enablement are queried
// separately so either can converge independently in one task.
package service

import (
	"strings"

	"github.com/kingrea/converge/internal/contracts"
	"github.com/kingrea/converge/internal/module"
)

// ID is the registry identifier.
const ID = "service"

// Module implements the service state module.
type Module struct {
	module.Base
}

// New constructs the module.
func New() (module.Module, error) {
	info := module.Info{
		ID:          ID,
		Name:        "System service",
		Description: "Control systemd unit activity and boot enablement",
		Version:     "1.0.0",
	}
	spec := contracts.Spec{
		Params: map[string]contracts.Param{
			"name":    {Type: contracts.TypeStr, Required: true},
			"state":   {Type: contracts.TypeStr, Choices: []string{"started", "stopped", "restarted", "reloaded"}},
			"enabled": {Type: contracts.TypeBool},
		},
	}
	return &Module{Base: module.NewBase(info, spec)}, nil
}

// Run converges the unit to the desired activity/enablement.
func (m *Module) Run(ctx *module.RunContext, params map[string]any) module.Result {
	name := params["name"].(string)
	state, hasState := params["state"].(string)
	enabled, hasEnabled := params["enabled"].(bool)
	if !hasState && !hasEnabled {
		return module.Failf("service %s: at least one of state or enabled is required", name)
	}

	var messages []string
	changed := false

	if hasState {
		active, err := m.isActive(ctx, name)
		if err != nil {
			return module.Failf("service %s: %v", name, err)
		}
		action := ""
		switch state {
		case "started":
			if !active {
				action = "start"
			}
		case "stopped":
			if active {
				action = "stop"
			}
		case "restarted":
			action = "restart"
		case "reloaded":
			action = "reload"
		}
		if action == "" {
			messages = append(messages, "already "+state)
		} else if ctx.CheckMode {
			changed = true
			messages = append(messages, "would "+action)
		} else {
			if _, stderr, rc, err := ctx.Exec.Run(ctx.Context, "systemctl", action, name); err != nil || rc != 0 {
				return module.Failf("systemctl %s %s: rc=%d %s", action, name, rc, strings.TrimSpace(stderr))
			}
			changed = true
			messages = append(messages, pastTense(action))
		}
	}

	if hasEnabled {
		current, err := m.isEnabled(ctx, name)
		if err != nil {
			return module.Failf("service %s: %v", name, err)
		}
		if current == enabled {
			messages = append(messages, "enablement unchanged")
		} else {
			action := "disable"
			if enabled {
				action = "enable"
			}
			if ctx.CheckMode {
				changed = true
				messages = append(messages, "would "+action)
			} else {
				if _, stderr, rc, err := ctx.Exec.Run(ctx.Context, "systemctl", action, name); err != nil || rc != 0 {
					return module.Failf("systemctl %s %s: rc=%d %s", action, name, rc, strings.TrimSpace(stderr))
				}
				changed = true
				messages = append(messages, action+"d")
			}
		}
	}

	res := module.Result{Changed: changed, Msg: "service " + name + ": " + strings.Join(messages, ", ")}
	return res
}

// pastTense renders the action for result messages. "stop" doubles its final
// consonant.
func pastTense(action string) string {
	if action == "stop" {
		return "stopped"
	}
	return action + "ed"
}

func (m *Module) isActive(ctx *module.RunContext, name string) (bool, error) {
	stdout, _, _, err := ctx.Exec.Run(ctx.Context, "systemctl", "is-active", name)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(stdout) == "active", nil
}

func (m *Module) isEnabled(ctx *module.RunContext, name string) (bool, error) {
	stdout, _, _, err := ctx.Exec.Run(ctx.Context, "systemctl", "is-enabled", name)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(stdout) == "enabled", nil
}
