// Package plugins loads user-defined modules from .converge/modules. A
// definition names its parameters and a check/apply command pair: the check
// command probes whether the host already matches the desired state, and the
// apply command converges it when it does not.
package plugins

import (
	"fmt"
	"strings"

	"github.com/kingrea/converge/internal/contracts"
)

// ModuleDefinition describes a command-backed plugin module.
//
// The struct mirrors the on-disk schema under .converge/modules/*.yaml and is
// intentionally narrow so definitions can be validated before they are wired
// into the module registry.
type ModuleDefinition struct {
	ID          string               `json:"id" yaml:"id"`
	Name        string               `json:"name,omitempty" yaml:"name,omitempty"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string               `json:"version" yaml:"version"`
	Params      map[string]ParamSpec `json:"params,omitempty" yaml:"params,omitempty"`
	Check       CommandStep          `json:"check" yaml:"check"`
	Apply       CommandStep          `json:"apply" yaml:"apply"`
}

// ParamSpec declares one accepted parameter.
type ParamSpec struct {
	Type     string   `json:"type,omitempty" yaml:"type,omitempty"`
	Required bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Default  any      `json:"default,omitempty" yaml:"default,omitempty"`
	Choices  []string `json:"choices,omitempty" yaml:"choices,omitempty"`
	Aliases  []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// CommandStep is a templated command line. Parameter references use the
// normal {{ name }} syntax and are resolved per invocation.
type CommandStep struct {
	Cmd   string `json:"cmd" yaml:"cmd"`
	Chdir string `json:"chdir,omitempty" yaml:"chdir,omitempty"`
}

func (s CommandStep) normalized() CommandStep {
	return CommandStep{
		Cmd:   strings.TrimSpace(s.Cmd),
		Chdir: strings.TrimSpace(s.Chdir),
	}
}

// Normalized returns a trimmed, copy-on-write variant of the definition.
func (def ModuleDefinition) Normalized() ModuleDefinition {
	clone := ModuleDefinition{
		ID:          strings.TrimSpace(def.ID),
		Name:        strings.TrimSpace(def.Name),
		Description: strings.TrimSpace(def.Description),
		Version:     strings.TrimSpace(def.Version),
		Check:       def.Check.normalized(),
		Apply:       def.Apply.normalized(),
	}
	if len(def.Params) > 0 {
		clone.Params = make(map[string]ParamSpec, len(def.Params))
		for key, spec := range def.Params {
			trimmed := strings.TrimSpace(key)
			if trimmed == "" {
				continue
			}
			clone.Params[trimmed] = spec
		}
	}
	return clone
}

var paramTypes = map[string]contracts.ParamType{
	"":     contracts.TypeStr,
	"str":  contracts.TypeStr,
	"int":  contracts.TypeInt,
	"bool": contracts.TypeBool,
	"list": contracts.TypeList,
	"dict": contracts.TypeDict,
	"path": contracts.TypePath,
}

// Validate ensures the plugin definition is well-formed.
func (def ModuleDefinition) Validate() error {
	normalized := def.Normalized()
	if normalized.ID == "" {
		return fmt.Errorf("plugin: id is required")
	}
	if normalized.Version == "" {
		return fmt.Errorf("plugin %s: version is required", normalized.ID)
	}
	if normalized.Apply.Cmd == "" {
		return fmt.Errorf("plugin %s: apply.cmd is required", normalized.ID)
	}
	if normalized.Check.Cmd == "" {
		return fmt.Errorf("plugin %s: check.cmd is required", normalized.ID)
	}
	for name, spec := range normalized.Params {
		if _, ok := paramTypes[strings.TrimSpace(spec.Type)]; !ok {
			return fmt.Errorf("plugin %s: param %s: unknown type %q", normalized.ID, name, spec.Type)
		}
	}
	return nil
}

// Spec converts the declared parameters into a registry argument spec.
func (def ModuleDefinition) Spec() contracts.Spec {
	params := make(map[string]contracts.Param, len(def.Params))
	for name, spec := range def.Params {
		params[name] = contracts.Param{
			Type:     paramTypes[strings.TrimSpace(spec.Type)],
			Required: spec.Required,
			Default:  spec.Default,
			Choices:  append([]string{}, spec.Choices...),
			Aliases:  append([]string{}, spec.Aliases...),
		}
	}
	return contracts.Spec{Params: params}
}
