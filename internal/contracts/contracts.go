// Package contracts defines the argument specification every state module
// publishes and the validator that coerces raw task arguments against it.
// Validation happens before a module runs so modules can trust their params.
package contracts

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParamType enumerates the argument types a spec can declare.
type ParamType string

const (
	TypeStr  ParamType = "str"
	TypeInt  ParamType = "int"
	TypeBool ParamType = "bool"
	TypeList ParamType = "list"
	TypeDict ParamType = "dict"
	TypePath ParamType = "path"
)

// Param describes a single module argument.
type Param struct {
	Type     ParamType
	Required bool
	Default  any
	Choices  []string
	// Aliases are accepted argument names normalized to the canonical key.
	Aliases []string
}

// Spec is a module's full argument specification.
type Spec struct {
	Params map[string]Param
	// MutuallyExclusive lists argument groups of which at most one may be set.
	MutuallyExclusive [][]string
	// RequiredTogether lists argument groups that must all be set together.
	RequiredTogether [][]string
	// AllowExtra permits unknown arguments (used by passthrough modules).
	AllowExtra bool
}

// Validate coerces raw arguments against the spec and returns the canonical
// parameter map. All violations are reported, not just the first.
func (s Spec) Validate(raw map[string]any) (map[string]any, []error) {
	var errs []error
	params := map[string]any{}

	aliasIndex := s.aliasIndex()
	for key, value := range raw {
		canonical := key
		if target, ok := aliasIndex[key]; ok {
			canonical = target
		}
		if _, known := s.Params[canonical]; !known {
			if s.AllowExtra {
				params[canonical] = value
				continue
			}
			errs = append(errs, fmt.Errorf("unsupported argument %q (known: %s)", key, strings.Join(s.paramNames(), ", ")))
			continue
		}
		if _, dup := params[canonical]; dup {
			errs = append(errs, fmt.Errorf("argument %q given more than once (alias collision)", canonical))
			continue
		}
		params[canonical] = value
	}

	for name, param := range s.Params {
		value, present := params[name]
		if !present {
			if param.Required {
				errs = append(errs, fmt.Errorf("missing required argument %q", name))
			} else if param.Default != nil {
				params[name] = param.Default
			}
			continue
		}
		coerced, err := coerce(name, value, param.Type)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		params[name] = coerced
		if len(param.Choices) > 0 {
			if err := checkChoice(name, coerced, param.Choices); err != nil {
				errs = append(errs, err)
			}
		}
	}

	for _, group := range s.MutuallyExclusive {
		set := presentOf(params, group)
		if len(set) > 1 {
			errs = append(errs, fmt.Errorf("arguments %s are mutually exclusive", strings.Join(set, " and ")))
		}
	}
	for _, group := range s.RequiredTogether {
		set := presentOf(params, group)
		if len(set) > 0 && len(set) != len(group) {
			errs = append(errs, fmt.Errorf("arguments %s are required together", strings.Join(group, ", ")))
		}
	}

	return params, errs
}

func (s Spec) aliasIndex() map[string]string {
	index := map[string]string{}
	for name, param := range s.Params {
		for _, alias := range param.Aliases {
			index[alias] = name
		}
	}
	return index
}

func (s Spec) paramNames() []string {
	names := make([]string, 0, len(s.Params))
	for name := range s.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func presentOf(params map[string]any, group []string) []string {
	var set []string
	for _, name := range group {
		if v, ok := params[name]; ok && v != nil {
			set = append(set, name)
		}
	}
	return set
}

func checkChoice(name string, value any, choices []string) error {
	text := fmt.Sprintf("%v", value)
	for _, choice := range choices {
		if text == choice {
			return nil
		}
	}
	return fmt.Errorf("value of %s must be one of: %s, got: %s", name, strings.Join(choices, ", "), text)
}

func coerce(name string, value any, t ParamType) (any, error) {
	switch t {
	case TypeStr, TypePath, "":
		switch v := value.(type) {
		case string:
			return v, nil
		case int, int64, float64, bool:
			return fmt.Sprintf("%v", v), nil
		default:
			return nil, fmt.Errorf("argument %q must be a string, got %T", name, value)
		}
	case TypeInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("argument %q must be an integer, got %q", name, v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("argument %q must be an integer, got %T", name, value)
		}
	case TypeBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return parseBool(name, v)
		case int:
			return v != 0, nil
		default:
			return nil, fmt.Errorf("argument %q must be a boolean, got %T", name, value)
		}
	case TypeList:
		switch v := value.(type) {
		case []any:
			return v, nil
		case []string:
			out := make([]any, len(v))
			for i, s := range v {
				out[i] = s
			}
			return out, nil
		case string:
			parts := strings.Split(v, ",")
			out := make([]any, 0, len(parts))
			for _, p := range parts {
				out = append(out, strings.TrimSpace(p))
			}
			return out, nil
		default:
			return nil, fmt.Errorf("argument %q must be a list, got %T", name, value)
		}
	case TypeDict:
		switch v := value.(type) {
		case map[string]any:
			return v, nil
		case map[any]any:
			out := map[string]any{}
			for key, val := range v {
				out[fmt.Sprintf("%v", key)] = val
			}
			return out, nil
		default:
			return nil, fmt.Errorf("argument %q must be a dict, got %T", name, value)
		}
	default:
		return nil, fmt.Errorf("argument %q has unknown spec type %q", name, t)
	}
}

// parseBool accepts the historical truthy/falsy spellings used in playbooks.
func parseBool(name, v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "true", "t", "on", "1":
		return true, nil
	case "no", "n", "false", "f", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("argument %q must be a boolean, got %q", name, v)
}
