package playbook

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/kingrea/converge/internal/vault"
	"gopkg.in/yaml.v3"
)

// MergeVars layers variable maps; later maps win.
func MergeVars(layers ...map[string]any) map[string]any {
	merged := map[string]any{}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

// LoadVarsFile reads a YAML vars file, transparently decrypting it when it
// carries a vault envelope. Inline vault values are decrypted too.
func LoadVarsFile(path string, keyring *vault.Keyring) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vars: read %s: %w", path, err)
	}
	if vault.IsEncrypted(data) {
		plaintext, _, err := vault.Decrypt(data, keyring)
		if err != nil {
			return nil, fmt.Errorf("vars: %s: %w", path, err)
		}
		data = plaintext
	}
	var vars map[string]any
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("vars: parse %s: %w", path, err)
	}
	vars, err = DecryptVars(vars, keyring)
	if err != nil {
		return nil, fmt.Errorf("vars: %s: %w", path, err)
	}
	return vars, nil
}

// DecryptVars replaces every string value carrying a vault envelope with its
// plaintext. A `!vault` block pasted from encrypt-string decodes to its raw
// envelope text, so this is what turns it back into the secret.
func DecryptVars(vars map[string]any, keyring *vault.Keyring) (map[string]any, error) {
	if len(vars) == 0 {
		return vars, nil
	}
	out, err := decryptValue(vars, keyring)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func decryptValue(v any, keyring *vault.Keyring) (any, error) {
	switch t := v.(type) {
	case string:
		if !vault.IsEncrypted([]byte(t)) {
			return t, nil
		}
		plaintext, _, err := vault.Decrypt([]byte(t), keyring)
		if err != nil {
			return nil, fmt.Errorf("inline vault value: %w", err)
		}
		return string(plaintext), nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			dv, err := decryptValue(item, keyring)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			dv, err := decryptValue(item, keyring)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = dv
		}
		return out, nil
	default:
		return v, nil
	}
}

var varPattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// Interpolate substitutes {{ var }} references. Dotted names walk into maps;
// a trailing `| default('x')` filter supplies a fallback for undefined vars.
func Interpolate(s string, vars map[string]any) (string, error) {
	var firstErr error
	out := varPattern.ReplaceAllStringFunc(s, func(match string) string {
		expr := strings.TrimSpace(varPattern.FindStringSubmatch(match)[1])
		value, err := evalExpr(expr, vars)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return fmt.Sprintf("%v", value)
	})
	return out, firstErr
}

// InterpolateArgs interpolates every string inside a task argument map.
func InterpolateArgs(args map[string]any, vars map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		iv, err := interpolateValue(v, vars)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", k, err)
		}
		out[k] = iv
	}
	return out, nil
}

func interpolateValue(v any, vars map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		// A string that is exactly one reference keeps the value's type.
		if m := varPattern.FindStringSubmatch(t); m != nil && strings.TrimSpace(varPattern.ReplaceAllString(t, "")) == "" && strings.Count(t, "{{") == 1 {
			return evalExpr(strings.TrimSpace(m[1]), vars)
		}
		return Interpolate(t, vars)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			iv, err := interpolateValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = iv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			iv, err := interpolateValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[k] = iv
		}
		return out, nil
	default:
		return v, nil
	}
}

var defaultFilter = regexp.MustCompile(`^(.+?)\s*\|\s*default\(\s*(.+?)\s*\)$`)

// evalExpr resolves a variable reference, optionally with a default filter.
func evalExpr(expr string, vars map[string]any) (any, error) {
	if m := defaultFilter.FindStringSubmatch(expr); m != nil {
		value, err := lookup(strings.TrimSpace(m[1]), vars)
		if err != nil {
			return parseLiteral(m[2]), nil
		}
		return value, nil
	}
	return lookup(expr, vars)
}

// lookup walks a dotted variable name through nested maps.
func lookup(name string, vars map[string]any) (any, error) {
	parts := strings.Split(name, ".")
	var current any = vars
	for i, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("variable %q: %s is not a mapping", name, strings.Join(parts[:i], "."))
		}
		current, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("variable %q is undefined", name)
		}
	}
	return current, nil
}

// parseLiteral interprets a quoted string, number, or boolean literal.
func parseLiteral(s string) any {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// EvalWhen evaluates a task's when expression. Supported forms:
//
//	var                 truthiness
//	not var             negated truthiness
//	var == literal      equality
//	var != literal      inequality
//	var in other        membership in a list, or substring of a string
//	var not in other
//	var is defined      definedness
//	var is not defined
func EvalWhen(expr string, vars map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}

	if strings.HasSuffix(expr, " is not defined") {
		name := strings.TrimSpace(strings.TrimSuffix(expr, " is not defined"))
		_, err := lookup(name, vars)
		return err != nil, nil
	}
	if strings.HasSuffix(expr, " is defined") {
		name := strings.TrimSpace(strings.TrimSuffix(expr, " is defined"))
		_, err := lookup(name, vars)
		return err == nil, nil
	}

	if idx := strings.Index(expr, " not in "); idx > 0 {
		return evalMembership(expr[:idx], expr[idx+len(" not in "):], vars, true)
	}
	if idx := strings.Index(expr, " in "); idx > 0 {
		return evalMembership(expr[:idx], expr[idx+len(" in "):], vars, false)
	}

	for _, op := range []string{"==", "!="} {
		if idx := strings.Index(expr, op); idx > 0 {
			left, err := evalOperand(expr[:idx], vars)
			if err != nil {
				return false, err
			}
			right, err := evalOperand(expr[idx+len(op):], vars)
			if err != nil {
				return false, err
			}
			equal := fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
			if op == "==" {
				return equal, nil
			}
			return !equal, nil
		}
	}

	negate := false
	if strings.HasPrefix(expr, "not ") {
		negate = true
		expr = strings.TrimSpace(strings.TrimPrefix(expr, "not "))
	}
	value, err := lookup(expr, vars)
	if err != nil {
		// An undefined bare variable is falsy rather than an error, so
		// `when: maybe_set` works without guarding with `is defined`.
		value = nil
	}
	return truthy(value) != negate, nil
}

func evalMembership(left, right string, vars map[string]any, negate bool) (bool, error) {
	needle, err := evalOperand(left, vars)
	if err != nil {
		return false, err
	}
	haystack, err := evalOperand(right, vars)
	if err != nil {
		return false, err
	}
	found := false
	switch t := haystack.(type) {
	case []any:
		for _, item := range t {
			if fmt.Sprintf("%v", item) == fmt.Sprintf("%v", needle) {
				found = true
				break
			}
		}
	case string:
		found = strings.Contains(t, fmt.Sprintf("%v", needle))
	default:
		return false, fmt.Errorf("when: %q is not a list or string", strings.TrimSpace(right))
	}
	return found != negate, nil
}

func evalOperand(s string, vars map[string]any) (any, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') {
		return parseLiteral(s), nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	if s == "true" || s == "false" {
		return s == "true", nil
	}
	return lookup(s, vars)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && !strings.EqualFold(t, "false") && !strings.EqualFold(t, "no")
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
