package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"
)

const goDefinitionSymbol = "ModuleDefinitions"

// LoadGoDefinitionDir evaluates every .go file in dir and collects the module
// definitions it declares. Interpreted plugins let users compute definitions
// (shared params, generated variants) without rebuilding the binary. The file
// must export either a ModuleDefinitions() function returning
// []map[string]any (optionally with an error) or a ModuleDefinitions
// variable of that type.
func LoadGoDefinitionDir(dir string) ([]DefinitionFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var defs []DefinitionFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" {
			continue
		}
		fileDefs, err := loadGoDefinitionFile(filepath.Join(trimmed, entry.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, fileDefs...)
	}
	if len(defs) == 0 {
		return nil, nil
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Path < defs[j].Path })
	return defs, nil
}

func loadGoDefinitionFile(path string) ([]DefinitionFile, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, fmt.Errorf("plugin: %s is empty", path)
	}

	i := interp.New(interp.Options{})
	i.Use(stdlib.Symbols)
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("plugin: interpret %s: %w", path, err)
	}
	symbol, err := i.Eval(goDefinitionSymbol)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s must declare %s: %w", path, goDefinitionSymbol, err)
	}
	raws, err := resolveDefinitions(symbol)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}

	files := make([]DefinitionFile, 0, len(raws))
	for idx, raw := range raws {
		// Round-trip through YAML so the Go maps hit the same decode and
		// validation path as file-based definitions.
		payload, err := yaml.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s definition[%d]: %w", path, idx, err)
		}
		parsed, err := ParseDefinitionYAML(payload)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s definition[%d]: %w", path, idx, err)
		}
		files = append(files, DefinitionFile{Definition: parsed, Path: fmt.Sprintf("%s#%d", path, idx+1)})
	}
	return files, nil
}

// resolveDefinitions accepts the evaluated symbol as a function or a plain
// slice value and returns the raw definition maps.
func resolveDefinitions(value reflect.Value) ([]map[string]any, error) {
	if !value.IsValid() {
		return nil, fmt.Errorf("missing %s", goDefinitionSymbol)
	}
	if value.Kind() == reflect.Func {
		results := value.Call(nil)
		switch len(results) {
		case 1:
		case 2:
			if !results[1].IsNil() {
				e, ok := results[1].Interface().(error)
				if !ok {
					return nil, fmt.Errorf("%s second return value is not an error", goDefinitionSymbol)
				}
				return nil, e
			}
		default:
			return nil, fmt.Errorf("%s must return ([]map[string]any[, error])", goDefinitionSymbol)
		}
		value = results[0]
	}
	return coerceDefinitionSlice(value)
}

func coerceDefinitionSlice(value reflect.Value) ([]map[string]any, error) {
	if defs, ok := value.Interface().([]map[string]any); ok {
		return defs, nil
	}
	if value.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%s must yield []map[string]any", goDefinitionSymbol)
	}
	out := make([]map[string]any, value.Len())
	for i := 0; i < value.Len(); i++ {
		m, ok := value.Index(i).Interface().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not map[string]any", goDefinitionSymbol, i)
		}
		out[i] = m
	}
	return out, nil
}
