package plugins

import (
	"os"
	"path/filepath"
	"testing"
)

const goPluginSource = `package main

func ModuleDefinitions() ([]map[string]any, error) {
	return []map[string]any{
		{
			"id":      "go_release",
			"version": "1.0.0",
			"params": map[string]any{
				"version": map[string]any{"type": "str", "required": true},
			},
			"check": map[string]any{"cmd": "test -d /opt/app/{{ version }}"},
			"apply": map[string]any{"cmd": "deploy.sh {{ version }}"},
		},
	}, nil
}`

func TestLoadGoDefinitionDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go-plugin.go"), []byte(goPluginSource), 0644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	defs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		t.Fatalf("load go defs: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Definition.ID != "go_release" {
		t.Fatalf("unexpected id: %+v", defs[0].Definition)
	}
	if !defs[0].Definition.Params["version"].Required {
		t.Fatalf("param spec lost: %+v", defs[0].Definition.Params)
	}
}

func TestLoadGoDefinitionVarForm(t *testing.T) {
	source := `package main

var ModuleDefinitions = []map[string]any{
	{
		"id":      "go_var",
		"version": "1.0.0",
		"check":   map[string]any{"cmd": "true"},
		"apply":   map[string]any{"cmd": "false"},
	},
}`
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "var-plugin.go"), []byte(source), 0644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	defs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		t.Fatalf("load go defs: %v", err)
	}
	if len(defs) != 1 || defs[0].Definition.ID != "go_var" {
		t.Fatalf("variable-form definition not loaded: %+v", defs)
	}
}

func TestLoadGoDefinitionDirMissingFunc(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatalf("write broken plugin: %v", err)
	}
	if _, err := LoadGoDefinitionDir(dir); err == nil {
		t.Fatalf("expected error for missing ModuleDefinitions function")
	}
}

func TestLoadGoDefinitionDirMissing(t *testing.T) {
	defs, err := LoadGoDefinitionDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if defs != nil {
		t.Fatalf("expected nil slice, got %v", defs)
	}
}
